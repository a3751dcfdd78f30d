package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexerCompletesInFIFOOrder(t *testing.T) {
	m := newMultiplexer(8)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		pr := newPendingRequest(time.Time{}, func(v Value, err error) { order = append(order, i) })
		m.Register(pr)
	}
	for i := 0; i < 3; i++ {
		require.True(t, m.Complete(NewInteger(int64(i)), nil))
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestMultiplexerBackpressureBlocksUntilCapacityFrees(t *testing.T) {
	m := newMultiplexer(1)
	done := make(chan struct{})
	pr1 := newPendingRequest(time.Time{}, func(Value, error) {})
	m.Register(pr1)

	go func() {
		pr2 := newPendingRequest(time.Time{}, func(Value, error) {})
		m.Register(pr2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Register should have blocked while capacity is exhausted")
	case <-time.After(30 * time.Millisecond):
	}

	m.Complete(Value{}, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Register never unblocked after capacity freed")
	}
}

func TestMultiplexerCancelSuppressesDeliveryWithoutDesync(t *testing.T) {
	m := newMultiplexer(4)
	var got []Value
	pr1 := newPendingRequest(time.Time{}, func(v Value, err error) { got = append(got, v) })
	pr2 := newPendingRequest(time.Time{}, func(v Value, err error) { got = append(got, v) })
	m.Register(pr1)
	m.Register(pr2)
	pr1.Cancel()

	require.True(t, m.Complete(NewInteger(1), nil))
	require.True(t, m.Complete(NewInteger(2), nil))

	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Int())
}

func TestMultiplexerDrainWithErrorCompletesAllPending(t *testing.T) {
	m := newMultiplexer(4)
	errs := make([]error, 0, 2)
	for i := 0; i < 2; i++ {
		pr := newPendingRequest(time.Time{}, func(v Value, err error) { errs = append(errs, err) })
		m.Register(pr)
	}
	m.DrainWithError(errConnLost)
	assert.Len(t, errs, 2)
	assert.Equal(t, 0, m.Len())
}

func TestMultiplexerReaperExpiresOverdueRequests(t *testing.T) {
	m := newMultiplexer(4)
	expired := make(chan *PendingRequest, 1)
	pr := newPendingRequest(time.Now().Add(-time.Millisecond), func(Value, error) {})
	m.Register(pr)

	m.startReaper(10*time.Millisecond, func(p *PendingRequest) { expired <- p })
	defer m.stopReaper()

	select {
	case p := <-expired:
		assert.Same(t, pr, p)
	case <-time.After(time.Second):
		t.Fatal("reaper never expired the overdue request")
	}
}
