package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobMatchStar(t *testing.T) {
	assert.True(t, globMatch("news.*", "news.tech"))
	assert.False(t, globMatch("news.*", "sport.tech"))
	assert.True(t, globMatch("*", "anything"))
}

func TestGlobMatchQuestionMark(t *testing.T) {
	assert.True(t, globMatch("h?llo", "hello"))
	assert.False(t, globMatch("h?llo", "heello"))
}

func TestGlobMatchCharClass(t *testing.T) {
	assert.True(t, globMatch("h[ae]llo", "hello"))
	assert.True(t, globMatch("h[ae]llo", "hallo"))
	assert.False(t, globMatch("h[ae]llo", "hillo"))
	assert.True(t, globMatch("h[^e]llo", "hallo"))
	assert.False(t, globMatch("h[^e]llo", "hello"))
}

func TestGlobMatchCharRange(t *testing.T) {
	assert.True(t, globMatch("[a-c]at", "bat"))
	assert.False(t, globMatch("[a-c]at", "rat"))
}

func TestGlobMatchEscape(t *testing.T) {
	assert.True(t, globMatch(`\*literal`, "*literal"))
}

func TestSubscriptionRegistryRoundTrip(t *testing.T) {
	reg := newSubscriptionRegistry()
	sub := &Subscription{Kind: Exact, ChannelOrPattern: "room1"}
	reg.register(sub)
	assert.Same(t, sub, reg.exactMatch("room1"))
	assert.Len(t, reg.all(), 1)

	reg.unregister(Exact, "room1")
	assert.Nil(t, reg.exactMatch("room1"))
	assert.Empty(t, reg.all())
}

func TestPushDispatcherDeliversExactMessage(t *testing.T) {
	reg := newSubscriptionRegistry()
	received := make(chan PubSubMessage, 1)
	reg.register(&Subscription{Kind: Exact, ChannelOrPattern: "room1", sink: Sink{Queue: received}})

	d := newPushDispatcher(reg, nil)
	d.Dispatch(NewPush("message", []Value{NewBulkString([]byte("message")), NewBulkString([]byte("room1")), NewBulkString([]byte("hi"))}))

	msg := <-received
	assert.Equal(t, "room1", msg.Channel)
	assert.Equal(t, []byte("hi"), msg.Payload)
}

func TestPushDispatcherDeliversPatternMessageWithPattern(t *testing.T) {
	reg := newSubscriptionRegistry()
	received := make(chan PubSubMessage, 1)
	reg.register(&Subscription{Kind: Pattern, ChannelOrPattern: "news.*", sink: Sink{Queue: received}})

	d := newPushDispatcher(reg, nil)
	d.Dispatch(NewPush("pmessage", []Value{
		NewBulkString([]byte("pmessage")),
		NewBulkString([]byte("news.*")),
		NewBulkString([]byte("news.tech")),
		NewBulkString([]byte("payload")),
	}))

	msg := <-received
	assert.Equal(t, "news.*", msg.Pattern)
	assert.Equal(t, "news.tech", msg.Channel)
}

func TestPushDispatcherInvalidateCallback(t *testing.T) {
	called := false
	d := newPushDispatcher(newSubscriptionRegistry(), func() { called = true })
	d.Dispatch(NewPush("invalidate", nil))
	assert.True(t, called)
}
