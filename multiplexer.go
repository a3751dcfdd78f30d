package redis

import (
	"sync"
	"time"
)

// PendingRequest is one in-flight request awaiting its wire-ordered reply
// (spec.md §3). completion is invoked exactly once, from either the read
// loop (normal completion), the reaper (timeout), or connection teardown
// (connection loss).
type PendingRequest struct {
	IssuedAt   time.Time
	Deadline   time.Time
	IsPushSink bool

	completion func(Value, error)
	cancelled  bool
	completed  bool
}

func newPendingRequest(deadline time.Time, completion func(Value, error)) *PendingRequest {
	return &PendingRequest{IssuedAt: time.Now(), Deadline: deadline, completion: completion}
}

// Cancel marks the request cancelled. Per spec.md §4.3/§5, there is no
// in-band cancel in RESP: the server reply is still consumed when it
// arrives and discarded: Cancel only suppresses delivery to the caller, it
// does not desync the multiplexer FIFO.
func (p *PendingRequest) Cancel() {
	p.cancelled = true
}

// multiplexer owns one Connection's FIFO in-flight queue: registering
// PendingRequests in wire-send order, matching replies to the head of the
// queue (RESP has no request ids — order is the only correlation spec.md
// §4.3 gives us), and reaping requests past their deadline.
//
// Grounded on etsangsplk-redispipe's redisconn/conn.go future-queue/
// reader-writer pair (DESIGN.md), generalized down from redispipe's N-way
// internal connection sharding to the single in-flight FIFO spec.md's
// Connection model describes.
type multiplexer struct {
	mu      sync.Mutex
	queue   []*PendingRequest
	sem     chan struct{} // backpressure token, sized to InflightLimitPerConnection

	reaperStop chan struct{}
	reaperDone chan struct{}
}

func newMultiplexer(limit int) *multiplexer {
	if limit <= 0 {
		limit = 128
	}
	return &multiplexer{
		sem:        make(chan struct{}, limit),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Register enqueues pr at the tail of the in-flight FIFO. It blocks
// (cooperative suspension, not a busy loop) when the connection's
// inflight_limit_per_connection bound is already saturated (spec.md §4.2
// "Backpressure: bounded queue length; when full, further submissions
// wait").
func (m *multiplexer) Register(pr *PendingRequest) {
	m.sem <- struct{}{}
	m.mu.Lock()
	m.queue = append(m.queue, pr)
	m.mu.Unlock()
}

// Complete matches v (or err) to the head of the FIFO and invokes its
// completion handle, honoring spec.md §4.3: "Matching a response: pop the
// head PendingRequest and resolve it". A cancelled request's reply is
// still popped and discarded — cancellation never desyncs the queue.
func (m *multiplexer) Complete(v Value, err error) bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	pr := m.queue[0]
	m.queue = m.queue[1:]
	if pr.completed {
		m.mu.Unlock()
		return true
	}
	pr.completed = true
	m.mu.Unlock()
	<-m.sem

	if !pr.cancelled {
		pr.completion(v, err)
	}
	return true
}

// Expire removes pr from the queue (wherever it sits — not necessarily the
// head) and completes it with err, used by the reaper for a request past
// its deadline. Per spec.md §9, the connection itself must still be torn
// down afterward: once one slot's alignment is lost there's no way to know
// which later reply, if any, belongs to which remaining request.
func (m *multiplexer) Expire(pr *PendingRequest, err error) {
	m.mu.Lock()
	found := false
	for i, q := range m.queue {
		if q == pr {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			found = true
			break
		}
	}
	// pr may already be gone from the queue and already completed — e.g.
	// DrainWithError beat this call to it after a prior Expire in the same
	// reaper tick tore the connection down. Without this guard the second
	// caller would block forever on a sem token DrainWithError already
	// returned, and would invoke completion a second time.
	if !found || pr.completed {
		m.mu.Unlock()
		return
	}
	pr.completed = true
	m.mu.Unlock()
	<-m.sem
	if !pr.cancelled {
		pr.completion(Value{}, err)
	}
}

// DrainWithError completes every currently queued request with err — used
// on connection loss, where no more replies will ever arrive for requests
// already sent (spec.md §4.2 "Any → Closed").
func (m *multiplexer) DrainWithError(err error) {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()
	for _, pr := range pending {
		m.mu.Lock()
		if pr.completed {
			m.mu.Unlock()
			continue
		}
		pr.completed = true
		m.mu.Unlock()

		<-m.sem
		if !pr.cancelled {
			pr.completion(Value{}, err)
		}
	}
}

// Len reports the number of requests currently in flight.
func (m *multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// startReaper launches the background timer that reaps expired slots
// (spec.md §4.3). onExpire is called once per expired request, with the
// expectation that the caller will close the connection — per spec.md §9,
// "a subsequent reply would match the wrong request", so alignment can
// only be restored by reconnecting.
func (m *multiplexer) startReaper(interval time.Duration, onExpire func(*PendingRequest)) {
	go func() {
		defer close(m.reaperDone)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-m.reaperStop:
				return
			case now := <-t.C:
				m.reapExpired(now, onExpire)
			}
		}
	}()
}

func (m *multiplexer) reapExpired(now time.Time, onExpire func(*PendingRequest)) {
	m.mu.Lock()
	var expired []*PendingRequest
	for _, pr := range m.queue {
		if !pr.Deadline.IsZero() && now.After(pr.Deadline) {
			expired = append(expired, pr)
		}
	}
	m.mu.Unlock()
	for _, pr := range expired {
		onExpire(pr)
	}
}

// stopReaper signals the reaper goroutine to exit. It does not wait for
// the goroutine to actually finish: fail() (which calls stopReaper) can
// itself run on the reaper goroutine's own call stack (reaper fires ->
// onExpire -> fail), and blocking here would deadlock against that same
// goroutine. A reaper tick that loses the race and fires once more after
// this call is harmless — reapExpired only ever reads the (by-then
// already drained) queue under its own lock.
func (m *multiplexer) stopReaper() {
	select {
	case <-m.reaperStop:
	default:
		close(m.reaperStop)
	}
}
