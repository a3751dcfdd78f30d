package redis

import "sync"

// SubscriptionKind discriminates exact-channel, pattern, and sharded
// subscriptions (spec.md §3).
type SubscriptionKind uint8

const (
	Exact SubscriptionKind = iota
	Pattern
	Sharded
)

// Sink receives delivered pub/sub payloads: either a Callback invoked on a
// dedicated worker, or a Queue appended to. Exactly one of Callback/Queue
// should be set (spec.md §3 "sink: callback|queue").
type Sink struct {
	Callback func(PubSubMessage)
	Queue    chan<- PubSubMessage
}

// PubSubMessage is the decoded payload handed to a Subscription's sink
// (spec.md §8 scenario 5).
type PubSubMessage struct {
	Kind    SubscriptionKind
	Channel string
	Pattern string // set when Kind == Pattern
	Payload []byte
}

// Subscription is one registered channel/pattern/sharded-channel interest.
// The client re-issues SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE on every reconnect
// so the server-side subscription set matches the client-side set (spec.md
// §3).
type Subscription struct {
	Kind             SubscriptionKind
	ChannelOrPattern string
	sink             Sink
}

// subscriptionRegistry is a concurrent map guarded for consistency across
// register/unregister/iterate (spec.md §5). Grounded on
// galaxyed-centrifugo's engineredis Subscribe/Unsubscribe/
// handleRedisClientMessage dispatch-by-channel pattern, generalized from a
// single-process hub to a per-Client registry.
type subscriptionRegistry struct {
	mu       sync.RWMutex
	exact    map[string]*Subscription
	sharded  map[string]*Subscription
	patterns map[string]*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		exact:    make(map[string]*Subscription),
		sharded:  make(map[string]*Subscription),
		patterns: make(map[string]*Subscription),
	}
}

func (r *subscriptionRegistry) register(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch sub.Kind {
	case Exact:
		r.exact[sub.ChannelOrPattern] = sub
	case Sharded:
		r.sharded[sub.ChannelOrPattern] = sub
	case Pattern:
		r.patterns[sub.ChannelOrPattern] = sub
	}
}

func (r *subscriptionRegistry) unregister(kind SubscriptionKind, channelOrPattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case Exact:
		delete(r.exact, channelOrPattern)
	case Sharded:
		delete(r.sharded, channelOrPattern)
	case Pattern:
		delete(r.patterns, channelOrPattern)
	}
}

// all returns a snapshot of every active subscription, used to reissue the
// full set after a reconnect (spec.md §3, §8 "After reconnect, the set of
// active subscriptions on the new connection equals the client-side
// Subscription registry").
func (r *subscriptionRegistry) all() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.exact)+len(r.sharded)+len(r.patterns))
	for _, s := range r.exact {
		out = append(out, s)
	}
	for _, s := range r.sharded {
		out = append(out, s)
	}
	for _, s := range r.patterns {
		out = append(out, s)
	}
	return out
}

func (r *subscriptionRegistry) exactMatch(channel string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exact[channel]
}

func (r *subscriptionRegistry) shardedMatch(channel string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sharded[channel]
}

func (r *subscriptionRegistry) patternMatch(channel string) (*Subscription, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pattern, s := range r.patterns {
		if globMatch(pattern, channel) {
			return s, pattern
		}
	}
	return nil, ""
}

// pushDispatcher routes server-initiated push frames (RESP3 `>`) to
// subscription sinks, and forwards cluster notifications to the topology
// cache for refresh (spec.md §4.7).
type pushDispatcher struct {
	registry *subscriptionRegistry
	onInvalidate func()
}

func newPushDispatcher(registry *subscriptionRegistry, onInvalidate func()) *pushDispatcher {
	return &pushDispatcher{registry: registry, onInvalidate: onInvalidate}
}

// Dispatch handles one decoded Push Value. Callback panics are isolated so
// they never affect the read loop (spec.md §4.7).
func (d *pushDispatcher) Dispatch(v Value) {
	if v.Kind != KindPush {
		return
	}
	switch v.PushKind() {
	case "message":
		d.deliverExact(v)
	case "smessage":
		d.deliverSharded(v)
	case "pmessage":
		d.deliverPattern(v)
	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe", "ssubscribe", "sunsubscribe":
		// subscription count bookkeeping only; no payload to deliver.
	case "invalidate":
		if d.onInvalidate != nil {
			d.onInvalidate()
		}
	default:
		// unrecognized push kinds (future server extensions) are ignored,
		// not treated as protocol errors.
	}
}

func (d *pushDispatcher) deliverExact(v Value) {
	els := v.Array()
	if len(els) < 3 {
		return
	}
	channel := els[1].String()
	sub := d.registry.exactMatch(channel)
	if sub == nil {
		return
	}
	deliver(sub.sink, PubSubMessage{Kind: Exact, Channel: channel, Payload: els[2].Bytes()})
}

func (d *pushDispatcher) deliverSharded(v Value) {
	els := v.Array()
	if len(els) < 3 {
		return
	}
	channel := els[1].String()
	sub := d.registry.shardedMatch(channel)
	if sub == nil {
		return
	}
	deliver(sub.sink, PubSubMessage{Kind: Sharded, Channel: channel, Payload: els[2].Bytes()})
}

func (d *pushDispatcher) deliverPattern(v Value) {
	els := v.Array()
	if len(els) < 4 {
		return
	}
	channel := els[2].String()
	sub, pattern := d.registry.patternMatch(channel)
	if sub == nil {
		return
	}
	deliver(sub.sink, PubSubMessage{Kind: Pattern, Channel: channel, Pattern: pattern, Payload: els[3].Bytes()})
}

func deliver(sink Sink, msg PubSubMessage) {
	if sink.Callback != nil {
		go func() {
			defer func() { _ = recover() }()
			sink.Callback(msg)
		}()
		return
	}
	if sink.Queue != nil {
		select {
		case sink.Queue <- msg:
		default:
			// bounded queue full: drop rather than block the read loop.
		}
	}
}

// globMatch replicates the server's glob semantics client-side (`*`, `?`,
// `[...]`, `\` escape), per spec.md §4.7. Hand-written: no pack repo ships
// Redis-compatible glob matching as retrievable source (tidwall-redcon
// depends on tidwall/match, but that module's source was not part of the
// retrieval pack) — a justified stdlib-only corner, recorded in
// DESIGN.md.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchBytes(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		case '[':
			if len(s) == 0 {
				return false
			}
			end := indexByte(pattern, ']')
			if end < 0 {
				// unterminated class: match literally
				if s[0] != '[' {
					return false
				}
				s = s[1:]
				pattern = pattern[1:]
				continue
			}
			class := pattern[1:end]
			negate := false
			if len(class) > 0 && class[0] == '^' {
				negate = true
				class = class[1:]
			}
			if matchClass(class, s[0]) == negate {
				return false
			}
			s = s[1:]
			pattern = pattern[end+1:]
		case '\\':
			if len(pattern) > 1 {
				pattern = pattern[1:]
			}
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		}
	}
	return len(s) == 0
}

func matchClass(class []byte, c byte) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == c {
			return true
		}
	}
	return false
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
