package redis

import (
	"context"
	"sync"
)

// connPool lazily dials and caches one Connection per Node, redialing
// whenever the cached Connection has failed (spec.md §4.2 "one Connection
// is maintained per reachable Node"). It is the thing that actually owns
// reconnect pacing, via Connection.reconnectDelay.
type connPool struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	attempts map[string]int

	cfg          Config
	registry     *subscriptionRegistry
	onInvalidate func()
}

func newConnPool(cfg Config, registry *subscriptionRegistry, onInvalidate func()) *connPool {
	return &connPool{
		conns:        make(map[string]*Connection),
		attempts:     make(map[string]int),
		cfg:          cfg,
		registry:     registry,
		onInvalidate: onInvalidate,
	}
}

// Get returns a Ready Connection to node, dialing (or redialing, if the
// cached Connection has since failed) as needed.
func (p *connPool) Get(ctx context.Context, node *Node) (*Connection, error) {
	p.mu.Lock()
	conn, ok := p.conns[node.ID]
	if ok && conn.State() != Closed {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	p.mu.Lock()
	attempt := p.attempts[node.ID]
	p.mu.Unlock()

	conn = NewConnection(node, p.cfg, p.registry, p.onInvalidate)
	if attempt > 0 {
		// a previously cached Connection for this node has failed:
		// pace the redial per spec.md §4.6's backoff policy instead of
		// hammering a node that may be down or failing over.
		conn.reconnectDelay(attempt - 1)
	}
	if err := conn.Dial(ctx); err != nil {
		node.SetHealth(Dead)
		p.mu.Lock()
		p.attempts[node.ID] = attempt + 1
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.conns[node.ID] = conn
	p.attempts[node.ID] = 0
	p.mu.Unlock()
	return conn, nil
}

// CloseAll closes every cached Connection (spec.md §6 Client.Close).
func (p *connPool) CloseAll() {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Evict drops nodeID's cached Connection and closes it in the background,
// forcing the next Get to redial even if the old Connection still looks
// Ready.
func (p *connPool) Evict(nodeID string) {
	p.mu.Lock()
	if c, ok := p.conns[nodeID]; ok {
		delete(p.conns, nodeID)
		go c.Close()
	}
	p.mu.Unlock()
}
