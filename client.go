package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is the top-level entry point (spec.md §6): construct with
// NewClient or NewClusterClient, issue Commands/Batches with
// Execute/ExecuteBatch, manage pub/sub with Subscribe/Unsubscribe, and
// release resources with Close.
type Client struct {
	id     string
	cfg    Config
	logger *zap.Logger

	registry   *subscriptionRegistry
	pool       *connPool
	router     *router
	topo       *topologyCache
	executor   *Executor

	periodicStop chan struct{}
	closed       chan struct{}
}

// NewClient constructs a standalone (non-cluster) Client against a single
// node (spec.md §4.8, §6).
func NewClient(cfg Config) (*Client, error) {
	cfg.ClusterMode = false
	return newClient(cfg)
}

// NewClusterClient constructs a cluster-aware Client that discovers its
// topology from the seed addresses via CLUSTER SHARDS/CLUSTER SLOTS
// (spec.md §4.4, §6).
func NewClusterClient(cfg Config) (*Client, error) {
	cfg.ClusterMode = true
	return newClient(cfg)
}

func newClient(cfg Config) (*Client, error) {
	cfg = defaultConfig(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		id:           uuid.NewString(),
		cfg:          cfg,
		logger:       cfg.Logger,
		registry:     newSubscriptionRegistry(),
		periodicStop: make(chan struct{}),
		closed:       make(chan struct{}),
	}
	c.pool = newConnPool(cfg, c.registry, c.onInvalidate)
	c.topo = newTopologyCache(c.discover)
	c.router = newRouter(cfg.ReadFromStrategy, cfg.ClientAZ)
	c.executor = NewExecutor(c.pool, c.router, c.topo, cfg)

	if !cfg.LazyConnect {
		if err := c.topo.Refresh(); err != nil {
			return nil, err
		}
	}
	if cfg.PeriodicTopologyCheckInterval > 0 {
		go c.periodicRefresh()
	}

	c.logger.Info("client constructed", zap.String("client_id", c.id), zap.Bool("cluster_mode", cfg.ClusterMode))
	return c, nil
}

// discover builds a Topology from the configured seed addresses (spec.md
// §4.4): CLUSTER SHARDS (preferred, carries AZ tags) falling back to
// CLUSTER SLOTS when unavailable, or a synthetic single-node topology
// owning every slot in standalone mode.
func (c *Client) discover() (*Topology, error) {
	var lastErr error
	for _, addr := range c.cfg.Addresses {
		host, port, err := splitAddr(addr)
		if err != nil {
			lastErr = err
			continue
		}
		seed := newNode(addr, host, port, RolePrimary)

		if !c.cfg.ClusterMode {
			t := emptyTopology()
			for slot := 0; slot < SlotCount; slot++ {
				t.slotOwner[slot] = seed.ID
			}
			seed.Slots = []SlotRange{{0, SlotCount - 1}}
			t.Nodes[seed.ID] = seed
			return t, nil
		}

		conn, err := c.pool.Get(context.Background(), seed)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err := c.executor.roundTrip(context.Background(), seed, encode("CLUSTER", [][]byte{[]byte("SHARDS")}), false, c.cfg.ConnectionTimeout)
		if err == nil && reply.Kind != KindError {
			_ = conn
			return parseClusterShards(reply)
		}
		reply, err = c.executor.roundTrip(context.Background(), seed, encode("CLUSTER", [][]byte{[]byte("SLOTS")}), false, c.cfg.ConnectionTimeout)
		if err == nil && reply.Kind != KindError {
			return parseClusterSlots(reply)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = newConnectionError("", context.DeadlineExceeded)
	}
	return nil, lastErr
}

func (c *Client) periodicRefresh() {
	t := time.NewTicker(c.cfg.PeriodicTopologyCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-c.periodicStop:
			return
		case <-t.C:
			if err := c.topo.Refresh(); err != nil {
				c.logger.Warn("periodic topology refresh failed", zap.Error(err))
			}
		}
	}
}

// onInvalidate is invoked by the push dispatcher on a RESP3 `invalidate`
// notification (spec.md §4.7). The runtime holds no client-side cache; it
// logs the notification and refreshes the topology cache in the
// background, since the dispatcher runs on a connection's read loop that
// the refresh's own round trips depend on.
func (c *Client) onInvalidate() {
	c.logger.Debug("cache invalidation notification received")
	go func() {
		if err := c.topo.Refresh(); err != nil {
			c.logger.Warn("topology refresh after invalidation failed", zap.Error(err))
		}
	}()
}

// Execute runs a single Command (spec.md §6).
func (c *Client) Execute(ctx context.Context, cmd Command) (Value, error) {
	select {
	case <-c.closed:
		return Value{}, ErrClosed
	default:
	}
	return c.executor.Execute(ctx, cmd)
}

// ExecuteBatch runs a Batch (pipeline or transaction) (spec.md §6).
func (c *Client) ExecuteBatch(ctx context.Context, b Batch) ([]Value, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	return c.executor.ExecuteBatch(ctx, b)
}

// Subscribe registers sink for kind/channelOrPattern, issuing the matching
// SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE against every currently known primary
// (cluster mode delivers sharded pub/sub per-shard) and remembering it so
// it is reissued after any reconnect (spec.md §4.7, §6).
func (c *Client) Subscribe(ctx context.Context, kind SubscriptionKind, channelOrPattern string, sink Sink) error {
	sub := &Subscription{Kind: kind, ChannelOrPattern: channelOrPattern, sink: sink}
	c.registry.register(sub)

	verb := map[SubscriptionKind]string{Exact: "SUBSCRIBE", Pattern: "PSUBSCRIBE", Sharded: "SSUBSCRIBE"}[kind]
	targets := c.subscribeTargets(kind, channelOrPattern)
	for _, n := range targets {
		conn, err := c.pool.Get(ctx, n)
		if err != nil {
			return err
		}
		if _, err := c.executor.roundTrip(ctx, n, encode(verb, [][]byte{[]byte(channelOrPattern)}), false, c.cfg.ConnectionTimeout); err != nil {
			return err
		}
		_ = conn
	}
	return nil
}

// Unsubscribe reverses Subscribe (spec.md §4.7, §6).
func (c *Client) Unsubscribe(ctx context.Context, kind SubscriptionKind, channelOrPattern string) error {
	c.registry.unregister(kind, channelOrPattern)
	verb := map[SubscriptionKind]string{Exact: "UNSUBSCRIBE", Pattern: "PUNSUBSCRIBE", Sharded: "SUNSUBSCRIBE"}[kind]
	for _, n := range c.subscribeTargets(kind, channelOrPattern) {
		if _, err := c.executor.roundTrip(ctx, n, encode(verb, [][]byte{[]byte(channelOrPattern)}), false, c.cfg.ConnectionTimeout); err != nil {
			return err
		}
	}
	return nil
}

// subscribeTargets picks which primaries a (un)subscribe must reach:
// sharded subscriptions target only the slot-owning primary, exact and
// pattern subscriptions are cluster-wide and must reach every primary
// (spec.md §4.7).
func (c *Client) subscribeTargets(kind SubscriptionKind, channelOrPattern string) []*Node {
	topo := c.topo.Snapshot()
	if kind == Sharded {
		if n := topo.PrimaryFor(Slot([]byte(channelOrPattern))); n != nil {
			return []*Node{n}
		}
		return nil
	}
	return topo.Primaries()
}

// Close releases every pooled Connection and stops background goroutines
// (spec.md §6).
func (c *Client) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	close(c.periodicStop)
	c.pool.CloseAll()
	return nil
}

func splitAddr(addr string) (string, int, error) {
	idx := lastColon(addr)
	if idx < 0 {
		return "", 0, newConfigError("invalid address %q: missing port", addr)
	}
	host := addr[:idx]
	portStr := addr[idx+1:]
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, newConfigError("invalid address %q: %v", addr, err)
	}
	return host, port, nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func parsePort(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, newConfigError("empty port")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, newConfigError("non-numeric port %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
