package redis

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

func newRNG() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }

// Executor runs Commands and Batches against the cluster: resolving
// targets via router, dispatching over pool, and handling the
// MOVED/ASK/TRYAGAIN/CLUSTERDOWN/LOADING retry and redirect policy spec.md
// §4.4, §4.6 describe.
//
// Grounded on yiippee-go-redis-note's command-dispatch retry loop (its
// handling of "MOVED"/"ASK"/"CLUSTERDOWN" prefixes around doCmd), combined
// with the teacher's timeout-always-recycles-connection rule, extended with
// errgroup/multierror fan-out for AllPrimaries/AllNodes/split commands per
// SPEC_FULL.md's DOMAIN STACK.
type Executor struct {
	pool   *connPool
	router *router
	topo   *topologyCache
	cfg    Config
}

func NewExecutor(pool *connPool, rt *router, topo *topologyCache, cfg Config) *Executor {
	return &Executor{pool: pool, router: rt, topo: topo, cfg: cfg}
}

type roundTripResult struct {
	v   Value
	err error
}

// roundTrip sends frame to node and waits for its matched reply, honoring
// ctx cancellation and ASKING prefixing (spec.md §4.3, §4.4).
func (e *Executor) roundTrip(ctx context.Context, node *Node, frame []byte, asking bool, timeout time.Duration) (Value, error) {
	conn, err := e.pool.Get(ctx, node)
	if err != nil {
		return Value{}, err
	}
	if asking {
		if _, err := e.roundTrip(ctx, node, encode("ASKING", nil), false, timeout); err != nil {
			return Value{}, err
		}
	}

	ch := make(chan roundTripResult, 1)
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	pr := newPendingRequest(deadline, func(v Value, err error) {
		select {
		case ch <- roundTripResult{v, err}:
		default:
		}
	})
	if err := conn.Submit(frame, pr); err != nil {
		return Value{}, err
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		pr.Cancel()
		return Value{}, Cancelled
	}
}

// Execute runs a single Command end to end: routing, retries, redirects,
// and (for splittable multi-key commands) per-slot fan-out with
// original-key-order reassembly (spec.md §4.5 "aggregated preserving the
// original key order", an explicit Open Question resolution recorded in
// DESIGN.md).
func (e *Executor) Execute(ctx context.Context, cmd Command) (Value, error) {
	timeout := cmd.TimeoutOverride
	if timeout == 0 {
		timeout = e.cfg.RequestTimeout
	}

	groups, err := e.router.resolveCommand(cmd, e.topo.Snapshot())
	if err != nil {
		return Value{}, err
	}

	// A single resolved group is never a fan-out, whether or not the
	// router tagged it with indices (a single-key command still carries
	// indices:[]int{0} — see resolveAuto, where indices only ever marks
	// which keys went where across *multiple* groups). With one group
	// there is nothing to carve up or aggregate, so the original verb and
	// args go straight through unmodified, and the raw reply goes
	// straight back — untouched by aggregateSplit's assumption that every
	// per-group reply is an Array, which doesn't hold for GET/SET/EXISTS
	// and the like.
	if len(groups) == 1 {
		return e.executeOnTarget(ctx, cmd.Verb, cmd.Args, groups[0].t, timeout)
	}

	// fan-out: either a split multi-key command (aggregate by key order)
	// or an AllPrimaries/AllNodes broadcast (aggregate as an array in
	// resolution order).
	results := make([]Value, len(groups))
	errs := make([]error, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			verb, args := cmd.Verb, cmd.Args
			if grp.indices != nil {
				verb, args = splitArgs(cmd, grp.indices)
			}
			v, err := e.executeOnTarget(gctx, verb, args, grp.t, timeout)
			results[i] = v
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var agg *multierror.Error
	for _, err := range errs {
		if err != nil {
			agg = multierror.Append(agg, err)
		}
	}
	if agg != nil {
		return Value{}, agg.ErrorOrNil()
	}

	if groups[0].indices != nil {
		return aggregateSplit(cmd, groups, results), nil
	}
	if categoryOf(cmd.Verb) == categoryAllPrimariesSum {
		return sumIntegers(results), nil
	}
	return NewArray(results), nil
}

// splitArgs rebuilds a verb's argument list using only the keys at
// indices, for MGET/DEL/UNLINK/EXISTS/TOUCH-shaped commands where every
// argument is a key, or the key/value pairs for MSET-shaped commands.
func splitArgs(cmd Command, indices []int) (string, [][]byte) {
	switch cmd.Verb {
	case "MSET", "MSETNX":
		args := make([][]byte, 0, len(indices)*2)
		for _, i := range indices {
			pos := i * 2
			args = append(args, cmd.Args[pos], cmd.Args[pos+1])
		}
		return cmd.Verb, args
	default:
		args := make([][]byte, 0, len(indices))
		for _, i := range indices {
			args = append(args, cmd.Args[i])
		}
		return cmd.Verb, args
	}
}

// sumIntegers adds up Integer replies from several targets: an
// AllPrimaries fan-out's per-node replies for verbs like DBSIZE, whose
// category table entry requests sum aggregation rather than a bare
// per-node array (spec.md §4.5), and the per-slot counts of a split
// DEL/UNLINK/EXISTS/TOUCH.
func sumIntegers(results []Value) Value {
	var total int64
	for _, v := range results {
		if v.Kind == KindInteger {
			total += v.Int()
		}
	}
	return NewInteger(total)
}

// aggregateSplit combines a split command's per-group replies (spec.md
// §4.5, §8): array replies (MGET) are reassembled in original key order,
// integer counts (DEL/UNLINK/EXISTS/TOUCH) are summed, and MSET-style
// commands return a single status reply.
func aggregateSplit(cmd Command, groups []splitGroup, results []Value) Value {
	total := 0
	for _, g := range groups {
		total += len(g.indices)
	}
	out := make([]Value, total)
	switch cmd.Verb {
	case "MSET", "MSETNX":
		// write commands with no per-key reply shape: return the last
		// group's status reply, since all groups must succeed identically.
		if len(results) > 0 {
			return results[len(results)-1]
		}
		return Value{}
	case "DEL", "UNLINK", "EXISTS", "TOUCH":
		// each group replies with its own count; the total is their sum.
		return sumIntegers(results)
	default:
		for gi, g := range groups {
			replyEls := results[gi].Array()
			for j, idx := range g.indices {
				if j < len(replyEls) {
					out[idx] = replyEls[j]
				}
			}
		}
		return NewArray(out)
	}
}

// executeOnTarget runs one command attempt against t, retrying per
// cfg.RetryStrategy and following MOVED/ASK/TRYAGAIN/CLUSTERDOWN/LOADING
// redirects (spec.md §4.4, §4.6).
func (e *Executor) executeOnTarget(ctx context.Context, verb string, args [][]byte, t target, timeout time.Duration) (Value, error) {
	frame := encode(verb, args)
	node := t.node
	asking := t.asking
	rng := newRNG()

	for attempt := 0; ; attempt++ {
		v, err := e.roundTrip(ctx, node, frame, asking, timeout)
		asking = false
		if err != nil {
			if attempt >= e.cfg.RetryStrategy.MaxAttempts {
				return Value{}, err
			}
			if !e.sleep(ctx, backoffDelay(e.cfg.RetryStrategy, attempt, rng)) {
				return Value{}, Cancelled
			}
			continue
		}

		if v.Kind != KindError {
			return v, nil
		}
		se := v.Error()
		if !se.Kind.internalOnly() {
			return v, nil
		}
		if attempt >= e.cfg.RetryStrategy.MaxAttempts {
			return v, nil
		}

		switch se.Kind {
		case KindMoved:
			slot, host, port, perr := parseRedirect(se.Message)
			if perr != nil {
				return v, nil
			}
			e.topo.ApplyMoved(slot, host, port)
			node = e.resolveRedirectNode(host, port)
			continue
		case KindAsk:
			_, host, port, perr := parseRedirect(se.Message)
			if perr != nil {
				return v, nil
			}
			node = e.resolveRedirectNode(host, port)
			asking = true
			continue
		case KindTryAgain, KindLoading:
			if !e.sleep(ctx, backoffDelay(e.cfg.RetryStrategy, attempt, rng)) {
				return Value{}, Cancelled
			}
			continue
		case KindClusterDown:
			if !e.sleep(ctx, backoffDelay(e.cfg.RetryStrategy, attempt, rng)) {
				return Value{}, Cancelled
			}
			_ = e.topo.Refresh()
			node = t.node
			continue
		default:
			return v, nil
		}
	}
}

func (e *Executor) resolveRedirectNode(host string, port int) *Node {
	if n := findNodeByAddr(e.topo.Snapshot(), host, port); n != nil {
		return n
	}
	return newNode(host+":"+strconv.Itoa(port), host, port, RolePrimary)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseRedirect splits a "MOVED <slot> <host>:<port>" or "ASK <slot>
// <host>:<port>" message into its parts (spec.md §4.4).
func parseRedirect(msg string) (slot uint16, host string, port int, err error) {
	fields := strings.Fields(msg)
	if len(fields) < 3 {
		return 0, "", 0, newProtocolError("malformed redirect %q", msg)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", 0, err
	}
	addr := fields[2]
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return 0, "", 0, newProtocolError("malformed redirect address %q", addr)
	}
	p, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0, "", 0, err
	}
	return uint16(n), addr[:idx], p, nil
}

// ExecuteBatch runs a Batch: a pipeline (each command run in turn on the
// batch's resolved node, replies collected in order) or, when Atomic, a
// MULTI/...queued.../EXEC transaction on that node (spec.md §4.6). Both
// kinds resolve one node through resolveBatch, so a non-atomic batch whose
// keys span more than one slot is rejected with AtomicCrossSlot as well.
func (e *Executor) ExecuteBatch(ctx context.Context, b Batch) ([]Value, error) {
	timeout := b.TimeoutOverride
	if timeout == 0 {
		timeout = e.cfg.RequestTimeout
	}

	t, err := e.router.resolveBatch(b, e.topo.Snapshot())
	if err != nil {
		return nil, err
	}

	if !b.Atomic {
		return e.executePipeline(ctx, b, t, timeout)
	}
	return e.executeTransaction(ctx, b, t, timeout)
}

func (e *Executor) executePipeline(ctx context.Context, b Batch, t target, timeout time.Duration) ([]Value, error) {
	out := make([]Value, len(b.Commands))
	var agg *multierror.Error
	for i, cmd := range b.Commands {
		v, err := e.executeOnTarget(ctx, cmd.Verb, cmd.Args, t, timeout)
		out[i] = v
		if err != nil {
			if b.RaiseOnError {
				return nil, err
			}
			agg = multierror.Append(agg, err)
			continue
		}
		if v.Kind == KindError && b.RaiseOnError {
			return out, v.Error()
		}
	}
	if agg != nil {
		return out, agg.ErrorOrNil()
	}
	return out, nil
}

func (e *Executor) executeTransaction(ctx context.Context, b Batch, t target, timeout time.Duration) ([]Value, error) {
	conn, err := e.pool.Get(ctx, t.node)
	if err != nil {
		return nil, err
	}

	// WATCH must precede MULTI: Redis/Valkey rejects "WATCH inside MULTI"
	// (spec.md §4.6 "WATCH keys must hash to the same slot as the batch
	// keys" presumes WATCH actually takes effect).
	for _, k := range b.WatchKeys {
		if _, err := e.roundTrip(ctx, t.node, encode("WATCH", [][]byte{k}), false, timeout); err != nil {
			return nil, err
		}
	}
	if _, err := e.roundTrip(ctx, t.node, encode("MULTI", nil), false, timeout); err != nil {
		return nil, err
	}
	for _, cmd := range b.Commands {
		if _, err := e.roundTrip(ctx, t.node, encode(cmd.Verb, cmd.Args), false, timeout); err != nil {
			e.roundTrip(ctx, t.node, encode("DISCARD", nil), false, timeout)
			return nil, err
		}
	}
	reply, err := e.roundTrip(ctx, t.node, encode("EXEC", nil), false, timeout)
	_ = conn
	if err != nil {
		return nil, err
	}
	if reply.IsNil() {
		return nil, newProtocolError("transaction aborted: watched key changed")
	}
	if reply.Kind != KindArray {
		return nil, newProtocolError("EXEC reply is not an array")
	}
	return reply.Array(), nil
}
