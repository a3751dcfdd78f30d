package redis

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// NodeRole distinguishes a primary (writable shard master) from its
// replicas (read-capable followers) (spec.md §3, glossary).
type NodeRole uint8

const (
	RolePrimary NodeRole = iota
	RoleReplica
)

// NodeHealth tracks a Node's liveness as observed by the connection pool
// (spec.md §3).
type NodeHealth uint8

const (
	Healthy NodeHealth = iota
	Reconnecting
	Dead
)

// SlotRange is an inclusive [Start, End] range of owned slots.
type SlotRange struct{ Start, End uint16 }

func (r SlotRange) contains(slot uint16) bool { return slot >= r.Start && slot <= r.End }

// Node is one cluster member: its identity, address, role, optional AZ
// tag, owned slot ranges (primaries only), and health (spec.md §3).
//
// Node carries a generation counter, mirrored from yiippee-go-redis-note's
// clusterNode.generation/SetGeneration (see DESIGN.md): topologyCache.Refresh
// sets it to 1 for a node id new to the topology and to the previous
// value plus one for a node id already present. The connection pool does
// not consult it; pooled Connections are keyed by node id alone.
type Node struct {
	ID      string
	Host    string
	Port    int
	Role    NodeRole
	AZTag   string
	Slots   []SlotRange
	health  atomic.Uint32 // NodeHealth
	generation atomic.Uint32

	// PrimaryID links a Replica back to its Primary's node id; empty for
	// primaries (spec.md §3 "replicas are reachable through their
	// Primary's node record").
	PrimaryID string
}

func newNode(id, host string, port int, role NodeRole) *Node {
	n := &Node{ID: id, Host: host, Port: port, Role: role}
	n.health.Store(uint32(Healthy))
	return n
}

// Addr formats the node's dial address.
func (n *Node) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

// Health returns the node's current health.
func (n *Node) Health() NodeHealth { return NodeHealth(n.health.Load()) }

// SetHealth updates the node's health.
func (n *Node) SetHealth(h NodeHealth) { n.health.Store(uint32(h)) }

func (n *Node) ownsSlot(slot uint16) bool {
	for _, r := range n.Slots {
		if r.contains(slot) {
			return true
		}
	}
	return false
}

// Topology is an immutable slot→node snapshot (spec.md §3). Every slot
// maps to exactly one Primary; replicas are reachable only through their
// Primary's node record.
type Topology struct {
	// slotOwner[slot] is the owning primary's node id, or "" if unknown.
	slotOwner [SlotCount]string
	Nodes     map[string]*Node
	Epoch     uint64
}

func emptyTopology() *Topology {
	return &Topology{Nodes: make(map[string]*Node)}
}

// PrimaryFor returns the Node owning slot, or nil if unknown. slotOwner and
// each Node's Slots are maintained as two separate pieces of bookkeeping
// (see withMoved); ownsSlot is the consistency check between them, so a
// construction bug that updates one without the other surfaces as "unknown
// owner" rather than a silently wrong target.
func (t *Topology) PrimaryFor(slot uint16) *Node {
	id := t.slotOwner[slot]
	if id == "" {
		return nil
	}
	n := t.Nodes[id]
	if n == nil || !n.ownsSlot(slot) {
		return nil
	}
	return n
}

// ReplicasFor returns the replicas of slot's owning primary.
func (t *Topology) ReplicasFor(slot uint16) []*Node {
	primary := t.PrimaryFor(slot)
	if primary == nil {
		return nil
	}
	var out []*Node
	for _, n := range t.Nodes {
		if n.Role == RoleReplica && n.PrimaryID == primary.ID {
			out = append(out, n)
		}
	}
	return out
}

// Primaries returns every primary node.
func (t *Topology) Primaries() []*Node {
	var out []*Node
	for _, n := range t.Nodes {
		if n.Role == RolePrimary {
			out = append(out, n)
		}
	}
	return out
}

// All returns every node.
func (t *Topology) All() []*Node {
	out := make([]*Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		out = append(out, n)
	}
	return out
}

// withMoved returns a shallow copy of t with slot's owner updated to a
// (possibly new) node at addr, per spec.md §4.4/§9: "the MOVED host as
// authoritative for the single slot until refresh completes". It does not
// bump Epoch — a MOVED mutation is a point fix, not a full refresh.
func (t *Topology) withMoved(slot uint16, host string, port int) *Topology {
	next := &Topology{Nodes: make(map[string]*Node, len(t.Nodes)), Epoch: t.Epoch}
	next.slotOwner = t.slotOwner
	for id, n := range t.Nodes {
		next.Nodes[id] = n
	}

	id := host + ":" + fmt.Sprint(port)
	prevNode, ok := next.Nodes[id]
	var node *Node
	if !ok {
		node = newNode(id, host, port, RolePrimary)
		node.Slots = []SlotRange{{slot, slot}}
	} else {
		// Clone rather than mutate prevNode in place: it may still be
		// referenced by a Topology snapshot an in-flight request holds
		// (spec.md §5 "readers obtain a snapshot ... and use it for the
		// duration of that attempt").
		clone := *prevNode
		clone.Slots = append(append([]SlotRange(nil), prevNode.Slots...), SlotRange{slot, slot})
		node = &clone
	}
	next.Nodes[id] = node
	next.slotOwner[slot] = id
	return next
}

// topologyCache holds the live immutable Topology snapshot behind an
// atomically-swapped pointer (spec.md §5 "the live pointer is swapped
// under a lightweight synchronization"), grounded on
// yiippee-go-redis-note's clusterStateHolder (atomic.Value + LazyReload),
// reimplemented with go.uber.org/atomic per SPEC_FULL.md's DOMAIN STACK.
type topologyCache struct {
	mu        sync.Mutex // serializes refresh(); readers never block on it
	current   atomic.Value
	refreshFn func() (*Topology, error)
}

func newTopologyCache(refreshFn func() (*Topology, error)) *topologyCache {
	c := &topologyCache{refreshFn: refreshFn}
	c.current.Store(emptyTopology())
	return c
}

// Snapshot returns the current Topology. Callers obtain a snapshot at the
// start of a request and use it for the duration of that attempt (spec.md
// §5).
func (c *topologyCache) Snapshot() *Topology {
	return c.current.Load().(*Topology)
}

// Refresh runs refreshFn and publishes the result atomically. Concurrent
// Refresh calls are serialized, and each call runs refreshFn itself: a
// burst of calls is not coalesced into a single discovery round trip.
func (c *topologyCache) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.refreshFn()
	if err != nil {
		return err
	}
	prev := c.Snapshot()
	next.Epoch = prev.Epoch + 1
	for id, n := range next.Nodes {
		if old, ok := prev.Nodes[id]; ok {
			n.generation.Store(old.generation.Load() + 1)
		} else {
			n.generation.Store(1)
		}
	}
	c.current.Store(next)
	return nil
}

// ApplyMoved mutates the cache for a single-slot MOVED redirect without a
// full refresh (spec.md §4.4).
func (c *topologyCache) ApplyMoved(slot uint16, host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.Snapshot().withMoved(slot, host, port)
	c.current.Store(next)
}
