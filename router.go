package redis

import (
	"math/rand"
	"sync"
	"time"
)

// target is one resolved destination for a Command or Batch attempt:
// either a single node (the common case) or, for AllPrimaries/AllNodes
// policies, one of several fan-out targets (spec.md §4.5).
type target struct {
	node    *Node
	slot    uint16
	asking  bool // true when this attempt follows an ASK redirect
	replica bool
}

// splitGroup is one slot's worth of keys/arg-indices carved out of a
// splittable multi-key command (spec.md §4.5 "Splitting multi-key
// commands").
type splitGroup struct {
	t       target
	indices []int // positions, within the original key list, of the keys routed to t
}

// router resolves a Command/Batch's RoutingPolicy against a Topology
// snapshot into one or more targets, and tracks per-slot round-robin
// cursors for replica-preferring read strategies.
//
// Grounded on yiippee-go-redis-note's cmdSlotAndNode/slotMasterNode/
// slotSlaveNode/slotRandomNode/slotClosestNode family (DESIGN.md):
// spec.md's four ReadStrategy values map directly onto that file's node-
// selection branches, generalized from its hardcoded per-command slot
// lookup into the KeyPositions-driven model spec.md §3 describes.
type router struct {
	mu      sync.Mutex
	cursors map[uint16]int // slot -> next replica index, for PreferReplica round robin
	rng     *rand.Rand     // cheap PRNG seeded per client (spec.md §4.5 "Random" policy)

	readStrategy ReadStrategy
	clientAZ     string
}

func newRouter(strategy ReadStrategy, clientAZ string) *router {
	return &router{
		cursors:      make(map[uint16]int),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		readStrategy: strategy,
		clientAZ:     clientAZ,
	}
}

// resolveCommand resolves a single Command's targets (spec.md §4.5). A
// splittable multi-key command whose keys span more than one slot returns
// multiple splitGroups; everything else returns exactly one.
func (r *router) resolveCommand(cmd Command, topo *Topology) ([]splitGroup, error) {
	switch cmd.Routing.Kind {
	case ByKey:
		t, err := r.resolveBySlot(Slot(cmd.Routing.Key), topo, cmd.Routing.PreferReplica)
		if err != nil {
			return nil, err
		}
		return []splitGroup{{t: t}}, nil
	case BySlotID:
		t, err := r.resolveBySlot(cmd.Routing.SlotID, topo, cmd.Routing.PreferReplica)
		if err != nil {
			return nil, err
		}
		return []splitGroup{{t: t}}, nil
	case ByAddress:
		n := findNodeByAddr(topo, cmd.Routing.Host, cmd.Routing.Port)
		if n == nil {
			return nil, &RoutingError{Kind: NoNodeForSlot}
		}
		return []splitGroup{{t: target{node: n}}}, nil
	case AllPrimaries, AllNodes:
		return r.resolveFanout(cmd.Routing.Kind, topo)
	case Random:
		n := r.randomNode(topo)
		if n == nil {
			return nil, &RoutingError{Kind: NoNodeForSlot}
		}
		return []splitGroup{{t: target{node: n}}}, nil
	default: // Auto
		return r.resolveAuto(cmd, topo)
	}
}

func (r *router) resolveAuto(cmd Command, topo *Topology) ([]splitGroup, error) {
	cat := categoryOf(cmd.Verb)
	keys := cmd.keys()

	switch cat {
	case categoryAllPrimaries, categoryAllPrimariesSum:
		return r.resolveFanout(AllPrimaries, topo)
	case categoryRandom:
		n := r.randomNode(topo)
		if n == nil {
			return nil, &RoutingError{Kind: NoNodeForSlot}
		}
		return []splitGroup{{t: target{node: n}}}, nil
	}

	if len(keys) == 0 {
		n := r.randomNode(topo)
		if n == nil {
			return nil, &RoutingError{Kind: NoNodeForSlot}
		}
		return []splitGroup{{t: target{node: n}}}, nil
	}

	preferReplica := isReadCategory(cmd.Verb)
	if len(keys) == 1 {
		t, err := r.resolveBySlot(Slot(keys[0]), topo, preferReplica)
		if err != nil {
			return nil, err
		}
		return []splitGroup{{t: t, indices: []int{0}}}, nil
	}

	// multi-key: group by slot.
	bySlot := make(map[uint16][]int)
	order := make([]uint16, 0, 4)
	for i, k := range keys {
		slot := Slot(k)
		if _, ok := bySlot[slot]; !ok {
			order = append(order, slot)
		}
		bySlot[slot] = append(bySlot[slot], i)
	}

	if len(bySlot) == 1 {
		t, err := r.resolveBySlot(order[0], topo, preferReplica)
		if err != nil {
			return nil, err
		}
		return []splitGroup{{t: t, indices: bySlot[order[0]]}}, nil
	}

	if !splittableVerbs[cmd.Verb] {
		return nil, &RoutingError{Kind: CrossSlot}
	}

	groups := make([]splitGroup, 0, len(order))
	for _, slot := range order {
		t, err := r.resolveBySlot(slot, topo, preferReplica)
		if err != nil {
			return nil, err
		}
		groups = append(groups, splitGroup{t: t, indices: bySlot[slot]})
	}
	return groups, nil
}

// resolveBatch resolves a Batch's single target, atomic or not: every key
// in every command, plus WatchKeys, must hash to the same slot (spec.md
// §4.5, §4.6).
func (r *router) resolveBatch(b Batch, topo *Topology) (target, error) {
	var slot uint16
	have := false
	check := func(k []byte) error {
		s := Slot(k)
		if !have {
			slot, have = s, true
			return nil
		}
		if s != slot {
			return &RoutingError{Kind: AtomicCrossSlot}
		}
		return nil
	}
	for _, cmd := range b.Commands {
		for _, k := range cmd.keys() {
			if err := check(k); err != nil {
				return target{}, err
			}
		}
	}
	for _, k := range b.WatchKeys {
		if err := check(k); err != nil {
			return target{}, err
		}
	}
	if !have {
		n := r.randomNode(topo)
		if n == nil {
			return target{}, &RoutingError{Kind: NoNodeForSlot}
		}
		return target{node: n}, nil
	}
	return r.resolveBySlot(slot, topo, false)
}

func (r *router) resolveBySlot(slot uint16, topo *Topology, preferReplica bool) (target, error) {
	primary := topo.PrimaryFor(slot)
	if primary == nil {
		return target{}, &RoutingError{Kind: NoNodeForSlot}
	}
	if !preferReplica {
		return target{node: primary, slot: slot}, nil
	}

	replicas := healthyReplicas(topo.ReplicasFor(slot))
	switch r.readStrategy {
	case PrimaryOnly:
		return target{node: primary, slot: slot}, nil
	case PreferReplica:
		if n := r.pickRoundRobin(slot, replicas); n != nil {
			return target{node: n, slot: slot, replica: true}, nil
		}
		return target{node: primary, slot: slot}, nil
	case AzAffinity:
		if n := pickByAZ(replicas, r.clientAZ); n != nil {
			return target{node: n, slot: slot, replica: true}, nil
		}
		if n := r.pickRoundRobin(slot, replicas); n != nil {
			return target{node: n, slot: slot, replica: true}, nil
		}
		return target{node: primary, slot: slot}, nil
	case AzAffinityReplicasAndPrimary:
		candidates := append(append([]*Node{}, replicas...), primary)
		if n := pickByAZ(candidates, r.clientAZ); n != nil {
			return target{node: n, slot: slot, replica: n.Role == RoleReplica}, nil
		}
		if n := r.pickRoundRobin(slot, replicas); n != nil {
			return target{node: n, slot: slot, replica: true}, nil
		}
		return target{node: primary, slot: slot}, nil
	default:
		return target{node: primary, slot: slot}, nil
	}
}

func (r *router) pickRoundRobin(slot uint16, replicas []*Node) *Node {
	if len(replicas) == 0 {
		return nil
	}
	r.mu.Lock()
	idx := r.cursors[slot] % len(replicas)
	r.cursors[slot] = idx + 1
	r.mu.Unlock()
	return replicas[idx]
}

func (r *router) resolveFanout(kind RoutingPolicyKind, topo *Topology) ([]splitGroup, error) {
	var nodes []*Node
	if kind == AllNodes {
		nodes = topo.All()
	} else {
		nodes = topo.Primaries()
	}
	if len(nodes) == 0 {
		return nil, &RoutingError{Kind: NoNodeForSlot}
	}
	groups := make([]splitGroup, 0, len(nodes))
	for _, n := range nodes {
		groups = append(groups, splitGroup{t: target{node: n}})
	}
	return groups, nil
}

func healthyReplicas(in []*Node) []*Node {
	out := make([]*Node, 0, len(in))
	for _, n := range in {
		if n.Health() == Healthy {
			out = append(out, n)
		}
	}
	return out
}

func pickByAZ(nodes []*Node, az string) *Node {
	if az == "" {
		return nil
	}
	for _, n := range nodes {
		if n.AZTag == az {
			return n
		}
	}
	return nil
}

func (r *router) randomNode(topo *Topology) *Node {
	nodes := topo.All()
	if len(nodes) == 0 {
		return nil
	}
	r.mu.Lock()
	idx := r.rng.Intn(len(nodes))
	r.mu.Unlock()
	return nodes[idx]
}

func findNodeByAddr(topo *Topology, host string, port int) *Node {
	for _, n := range topo.All() {
		if n.Host == host && n.Port == port {
			return n
		}
	}
	return nil
}
