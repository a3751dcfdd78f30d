package redis

import "fmt"

// parseClusterSlots builds a Topology from a CLUSTER SLOTS reply (spec.md
// §4.4, §6: "result shape is part of the server contract and must be
// parsed into the Topology model"). Each top-level array element is
// [start, end, [primary-host, primary-port, node-id, ...], [replica...],
// ...].
func parseClusterSlots(reply Value) (*Topology, error) {
	if reply.Kind != KindArray {
		return nil, newProtocolError("CLUSTER SLOTS reply is not an array")
	}
	t := emptyTopology()
	for _, entry := range reply.Array() {
		if entry.Kind != KindArray {
			return nil, newProtocolError("CLUSTER SLOTS entry is not an array")
		}
		els := entry.Array()
		if len(els) < 3 {
			return nil, newProtocolError("CLUSTER SLOTS entry too short")
		}
		start := uint16(els[0].Int())
		end := uint16(els[1].Int())

		primary, err := parseSlotNode(els[2], RolePrimary, "")
		if err != nil {
			return nil, err
		}
		primary.Slots = append(primary.Slots, SlotRange{start, end})
		if existing, ok := t.Nodes[primary.ID]; ok {
			existing.Slots = append(existing.Slots, SlotRange{start, end})
		} else {
			t.Nodes[primary.ID] = primary
		}
		for slot := start; ; slot++ {
			t.slotOwner[slot] = primary.ID
			if slot == end {
				break
			}
		}

		for _, r := range els[3:] {
			replica, err := parseSlotNode(r, RoleReplica, primary.ID)
			if err != nil {
				return nil, err
			}
			if _, ok := t.Nodes[replica.ID]; !ok {
				t.Nodes[replica.ID] = replica
			}
		}
	}
	return t, nil
}

func parseSlotNode(v Value, role NodeRole, primaryID string) (*Node, error) {
	if v.Kind != KindArray {
		return nil, newProtocolError("CLUSTER SLOTS node descriptor is not an array")
	}
	els := v.Array()
	if len(els) < 2 {
		return nil, newProtocolError("CLUSTER SLOTS node descriptor too short")
	}
	host := els[0].String()
	port := int(els[1].Int())
	id := fmt.Sprintf("%s:%d", host, port)
	if len(els) >= 3 && els[2].Kind == KindBulkString {
		if nodeID := els[2].String(); nodeID != "" {
			id = nodeID
		}
	}
	n := newNode(id, host, port, role)
	n.PrimaryID = primaryID
	return n, nil
}

// parseClusterShards builds a Topology from a CLUSTER SHARDS reply, used
// when available in place of CLUSTER SLOTS because it additionally
// carries each node's AZ tag (spec.md §4.4, §6). Each entry is a map-like
// array alternating field name / value, with "slots" and "nodes" keys.
func parseClusterShards(reply Value) (*Topology, error) {
	if reply.Kind != KindArray {
		return nil, newProtocolError("CLUSTER SHARDS reply is not an array")
	}
	t := emptyTopology()
	for _, shard := range reply.Array() {
		fields, err := arrayToFields(shard)
		if err != nil {
			return nil, err
		}
		slots := fields["slots"]
		nodes := fields["nodes"]
		if slots.Kind != KindArray || nodes.Kind != KindArray {
			return nil, newProtocolError("CLUSTER SHARDS entry missing slots/nodes")
		}

		var primaryID string
		var ranges []SlotRange
		slotEls := slots.Array()
		for i := 0; i+1 < len(slotEls); i += 2 {
			ranges = append(ranges, SlotRange{
				Start: uint16(slotEls[i].Int()),
				End:   uint16(slotEls[i+1].Int()),
			})
		}

		for _, nodeVal := range nodes.Array() {
			nf, err := arrayToFields(nodeVal)
			if err != nil {
				return nil, err
			}
			id := nf["id"].String()
			host := nf["endpoint"].String()
			port := int(nf["port"].Int())
			role := RoleReplica
			if nf["role"].String() == "master" {
				role = RolePrimary
			}
			n := newNode(id, host, port, role)
			if v, ok := nf["az-id"]; ok {
				n.AZTag = v.String()
			}
			if role == RolePrimary {
				primaryID = id
				n.Slots = ranges
			}
			t.Nodes[id] = n
		}

		for id, n := range t.Nodes {
			if n.Role == RoleReplica && n.PrimaryID == "" {
				n.PrimaryID = primaryID
				_ = id
			}
		}
		for _, r := range ranges {
			for slot := r.Start; ; slot++ {
				t.slotOwner[slot] = primaryID
				if slot == r.End {
					break
				}
			}
		}
	}
	return t, nil
}

// arrayToFields converts a RESP2-style flat array ["k1", v1, "k2", v2,
// ...] or a RESP3 Map into a field lookup, since CLUSTER SHARDS may be
// delivered either way depending on negotiated protocol.
func arrayToFields(v Value) (map[string]Value, error) {
	out := make(map[string]Value)
	switch v.Kind {
	case KindMap:
		for _, kv := range v.Map() {
			out[kv.Key.String()] = kv.Val
		}
	case KindArray:
		els := v.Array()
		for i := 0; i+1 < len(els); i += 2 {
			out[els[i].String()] = els[i+1]
		}
	default:
		return nil, newProtocolError("expected map or array for CLUSTER SHARDS fields")
	}
	return out, nil
}
