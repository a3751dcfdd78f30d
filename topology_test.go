package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTopology() *Topology {
	t := emptyTopology()
	primary := newNode("node-a", "10.0.0.1", 7000, RolePrimary)
	primary.Slots = []SlotRange{{0, 8191}}
	replica := newNode("node-a-replica", "10.0.0.2", 7000, RoleReplica)
	replica.PrimaryID = "node-a"
	t.Nodes[primary.ID] = primary
	t.Nodes[replica.ID] = replica
	for s := uint16(0); s <= 8191; s++ {
		t.slotOwner[s] = primary.ID
	}
	return t
}

func TestTopologyPrimaryAndReplicaLookup(t *testing.T) {
	topo := buildTestTopology()
	assert.Equal(t, "node-a", topo.PrimaryFor(100).ID)
	replicas := topo.ReplicasFor(100)
	require.Len(t, replicas, 1)
	assert.Equal(t, "node-a-replica", replicas[0].ID)
}

func TestTopologyUnknownSlotHasNoOwner(t *testing.T) {
	topo := buildTestTopology()
	assert.Nil(t, topo.PrimaryFor(9000))
}

func TestTopologyWithMovedIsAuthoritativeForSingleSlot(t *testing.T) {
	topo := buildTestTopology()
	moved := topo.withMoved(5000, "10.0.0.9", 7002)
	assert.Equal(t, "10.0.0.9:7002", moved.PrimaryFor(5000).ID)
	// unaffected slots keep their prior owner
	assert.Equal(t, "node-a", moved.PrimaryFor(100).ID)
	// the original topology is untouched (immutability)
	assert.Nil(t, topo.PrimaryFor(5000))
}

func TestTopologyCacheRefreshBumpsEpochAndGeneration(t *testing.T) {
	calls := 0
	cache := newTopologyCache(func() (*Topology, error) {
		calls++
		return buildTestTopology(), nil
	})
	require.NoError(t, cache.Refresh())
	first := cache.Snapshot()
	assert.Equal(t, uint64(1), first.Epoch)

	require.NoError(t, cache.Refresh())
	second := cache.Snapshot()
	assert.Equal(t, uint64(2), second.Epoch)
	assert.Equal(t, 2, calls)
}

func TestTopologyCacheApplyMovedDoesNotBumpEpoch(t *testing.T) {
	cache := newTopologyCache(func() (*Topology, error) { return buildTestTopology(), nil })
	require.NoError(t, cache.Refresh())
	before := cache.Snapshot().Epoch

	cache.ApplyMoved(5000, "10.0.0.9", 7002)
	after := cache.Snapshot()
	assert.Equal(t, before, after.Epoch)
	assert.Equal(t, "10.0.0.9:7002", after.PrimaryFor(5000).ID)
}
