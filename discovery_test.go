package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClusterSlotsReply(t *testing.T) {
	reply := NewArray([]Value{
		NewArray([]Value{
			NewInteger(0), NewInteger(5460),
			NewArray([]Value{NewBulkString([]byte("127.0.0.1")), NewInteger(7000), NewBulkString([]byte("node-1"))}),
			NewArray([]Value{NewBulkString([]byte("127.0.0.1")), NewInteger(7003), NewBulkString([]byte("node-1-replica"))}),
		}),
	})

	topo, err := parseClusterSlots(reply)
	require.NoError(t, err)
	primary := topo.PrimaryFor(100)
	require.NotNil(t, primary)
	assert.Equal(t, "node-1", primary.ID)
	assert.Equal(t, 7000, primary.Port)
	assert.Len(t, topo.ReplicasFor(100), 1)
}

func TestParseClusterShardsReply(t *testing.T) {
	reply := NewArray([]Value{
		NewArray([]Value{
			NewBulkString([]byte("slots")),
			NewArray([]Value{NewInteger(0), NewInteger(5460)}),
			NewBulkString([]byte("nodes")),
			NewArray([]Value{
				NewArray([]Value{
					NewBulkString([]byte("id")), NewBulkString([]byte("node-1")),
					NewBulkString([]byte("endpoint")), NewBulkString([]byte("127.0.0.1")),
					NewBulkString([]byte("port")), NewInteger(7000),
					NewBulkString([]byte("role")), NewBulkString([]byte("master")),
					NewBulkString([]byte("az-id")), NewBulkString([]byte("az-1")),
				}),
			}),
		}),
	})

	topo, err := parseClusterShards(reply)
	require.NoError(t, err)
	primary := topo.PrimaryFor(100)
	require.NotNil(t, primary)
	assert.Equal(t, "az-1", primary.AZTag)
}
