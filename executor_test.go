package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedirectMoved(t *testing.T) {
	slot, host, port, err := parseRedirect("MOVED 3999 127.0.0.1:7001")
	require.NoError(t, err)
	assert.Equal(t, uint16(3999), slot)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 7001, port)
}

func TestParseRedirectAsk(t *testing.T) {
	slot, host, port, err := parseRedirect("ASK 3999 10.0.0.5:7002")
	require.NoError(t, err)
	assert.Equal(t, uint16(3999), slot)
	assert.Equal(t, "10.0.0.5", host)
	assert.Equal(t, 7002, port)
}

func TestParseRedirectMalformed(t *testing.T) {
	_, _, _, err := parseRedirect("MOVED bad")
	assert.Error(t, err)
}

func TestSplitArgsForFlatMultiKeyVerb(t *testing.T) {
	cmd := Command{Verb: "MGET", Args: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	verb, args := splitArgs(cmd, []int{0, 2})
	assert.Equal(t, "MGET", verb)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("c")}, args)
}

func TestSplitArgsForMSetPairs(t *testing.T) {
	cmd := Command{Verb: "MSET", Args: [][]byte{[]byte("k1"), []byte("v1"), []byte("k2"), []byte("v2")}}
	verb, args := splitArgs(cmd, []int{1})
	assert.Equal(t, "MSET", verb)
	assert.Equal(t, [][]byte{[]byte("k2"), []byte("v2")}, args)
}

func TestAggregateSplitPreservesOriginalKeyOrder(t *testing.T) {
	cmd := Command{Verb: "MGET", Args: [][]byte{[]byte("k1"), []byte("k2"), []byte("k3")}}
	groups := []splitGroup{
		{indices: []int{0, 2}},
		{indices: []int{1}},
	}
	results := []Value{
		NewArray([]Value{NewBulkString([]byte("v1")), NewBulkString([]byte("v3"))}),
		NewArray([]Value{NewBulkString([]byte("v2"))}),
	}
	agg := aggregateSplit(cmd, groups, results)
	els := agg.Array()
	require.Len(t, els, 3)
	assert.Equal(t, "v1", els[0].String())
	assert.Equal(t, "v2", els[1].String())
	assert.Equal(t, "v3", els[2].String())
}

func TestSumIntegersAggregatesDBSizeAcrossPrimaries(t *testing.T) {
	results := []Value{NewInteger(3), NewInteger(5), NewInteger(0)}
	assert.Equal(t, int64(8), sumIntegers(results).Int())
}
