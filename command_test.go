package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferredKeyPositionsSingleKey(t *testing.T) {
	keys := inferredKeyPositions("GET", [][]byte{[]byte("k1")})
	assert.Equal(t, [][]byte{[]byte("k1")}, keys)
}

func TestInferredKeyPositionsMultiKey(t *testing.T) {
	keys := inferredKeyPositions("MGET", [][]byte{[]byte("k1"), []byte("k2"), []byte("k3")})
	assert.Len(t, keys, 3)
}

func TestInferredKeyPositionsMSetAlternates(t *testing.T) {
	keys := inferredKeyPositions("MSET", [][]byte{[]byte("k1"), []byte("v1"), []byte("k2"), []byte("v2")})
	assert.Equal(t, [][]byte{[]byte("k1"), []byte("k2")}, keys)
}

func TestInferredKeyPositionsNoKeyVerb(t *testing.T) {
	keys := inferredKeyPositions("PING", nil)
	assert.Nil(t, keys)
}

func TestCommandKeysUsesExplicitPositions(t *testing.T) {
	cmd := Command{
		Verb:         "GEORADIUS",
		Args:         [][]byte{[]byte("opt"), []byte("thekey")},
		KeyPositions: ExplicitKeys(1),
	}
	assert.Equal(t, [][]byte{[]byte("thekey")}, cmd.keys())
}

func TestNewCommandDefaultsToInferredAndAuto(t *testing.T) {
	cmd := NewCommand("GET", []byte("k"))
	assert.True(t, cmd.KeyPositions.Inferred)
	assert.Equal(t, Auto, cmd.Routing.Kind)
}

func TestNewTransactionIsAtomicAndRaises(t *testing.T) {
	b := NewTransaction(NewCommand("SET", []byte("k"), []byte("v")))
	assert.True(t, b.Atomic)
	assert.True(t, b.RaiseOnError)
}
