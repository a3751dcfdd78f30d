package redis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueEqualStructural(t *testing.T) {
	a := NewArray([]Value{NewInteger(1), NewBulkString([]byte("x"))})
	b := NewArray([]Value{NewInteger(1), NewBulkString([]byte("x"))})
	c := NewArray([]Value{NewBulkString([]byte("x")), NewInteger(1)})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "element order must matter")
}

func TestValueEqualDoubleNaN(t *testing.T) {
	a := NewDouble(math.NaN())
	b := NewDouble(math.NaN())
	assert.True(t, a.Equal(b), "NaN should compare equal to NaN under Value.Equal")
}

func TestValueEqualMapPreservesOrder(t *testing.T) {
	a := NewMap([]KV{{Key: NewBulkString([]byte("a")), Val: NewInteger(1)}, {Key: NewBulkString([]byte("b")), Val: NewInteger(2)}})
	b := NewMap([]KV{{Key: NewBulkString([]byte("b")), Val: NewInteger(2)}, {Key: NewBulkString([]byte("a")), Val: NewInteger(1)}})
	assert.False(t, a.Equal(b), "Map equality is order-sensitive, not set equality")
}

func TestValuePushKind(t *testing.T) {
	v := NewPush("message", []Value{NewBulkString([]byte("message")), NewBulkString([]byte("chan")), NewBulkString([]byte("payload"))})
	assert.Equal(t, "message", v.PushKind())
	assert.Equal(t, KindPush, v.Kind)
}

func TestValueBytesPanicsOnWrongKind(t *testing.T) {
	assert.Panics(t, func() { NewInteger(1).Bytes() })
}
