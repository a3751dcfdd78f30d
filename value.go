// Package redis provides a client runtime for a Redis/Valkey-compatible
// key-value service: connection management, RESP2/RESP3 wire codec,
// pipelined multiplexing, cluster topology tracking, command routing, and
// retry/failover policy. See <https://redis.io/topics/introduction> for the
// concept.
package redis

import (
	"fmt"
	"math"
)

// Kind identifies the concrete shape carried by a Value.
type Kind uint8

// Value kinds, one per RESP2/RESP3 wire type.
const (
	KindNil Kind = iota
	KindSimpleString
	KindBulkString
	KindError
	KindInteger
	KindDouble
	KindBoolean
	KindBigNumber
	KindArray
	KindMap
	KindSet
	KindVerbatimString
	KindPush
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindSimpleString:
		return "simple-string"
	case KindBulkString:
		return "bulk-string"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindBoolean:
		return "boolean"
	case KindBigNumber:
		return "big-number"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindVerbatimString:
		return "verbatim-string"
	case KindPush:
		return "push"
	default:
		return "unknown"
	}
}

// KV is a single Map entry. Order of arrival is preserved by Value.Map.
type KV struct {
	Key, Val Value
}

// Value is the sum type for any RESP reply, spanning RESP2 and RESP3: Nil,
// SimpleString, BulkString, Error, Integer, Double, Boolean, BigNumber,
// Array, Map, Set, VerbatimString, and Push. Map and Set preserve arrival
// order. Keys and bulk values are byte sequences — UTF-8 is never assumed.
//
// Equality is structural: two Values produced from isomorphic wire frames
// compare equal field by field.
type Value struct {
	Kind Kind

	str   []byte // SimpleString, BulkString, BigNumber (decimal text), VerbatimString payload
	err   ServerError
	i     int64
	f     float64
	b     bool
	arr   []Value // Array, Set, Push.Data
	kv    []KV    // Map
	vfmt  string  // VerbatimString format ("txt", "mkd", ...)
	pkind string  // Push first element (e.g. "message")
}

// Nil is the RESP nil value (RESP2 `$-1`/`*-1`, RESP3 `_`).
var Nil = Value{Kind: KindNil}

// NewSimpleString builds a SimpleString Value (RESP `+`).
func NewSimpleString(s string) Value { return Value{Kind: KindSimpleString, str: []byte(s)} }

// NewBulkString builds a BulkString Value (RESP `$`).
func NewBulkString(b []byte) Value { return Value{Kind: KindBulkString, str: b} }

// NewError builds an Error Value (RESP `-`).
func NewError(e ServerError) Value { return Value{Kind: KindError, err: e} }

// NewInteger builds an Integer Value (RESP `:`).
func NewInteger(i int64) Value { return Value{Kind: KindInteger, i: i} }

// NewDouble builds a Double Value (RESP3 `,`).
func NewDouble(f float64) Value { return Value{Kind: KindDouble, f: f} }

// NewBoolean builds a Boolean Value (RESP3 `#`).
func NewBoolean(b bool) Value { return Value{Kind: KindBoolean, b: b} }

// NewBigNumber builds a BigNumber Value (RESP3 `(`); decimal is the
// unparsed digit string, since big numbers may exceed int64/uint64 range.
func NewBigNumber(decimal string) Value { return Value{Kind: KindBigNumber, str: []byte(decimal)} }

// NewArray builds an Array Value (RESP `*`).
func NewArray(vs []Value) Value { return Value{Kind: KindArray, arr: vs} }

// NewMap builds a Map Value (RESP3 `%`); order of entries is preserved.
func NewMap(kv []KV) Value { return Value{Kind: KindMap, kv: kv} }

// NewSet builds a Set Value (RESP3 `~`); order of arrival is preserved.
func NewSet(vs []Value) Value { return Value{Kind: KindSet, arr: vs} }

// NewVerbatimString builds a VerbatimString Value (RESP3 `=`).
func NewVerbatimString(format string, payload []byte) Value {
	return Value{Kind: KindVerbatimString, vfmt: format, str: payload}
}

// NewPush builds a Push Value (RESP3 `>`): a server-initiated frame not
// tied to a pending request. kind is the frame's first element
// ("message", "pmessage", "smessage", "subscribe", ...).
func NewPush(kind string, data []Value) Value {
	return Value{Kind: KindPush, pkind: kind, arr: data}
}

// IsNil reports whether v is the Nil value.
func (v Value) IsNil() bool { return v.Kind == KindNil }

// Bytes returns the raw bytes for BulkString, SimpleString, BigNumber (as
// decimal text), and VerbatimString values. It panics for any other Kind —
// callers must check Kind (or use the expected_decoding hint on the
// originating Command) before calling it.
func (v Value) Bytes() []byte {
	switch v.Kind {
	case KindBulkString, KindSimpleString, KindBigNumber, KindVerbatimString:
		return v.str
	default:
		panic(fmt.Sprintf("redis: Value.Bytes on %s", v.Kind))
	}
}

// String decodes Bytes as UTF-8. Binary-unsafe callers should use Bytes
// instead; Command.ExpectedDecoding governs which one a binding reaches
// for by default.
func (v Value) String() string { return string(v.Bytes()) }

// Int returns the Integer payload. It panics for any other Kind.
func (v Value) Int() int64 {
	if v.Kind != KindInteger {
		panic(fmt.Sprintf("redis: Value.Int on %s", v.Kind))
	}
	return v.i
}

// Float returns the Double payload. It panics for any other Kind.
func (v Value) Float() float64 {
	if v.Kind != KindDouble {
		panic(fmt.Sprintf("redis: Value.Float on %s", v.Kind))
	}
	return v.f
}

// Bool returns the Boolean payload. It panics for any other Kind.
func (v Value) Bool() bool {
	if v.Kind != KindBoolean {
		panic(fmt.Sprintf("redis: Value.Bool on %s", v.Kind))
	}
	return v.b
}

// Error returns the ServerError payload. It panics for any other Kind.
func (v Value) Error() ServerError {
	if v.Kind != KindError {
		panic(fmt.Sprintf("redis: Value.Error on %s", v.Kind))
	}
	return v.err
}

// Array returns the element slice for Array, Set, and Push values. It
// panics for any other Kind.
func (v Value) Array() []Value {
	switch v.Kind {
	case KindArray, KindSet, KindPush:
		return v.arr
	default:
		panic(fmt.Sprintf("redis: Value.Array on %s", v.Kind))
	}
}

// Map returns the entry slice for a Map value. It panics for any other
// Kind.
func (v Value) Map() []KV {
	if v.Kind != KindMap {
		panic(fmt.Sprintf("redis: Value.Map on %s", v.Kind))
	}
	return v.kv
}

// VerbatimFormat returns the three-letter format tag ("txt", "mkd", ...)
// of a VerbatimString value. It panics for any other Kind.
func (v Value) VerbatimFormat() string {
	if v.Kind != KindVerbatimString {
		panic(fmt.Sprintf("redis: Value.VerbatimFormat on %s", v.Kind))
	}
	return v.vfmt
}

// PushKind returns the first element of a Push value ("message",
// "pmessage", "smessage", "subscribe", ...). It panics for any other Kind.
func (v Value) PushKind() string {
	if v.Kind != KindPush {
		panic(fmt.Sprintf("redis: Value.PushKind on %s", v.Kind))
	}
	return v.pkind
}

// Equal reports structural equality, per spec: Map and Set compare by
// arrival order, not as unordered collections.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindSimpleString, KindBulkString, KindBigNumber:
		return bytesEqual(v.str, o.str)
	case KindVerbatimString:
		return v.vfmt == o.vfmt && bytesEqual(v.str, o.str)
	case KindError:
		return v.err == o.err
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBoolean:
		return v.b == o.b
	case KindArray, KindSet, KindPush:
		if v.Kind == KindPush && v.pkind != o.pkind {
			return false
		}
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.kv) != len(o.kv) {
			return false
		}
		for i := range v.kv {
			if !v.kv[i].Key.Equal(o.kv[i].Key) || !v.kv[i].Val.Equal(o.kv[i].Val) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
