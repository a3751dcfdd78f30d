package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTripSimpleTypes(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Value
	}{
		{"simple-string", "+OK\r\n", NewSimpleString("OK")},
		{"integer", ":1000\r\n", NewInteger(1000)},
		{"negative-integer", ":-1\r\n", NewInteger(-1)},
		{"bulk-string", "$5\r\nhello\r\n", NewBulkString([]byte("hello"))},
		{"nil-bulk", "$-1\r\n", Nil},
		{"nil-resp3", "_\r\n", Nil},
		{"boolean-true", "#t\r\n", NewBoolean(true)},
		{"double", ",3.14\r\n", NewDouble(3.14)},
		{"double-inf", ",inf\r\n", NewDouble(posInfForTest())},
		{"big-number", "(3492890328409238509324850943850943825024385\r\n", NewBigNumber("3492890328409238509324850943850943825024385")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := decode([]byte(tc.wire), DefaultLimits)
			require.Equal(t, decodeOK, res.Status)
			assert.True(t, tc.want.Equal(res.Value))
			assert.Equal(t, len(tc.wire), res.Consumed)
		})
	}
}

func posInfForTest() float64 {
	f, _ := parseDouble([]byte("inf"))
	return f
}

func TestDecodeArrayAndMap(t *testing.T) {
	res := decode([]byte("*2\r\n$3\r\nfoo\r\n:7\r\n"), DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	want := NewArray([]Value{NewBulkString([]byte("foo")), NewInteger(7)})
	assert.True(t, want.Equal(res.Value))

	res = decode([]byte("%1\r\n$3\r\nfoo\r\n:7\r\n"), DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	wantMap := NewMap([]KV{{Key: NewBulkString([]byte("foo")), Val: NewInteger(7)}})
	assert.True(t, wantMap.Equal(res.Value))
}

// TestDecodeResumableAcrossArbitrarySplits feeds the same frame byte by
// byte and checks decode reports Incomplete (never Malformed, never
// partial consumption) until the final byte arrives.
func TestDecodeResumableAcrossArbitrarySplits(t *testing.T) {
	frame := []byte("*3\r\n$3\r\nfoo\r\n:42\r\n$-1\r\n")
	for i := 1; i < len(frame); i++ {
		res := decode(frame[:i], DefaultLimits)
		assert.Equal(t, decodeIncomplete, res.Status, "prefix of length %d should be incomplete", i)
		assert.Equal(t, 0, res.Consumed)
	}
	res := decode(frame, DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	assert.Equal(t, len(frame), res.Consumed)
}

func TestDecodeMalformedBareLF(t *testing.T) {
	res := decode([]byte("+OK\n"), DefaultLimits)
	assert.Equal(t, decodeMalformed, res.Status)
}

func TestDecodeErrorParsesKind(t *testing.T) {
	res := decode([]byte("-MOVED 1234 127.0.0.1:7001\r\n"), DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	require.Equal(t, KindError, res.Value.Kind)
	assert.Equal(t, KindMoved, res.Value.Error().Kind)
}

func TestDecodeVerbatimString(t *testing.T) {
	res := decode([]byte("=15\r\ntxt:Some string\r\n"), DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	assert.Equal(t, "txt", res.Value.VerbatimFormat())
	assert.Equal(t, "Some string", res.Value.String())
}

func TestDecodePushFrame(t *testing.T) {
	res := decode([]byte(">3\r\n$7\r\nmessage\r\n$4\r\nchan\r\n$5\r\nhello\r\n"), DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	require.Equal(t, KindPush, res.Value.Kind)
	assert.Equal(t, "message", res.Value.PushKind())
}

func TestDecodeRejectsOversizedBulk(t *testing.T) {
	limits := Limits{MaxFrameSize: 4, MaxNestDepth: 8}
	res := decode([]byte("$100\r\n"), limits)
	assert.Equal(t, decodeMalformed, res.Status)
}

func TestEncodeCommandProducesArrayOfBulkStrings(t *testing.T) {
	frame := encode("SET", [][]byte{[]byte("k"), []byte("v")})
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", string(frame))
}

func TestDecodeInlineCommandLegacy(t *testing.T) {
	res := decode([]byte("PING\r\n"), DefaultLimits)
	require.Equal(t, decodeOK, res.Status)
	require.Equal(t, KindArray, res.Value.Kind)
	els := res.Value.Array()
	require.Len(t, els, 1)
	assert.Equal(t, "PING", els[0].String())
}
