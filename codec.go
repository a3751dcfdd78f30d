package redis

import (
	"math"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Limits bound frame size and nesting depth (spec.md §4.1): exceeding
// either yields MalformedFrame and drops the connection.
type Limits struct {
	MaxFrameSize  int
	MaxNestDepth  int
}

// DefaultLimits matches what a well-behaved server would never exceed in
// practice, while still bounding a misbehaving or malicious peer.
var DefaultLimits = Limits{MaxFrameSize: 512 << 20, MaxNestDepth: 64}

// decodeStatus reports how decode progressed.
type decodeStatus uint8

const (
	decodeOK decodeStatus = iota
	decodeIncomplete
	decodeMalformed
)

// decodeResult is decode's return: either a complete Value plus the number
// of bytes it consumed, or a status indicating why there is no Value yet.
type decodeResult struct {
	Value    Value
	Consumed int
	Status   decodeStatus
	Err      error
}

// decode parses one complete RESP value from buf, starting at offset 0. It
// never consumes bytes it reports as unread: on Incomplete, Consumed is
// always 0 and the caller must re-invoke decode after appending more bytes
// (spec.md §4.1 "reports Incomplete ... without consuming them").
//
// Type dispatch is by leading byte: `+` simple string, `-` error, `:`
// integer, `$` bulk, `*` array, `_` nil, `#` boolean, `,` double, `(` big
// number, `%` map, `~` set, `>` push, `=` verbatim string. A line beginning
// with none of these, outside of an array/map/set element context, is
// treated as a legacy inline command (decode-only, per spec.md §4.1/§6).
func decode(buf []byte, limits Limits) decodeResult {
	return decodeDepth(buf, limits, 0)
}

func decodeDepth(buf []byte, limits Limits, depth int) decodeResult {
	if len(buf) == 0 {
		return decodeResult{Status: decodeIncomplete}
	}
	if limits.MaxNestDepth > 0 && depth > limits.MaxNestDepth {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("max nesting depth %d exceeded", limits.MaxNestDepth)}
	}

	switch buf[0] {
	case '+':
		return decodeLine(buf, func(s []byte) decodeResult {
			return ok(NewSimpleString(string(s)), 0)
		})
	case '-':
		return decodeLine(buf, func(s []byte) decodeResult {
			return ok(NewError(parseServerError(string(s))), 0)
		})
	case ':':
		return decodeLine(buf, func(s []byte) decodeResult {
			n, err := strconv.ParseInt(string(s), 10, 64)
			if err != nil {
				return decodeResult{Status: decodeMalformed, Err: newProtocolError("invalid integer %q", s)}
			}
			return ok(NewInteger(n), 0)
		})
	case ',':
		return decodeLine(buf, func(s []byte) decodeResult {
			f, err := parseDouble(s)
			if err != nil {
				return decodeResult{Status: decodeMalformed, Err: newProtocolError("invalid double %q", s)}
			}
			return ok(NewDouble(f), 0)
		})
	case '#':
		return decodeLine(buf, func(s []byte) decodeResult {
			if len(s) == 1 && (s[0] == 't' || s[0] == 'f') {
				return ok(NewBoolean(s[0] == 't'), 0)
			}
			return decodeResult{Status: decodeMalformed, Err: newProtocolError("invalid boolean %q", s)}
		})
	case '(':
		return decodeLine(buf, func(s []byte) decodeResult {
			return ok(NewBigNumber(string(s)), 0)
		})
	case '_':
		return decodeLine(buf, func(s []byte) decodeResult {
			if len(s) != 0 {
				return decodeResult{Status: decodeMalformed, Err: newProtocolError("malformed nil frame")}
			}
			return ok(Nil, 0)
		})
	case '$':
		return decodeBulkLike(buf, limits, func(b []byte) Value { return NewBulkString(b) })
	case '=':
		return decodeVerbatim(buf, limits)
	case '*':
		return decodeAggregate(buf, limits, depth, '*', func(vs []Value) Value { return NewArray(vs) })
	case '~':
		return decodeAggregate(buf, limits, depth, '~', func(vs []Value) Value { return NewSet(vs) })
	case '>':
		return decodeAggregate(buf, limits, depth, '>', func(vs []Value) Value {
			kind := ""
			if len(vs) > 0 && vs[0].Kind == KindBulkString {
				kind = vs[0].String()
			}
			return NewPush(kind, vs)
		})
	case '%':
		return decodeMap(buf, limits, depth)
	default:
		if depth > 0 {
			return decodeResult{Status: decodeMalformed, Err: newProtocolError("unknown type byte %q inside aggregate", buf[0])}
		}
		return decodeInline(buf)
	}
}

func ok(v Value, extra int) decodeResult { return decodeResult{Value: v, Status: decodeOK, Consumed: extra} }

// findCRLF locates the first "\r\n" in buf, or -1 if not (yet) present
// (spec.md §4.1). A bare LF, or a CR followed by anything but LF, is not a
// valid terminator and is signalled via -2 so the caller reports a
// malformed frame. A CR that is the last byte of buf may still be paired
// by the next read, so it reports -1.
func findCRLF(buf []byte) int {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '\r':
			if i+1 == len(buf) {
				return -1
			}
			if buf[i+1] == '\n' {
				return i
			}
			return -2
		case '\n':
			return -2
		}
	}
	return -1
}

func decodeLine(buf []byte, build func([]byte) decodeResult) decodeResult {
	idx := findCRLF(buf[1:])
	if idx == -2 {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("bare LF in line frame")}
	}
	if idx < 0 {
		return decodeResult{Status: decodeIncomplete}
	}
	line := buf[1 : 1+idx]
	res := build(line)
	if res.Status != decodeOK {
		return res
	}
	res.Consumed = 1 + idx + 2
	return res
}

func decodeBulkLike(buf []byte, limits Limits, build func([]byte) Value) decodeResult {
	idx := findCRLF(buf[1:])
	if idx == -2 {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("bare LF in bulk length")}
	}
	if idx < 0 {
		return decodeResult{Status: decodeIncomplete}
	}
	lenStr := buf[1 : 1+idx]
	n, err := strconv.Atoi(string(lenStr))
	if err != nil {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("invalid bulk length %q", lenStr)}
	}
	headerLen := 1 + idx + 2
	if n < 0 {
		// RESP2 `$-1` nil bulk string
		return ok(Nil, headerLen)
	}
	if limits.MaxFrameSize > 0 && n > limits.MaxFrameSize {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("bulk length %d exceeds limit %d", n, limits.MaxFrameSize)}
	}
	total := headerLen + n + 2
	if len(buf) < total {
		return decodeResult{Status: decodeIncomplete}
	}
	payload := buf[headerLen : headerLen+n]
	if buf[headerLen+n] != '\r' || buf[headerLen+n+1] != '\n' {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("missing CRLF terminator after bulk payload")}
	}
	return ok(build(payload), total)
}

func decodeVerbatim(buf []byte, limits Limits) decodeResult {
	res := decodeBulkLike(buf, limits, func(b []byte) Value { return NewBulkString(b) })
	if res.Status != decodeOK || res.Value.IsNil() {
		return res
	}
	raw := res.Value.Bytes()
	if len(raw) < 4 || raw[3] != ':' {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("malformed verbatim string %q", raw)}
	}
	return decodeResult{Value: NewVerbatimString(string(raw[:3]), raw[4:]), Consumed: res.Consumed, Status: decodeOK}
}

func decodeAggregate(buf []byte, limits Limits, depth int, prefix byte, build func([]Value) Value) decodeResult {
	idx := findCRLF(buf[1:])
	if idx == -2 {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("bare LF in aggregate length")}
	}
	if idx < 0 {
		return decodeResult{Status: decodeIncomplete}
	}
	n, err := strconv.Atoi(string(buf[1 : 1+idx]))
	if err != nil {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("invalid aggregate length %q", buf[1:1+idx])}
	}
	headerLen := 1 + idx + 2
	if n < 0 {
		// RESP2 `*-1` nil array
		return ok(Nil, headerLen)
	}
	elems := make([]Value, 0, n)
	pos := headerLen
	for i := 0; i < n; i++ {
		sub := decodeDepth(buf[pos:], limits, depth+1)
		switch sub.Status {
		case decodeIncomplete:
			return decodeResult{Status: decodeIncomplete}
		case decodeMalformed:
			return sub
		}
		elems = append(elems, sub.Value)
		pos += sub.Consumed
	}
	return decodeResult{Value: build(elems), Consumed: pos, Status: decodeOK}
}

func decodeMap(buf []byte, limits Limits, depth int) decodeResult {
	idx := findCRLF(buf[1:])
	if idx == -2 {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("bare LF in map length")}
	}
	if idx < 0 {
		return decodeResult{Status: decodeIncomplete}
	}
	n, err := strconv.Atoi(string(buf[1 : 1+idx]))
	if err != nil {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("invalid map length %q", buf[1:1+idx])}
	}
	headerLen := 1 + idx + 2
	entries := make([]KV, 0, n)
	pos := headerLen
	for i := 0; i < n; i++ {
		k := decodeDepth(buf[pos:], limits, depth+1)
		switch k.Status {
		case decodeIncomplete:
			return decodeResult{Status: decodeIncomplete}
		case decodeMalformed:
			return k
		}
		pos += k.Consumed
		v := decodeDepth(buf[pos:], limits, depth+1)
		switch v.Status {
		case decodeIncomplete:
			return decodeResult{Status: decodeIncomplete}
		case decodeMalformed:
			return v
		}
		pos += v.Consumed
		entries = append(entries, KV{Key: k.Value, Val: v.Value})
	}
	return decodeResult{Value: NewMap(entries), Consumed: pos, Status: decodeOK}
}

// decodeInline parses a legacy space-separated inline command line,
// accepted only in decode per spec.md §4.1/§6 — encoding always emits
// RESP arrays.
func decodeInline(buf []byte) decodeResult {
	idx := findCRLF(buf)
	if idx == -2 {
		return decodeResult{Status: decodeMalformed, Err: newProtocolError("bare LF in inline command")}
	}
	if idx < 0 {
		return decodeResult{Status: decodeIncomplete}
	}
	line := buf[:idx]
	var fields []Value
	start := -1
	for i := 0; i <= len(line); i++ {
		if i < len(line) && line[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, NewBulkString(append([]byte(nil), line[start:i]...)))
			start = -1
		}
	}
	return decodeResult{Value: NewArray(fields), Consumed: idx + 2, Status: decodeOK}
}

func parseDouble(s []byte) (float64, error) {
	switch string(s) {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	default:
		return strconv.ParseFloat(string(s), 64)
	}
}

// encode serializes a Command into a RESP array of bulk strings:
// `*N\r\n$len\r\nverb\r\n$len\r\narg\r\n...` (spec.md §4.1). Encoding
// always emits RESP arrays, never inline commands.
func encode(verb string, args [][]byte) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	n := 1 + len(args)
	buf.WriteByte('*')
	buf.B = strconv.AppendInt(buf.B, int64(n), 10)
	buf.WriteString("\r\n")
	writeBulk(buf, []byte(verb))
	for _, a := range args {
		writeBulk(buf, a)
	}

	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out
}

func writeBulk(buf *bytebufferpool.ByteBuffer, b []byte) {
	buf.WriteByte('$')
	buf.B = strconv.AppendInt(buf.B, int64(len(b)), 10)
	buf.WriteString("\r\n")
	buf.Write(b)
	buf.WriteString("\r\n")
}

// encodeCommand encodes a Command directly.
func encodeCommand(c Command) []byte { return encode(c.Verb, c.Args) }
