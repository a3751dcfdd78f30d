package redis

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed rejects command execution after Client.Close. Carried over from
// the teacher unchanged (redis: client closed).
var ErrClosed = errors.New("redis: client closed")

// errConnLost signals connection loss to a queued response awaiter.
var errConnLost = errors.New("redis: connection lost while awaiting response")

// ServerErrorKind classifies a ServerError's prefix token for executor
// retry/redirect handling (spec.md §4.1, §7).
type ServerErrorKind string

// Recognized error-kind tokens. Any other leading token is Custom.
const (
	KindMoved       ServerErrorKind = "MOVED"
	KindAsk         ServerErrorKind = "ASK"
	KindClusterDown ServerErrorKind = "CLUSTERDOWN"
	KindLoading     ServerErrorKind = "LOADING"
	KindBusy        ServerErrorKind = "BUSY"
	KindNoAuth      ServerErrorKind = "NOAUTH"
	KindReadonly    ServerErrorKind = "READONLY"
	KindTryAgain    ServerErrorKind = "TRYAGAIN"
	KindWrongType   ServerErrorKind = "WRONGTYPE"
	KindCustom      ServerErrorKind = ""
)

// ServerError is a command response from Redis/Valkey: a typed kind plus
// the full message. Parsed by splitting the first whitespace-delimited
// token as Kind (spec.md §4.1).
type ServerError struct {
	Kind    ServerErrorKind
	Message string
}

// Error honors the error interface.
func (e ServerError) Error() string {
	return fmt.Sprintf("redis: server error %q", e.Message)
}

// parseServerError splits a RESP error line into its typed kind.
func parseServerError(msg string) ServerError {
	kind := msg
	for i, r := range msg {
		if r == ' ' {
			kind = msg[:i]
			break
		}
	}
	switch ServerErrorKind(kind) {
	case KindMoved, KindAsk, KindClusterDown, KindLoading, KindBusy,
		KindNoAuth, KindReadonly, KindTryAgain, KindWrongType:
		return ServerError{Kind: ServerErrorKind(kind), Message: msg}
	}
	return ServerError{Kind: KindCustom, Message: msg}
}

// internalOnly reports whether a ServerError kind is handled by the
// executor's retry/redirect loop and therefore never surfaced to the
// caller as-is (spec.md §7).
func (k ServerErrorKind) internalOnly() bool {
	switch k {
	case KindMoved, KindAsk, KindTryAgain, KindClusterDown, KindLoading:
		return true
	default:
		return false
	}
}

// ConfigError signals invalid configuration, raised at Client construction
// and fatal to the client (spec.md §7).
type ConfigError struct {
	cause error
}

func newConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{cause: errors.Errorf(format, args...)}
}

func (e *ConfigError) Error() string { return "redis: config error: " + e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

// ConnectionError wraps an I/O, TLS, or handshake failure. Retried up to
// the configured budget, then surfaced (spec.md §7).
type ConnectionError struct {
	Node  string
	cause error
}

func newConnectionError(node string, cause error) *ConnectionError {
	return &ConnectionError{Node: node, cause: errors.WithStack(cause)}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("redis: connection error on %s: %v", e.Node, e.cause)
}
func (e *ConnectionError) Unwrap() error { return e.cause }

// Timeout signals a deadline exceeded on a pending request. The owning
// connection is always recycled (spec.md §7, §9).
type Timeout struct {
	Node string
}

func (e *Timeout) Error() string { return fmt.Sprintf("redis: timeout awaiting reply from %s", e.Node) }

// ProtocolError signals a malformed frame or a size-limit violation. Fatal
// to the connection; surfaced to the in-flight caller, other callers on the
// same connection observe ConnectionError (spec.md §7).
type ProtocolError struct {
	cause error
}

func newProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{cause: errors.Errorf(format, args...)}
}

func (e *ProtocolError) Error() string { return "redis: protocol error: " + e.cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.cause }

// RoutingErrorKind classifies why the router refused to resolve a target.
type RoutingErrorKind uint8

const (
	// CrossSlot: multi-key command spans slots and is not splittable.
	CrossSlot RoutingErrorKind = iota
	// AtomicCrossSlot: atomic batch keys span more than one slot.
	AtomicCrossSlot
	// NoNodeForSlot: topology has no owner for the computed slot.
	NoNodeForSlot
)

// RoutingError signals that the Router could not resolve a single legal
// target for a Command or Batch (spec.md §4.5, §7).
type RoutingError struct {
	Kind RoutingErrorKind
}

func (e *RoutingError) Error() string {
	switch e.Kind {
	case CrossSlot:
		return "redis: command spans multiple slots and cannot be split"
	case AtomicCrossSlot:
		return "redis: atomic batch keys span multiple slots"
	case NoNodeForSlot:
		return "redis: no node owns the target slot"
	default:
		return "redis: routing error"
	}
}

// Cancelled signals a caller-initiated cancellation of a pending request
// (spec.md §7).
var Cancelled = errors.New("redis: request cancelled")

// ClosingError signals submission after Client.Close (spec.md §7).
var ClosingError = errors.New("redis: client is closing")
