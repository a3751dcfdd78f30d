package redis

import "time"

// Decoding selects how a binding wants bulk payloads surfaced: raw bytes,
// or validated UTF-8 text (spec.md §3, §6).
type Decoding uint8

const (
	// Binary returns bulk payloads as raw bytes.
	Binary Decoding = iota
	// Text returns bulk payloads as validated UTF-8 strings.
	Text
)

// ReadStrategy selects how read-category commands pick among a slot's
// primary and replicas (spec.md §4.5).
type ReadStrategy uint8

const (
	// PrimaryOnly always routes reads to the slot's primary.
	PrimaryOnly ReadStrategy = iota
	// PreferReplica round-robins across the slot's replicas, falling back
	// to the primary when there is no replica.
	PreferReplica
	// AzAffinity prefers replicas tagged with the client's AZ, then any
	// replica, then the primary.
	AzAffinity
	// AzAffinityReplicasAndPrimary prefers any node (replica or primary)
	// in the client's AZ before falling back to round-robin.
	AzAffinityReplicasAndPrimary
)

// RoutingPolicyKind discriminates the RoutingPolicy sum (spec.md §3).
type RoutingPolicyKind uint8

const (
	// Auto derives routing from key_positions and the verb's category.
	Auto RoutingPolicyKind = iota
	AllPrimaries
	AllNodes
	Random
	ByKey
	BySlotID
	ByAddress
)

// RoutingPolicy steers the Router's target selection for a Command or
// Batch (spec.md §3, §4.5).
type RoutingPolicy struct {
	Kind RoutingPolicyKind

	Key           []byte // ByKey
	SlotID        uint16 // BySlotID
	Host          string // ByAddress
	Port          int    // ByAddress
	PreferReplica bool   // ByKey, BySlotID
}

// AutoPolicy is the zero-value RoutingPolicy: "derive from key_positions
// and verb category" (spec.md §3).
var AutoPolicy = RoutingPolicy{Kind: Auto}

// KeyPositions designates which Command.Args hold routable keys. Inferred
// means the router looks the verb up in the verb category table to find
// key positions itself (spec.md §3).
type KeyPositions struct {
	Inferred  bool
	Positions []int
}

// InferredKeys is the zero-value KeyPositions.
var InferredKeys = KeyPositions{Inferred: true}

// ExplicitKeys builds a KeyPositions from explicit argument indices.
func ExplicitKeys(positions ...int) KeyPositions {
	return KeyPositions{Positions: positions}
}

// Command is one verb + argument list submission, immutable once
// submitted to Client.Execute (spec.md §3).
type Command struct {
	Verb             string
	Args             [][]byte
	KeyPositions     KeyPositions
	Routing          RoutingPolicy
	ExpectedDecoding Decoding
	TimeoutOverride  time.Duration
}

// NewCommand builds a Command with inferred key positions and automatic
// routing, the common case for bindings that don't need to override
// either.
func NewCommand(verb string, args ...[]byte) Command {
	return Command{
		Verb:         verb,
		Args:         args,
		KeyPositions: InferredKeys,
		Routing:      AutoPolicy,
	}
}

// keys resolves the command's key byte-slices using either the explicit
// KeyPositions or the verb category table.
func (c Command) keys() [][]byte {
	if !c.KeyPositions.Inferred {
		out := make([][]byte, 0, len(c.KeyPositions.Positions))
		for _, p := range c.KeyPositions.Positions {
			if p >= 0 && p < len(c.Args) {
				out = append(out, c.Args[p])
			}
		}
		return out
	}
	return inferredKeyPositions(c.Verb, c.Args)
}

// Batch is a collection of Commands executed together: a pipeline when
// Atomic is false, a MULTI/EXEC transaction when Atomic is true. Every
// batch, atomic or not, runs on a single node: the router rejects a batch
// whose keys span more than one slot (spec.md §3, §4.6).
type Batch struct {
	Commands        []Command
	Atomic          bool
	RaiseOnError    bool
	TimeoutOverride time.Duration
	Routing         RoutingPolicy
	// WatchKeys, for atomic batches, lists keys that must hash to the same
	// slot as the batch's own keys (spec.md §4.6).
	WatchKeys [][]byte
}

// NewPipeline builds a non-atomic Batch (spec.md glossary: Pipeline).
func NewPipeline(cmds ...Command) Batch {
	return Batch{Commands: cmds, Routing: AutoPolicy}
}

// NewTransaction builds an atomic Batch (spec.md glossary: Transaction).
func NewTransaction(cmds ...Command) Batch {
	return Batch{Commands: cmds, Atomic: true, RaiseOnError: true, Routing: AutoPolicy}
}

// verbCategory classifies verbs for Auto routing and read/write
// fan-out semantics (spec.md §4.5).
type verbCategory uint8

const (
	categoryDefault verbCategory = iota
	categoryRead
	categoryWrite
	categoryAllPrimariesSum
	categoryAllPrimaries
	categoryRandom
)

// verbCategories is a representative slice of the verb table; spec.md §1
// explicitly keeps "the hundreds of thin command builders" out of core
// scope, but the category table itself (which drives Auto routing) is
// core — it is small and closed, unlike the per-verb argument builders.
var verbCategories = map[string]verbCategory{
	"GET": categoryRead, "MGET": categoryRead, "STRLEN": categoryRead,
	"EXISTS": categoryRead, "TTL": categoryRead, "PTTL": categoryRead,
	"HGET": categoryRead, "HGETALL": categoryRead, "HMGET": categoryRead,
	"LRANGE": categoryRead, "SMEMBERS": categoryRead, "ZRANGE": categoryRead,
	"TOUCH": categoryRead,

	"SET": categoryWrite, "MSET": categoryWrite, "DEL": categoryWrite,
	"UNLINK": categoryWrite, "EXPIRE": categoryWrite, "HSET": categoryWrite,
	"LPUSH": categoryWrite, "RPUSH": categoryWrite, "SADD": categoryWrite,
	"ZADD": categoryWrite,

	"PING":   categoryRandom,
	"INFO":   categoryRandom,
	"DBSIZE": categoryAllPrimariesSum,

	"FLUSHALL": categoryAllPrimaries,
	"FLUSHDB":  categoryAllPrimaries,
}

// splittableVerbs are multi-key commands the router can split per-slot and
// reassemble (spec.md §4.5, §8).
var splittableVerbs = map[string]bool{
	"MGET": true, "MSET": true, "DEL": true, "UNLINK": true,
	"EXISTS": true, "TOUCH": true,
}

func categoryOf(verb string) verbCategory {
	if c, ok := verbCategories[verb]; ok {
		return c
	}
	return categoryDefault
}

func isReadCategory(verb string) bool { return categoryOf(verb) == categoryRead }

// inferredKeyPositions locates a verb's key arguments using the small set
// of shapes spec.md's router needs to know about: single-key commands
// carry the key at Args[0]; MSET-style commands alternate key/value;
// multi-key commands (MGET/DEL/UNLINK/EXISTS/TOUCH) treat every argument
// as a key.
func inferredKeyPositions(verb string, args [][]byte) [][]byte {
	switch verb {
	case "MSET", "MSETNX":
		keys := make([][]byte, 0, (len(args)+1)/2)
		for i := 0; i < len(args); i += 2 {
			keys = append(keys, args[i])
		}
		return keys
	case "MGET", "DEL", "UNLINK", "EXISTS", "TOUCH":
		return args
	case "PING", "INFO", "DBSIZE", "FLUSHALL", "FLUSHDB", "CLUSTER", "CLIENT":
		return nil
	default:
		if len(args) == 0 {
			return nil
		}
		return args[:1]
	}
}
