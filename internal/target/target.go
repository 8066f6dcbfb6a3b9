// Package target defines the identity and record types shared by every stage
// of the capture pipeline: capture targets, captured records, and the batches
// that carry records between the producer and consumer sides.
package target

// Location identifies a position in a source file. Col disambiguates multiple
// occurrences of the same symbol on one line.
type Location struct {
	File string
	Line int
	Col  int
}

// Target is the immutable identity of a value under observation. It is
// comparable and used as a map key throughout the pipeline; two targets are
// equal iff every field matches.
type Target struct {
	Loc    Location
	Symbol string
	Scope  string
}

// ValueKind tags the structural type of a captured value after serialization.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindObject
	// KindUnserializable marks a value that could not be converted to wire
	// form. The record is kept with a placeholder rather than dropped.
	KindUnserializable
)

// String returns the dtype tag used on the wire.
func (k ValueKind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	case KindUnserializable:
		return "unserializable"
	default:
		return "unknown"
	}
}

// KindFromString converts a wire dtype tag back to a ValueKind.
// Unknown tags map to KindObject so a newer producer never breaks an older
// consumer.
func KindFromString(s string) ValueKind {
	switch s {
	case "nil":
		return KindNil
	case "bool":
		return KindBool
	case "int":
		return KindInt
	case "float":
		return KindFloat
	case "string":
		return KindString
	case "bytes":
		return KindBytes
	case "list":
		return KindList
	case "map":
		return KindMap
	case "unserializable":
		return KindUnserializable
	default:
		return KindObject
	}
}

// Placeholder is the value stored in place of data that failed serialization.
const Placeholder = "<unserializable>"

// Record is one captured value. Created exactly once per observed value change
// and immutable after creation. Seq is globally monotonic across all targets;
// Logical disambiguates records produced by the same triggering event and
// resets per event.
type Record struct {
	Target    Target
	Value     any
	Kind      ValueKind
	Shape     []int
	Seq       uint64
	Logical   uint32
	Timestamp int64 // monotonic nanoseconds
	Deferred  bool
}

// Batch is the ordered, non-empty set of records produced by a single
// triggering event (one statement, one return, one panic). All records share
// the event timestamp; Logical is sequential within the batch. Batches are the
// unit of transport and are never partially delivered.
type Batch []Record

// Handle references a captured value stored out-of-line in a named shared
// region instead of inline on the wire.
type Handle struct {
	Region string
	Length int64
}
