package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/probescope/probescope/internal/target"
)

// MsgKind discriminates the message kinds of the data protocol.
type MsgKind uint8

const (
	// MsgBatch carries the records of one triggering event.
	MsgBatch MsgKind = iota + 1
	// MsgEndOfStream signals orderly producer termination. Sent exactly
	// once, after all deferred captures have flushed and the send queue
	// has drained.
	MsgEndOfStream
	// MsgFault carries a producer-side unhandled error.
	MsgFault
)

// Target is the wire shape of a capture target identity.
type Target struct {
	File   string `msgpack:"file"`
	Line   int    `msgpack:"line"`
	Col    int    `msgpack:"col"`
	Symbol string `msgpack:"symbol"`
	Scope  string `msgpack:"scope"`
}

// Handle is the wire shape of a shared-region reference carried in place of
// an inline value.
type Handle struct {
	Region string `msgpack:"region"`
	Length int64  `msgpack:"length"`
}

// Record is the wire shape of one captured value.
type Record struct {
	Target    Target  `msgpack:"target"`
	Value     any     `msgpack:"value"`
	Dtype     string  `msgpack:"dtype_tag"`
	Shape     []int   `msgpack:"shape,omitempty"`
	Seq       uint64  `msgpack:"seq_num"`
	Logical   uint32  `msgpack:"logical_order"`
	Timestamp int64   `msgpack:"timestamp"`
	Deferred  bool    `msgpack:"is_deferred"`
	Handle    *Handle `msgpack:"handle,omitempty"`
}

// EndOfStream signals that the producer terminated normally.
type EndOfStream struct {
	ExitCode int `msgpack:"exit_code"`
}

// Fault reports a producer-side unhandled error.
type Fault struct {
	Message   string `msgpack:"message"`
	Traceback string `msgpack:"traceback"`
}

// Message is the decoded union of the data protocol. Exactly one payload
// field is set, according to Kind.
type Message struct {
	Kind  MsgKind
	Batch []Record
	EOS   *EndOfStream
	Fault *Fault
}

// frame is the envelope actually encoded on the wire.
type frame struct {
	Kind MsgKind            `msgpack:"kind"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// ToWire converts a pipeline record to its wire shape.
func ToWire(rec target.Record) Record {
	return Record{
		Target: Target{
			File:   rec.Target.Loc.File,
			Line:   rec.Target.Loc.Line,
			Col:    rec.Target.Loc.Col,
			Symbol: rec.Target.Symbol,
			Scope:  rec.Target.Scope,
		},
		Value:     rec.Value,
		Dtype:     rec.Kind.String(),
		Shape:     rec.Shape,
		Seq:       rec.Seq,
		Logical:   rec.Logical,
		Timestamp: rec.Timestamp,
		Deferred:  rec.Deferred,
	}
}

// FromWire converts a wire record back to the pipeline shape.
func FromWire(w Record) target.Record {
	return target.Record{
		Target: target.Target{
			Loc:    target.Location{File: w.Target.File, Line: w.Target.Line, Col: w.Target.Col},
			Symbol: w.Target.Symbol,
			Scope:  w.Target.Scope,
		},
		Value:     w.Value,
		Kind:      target.KindFromString(w.Dtype),
		Shape:     w.Shape,
		Seq:       w.Seq,
		Logical:   w.Logical,
		Timestamp: w.Timestamp,
		Deferred:  w.Deferred,
	}
}

// EncodeMessage encodes a message into a single wire frame.
func EncodeMessage(m Message) ([]byte, error) {
	var body any
	switch m.Kind {
	case MsgBatch:
		body = m.Batch
	case MsgEndOfStream:
		body = m.EOS
	case MsgFault:
		body = m.Fault
	default:
		return nil, fmt.Errorf("unknown message kind %d", m.Kind)
	}

	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message body: %w", err)
	}
	return msgpack.Marshal(frame{Kind: m.Kind, Body: raw})
}

// DecodeMessage decodes a wire frame back into a message.
func DecodeMessage(data []byte) (Message, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Message{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	m := Message{Kind: f.Kind}
	switch f.Kind {
	case MsgBatch:
		if err := msgpack.Unmarshal(f.Body, &m.Batch); err != nil {
			return Message{}, fmt.Errorf("failed to decode batch: %w", err)
		}
	case MsgEndOfStream:
		m.EOS = &EndOfStream{}
		if err := msgpack.Unmarshal(f.Body, m.EOS); err != nil {
			return Message{}, fmt.Errorf("failed to decode end-of-stream: %w", err)
		}
	case MsgFault:
		m.Fault = &Fault{}
		if err := msgpack.Unmarshal(f.Body, m.Fault); err != nil {
			return Message{}, fmt.Errorf("failed to decode fault: %w", err)
		}
	default:
		return Message{}, fmt.Errorf("unknown message kind %d", f.Kind)
	}
	return m, nil
}
