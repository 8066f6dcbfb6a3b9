// Package transport carries ordered batches of captured records across the
// process boundary. Two implementations share one contract: batches are
// delivered in submission order, never reordered and never partially, with an
// explicit end-of-stream message distinct from ordinary data so the consumer
// can tell "no data yet" from "producer finished". A stream that ends without
// end-of-stream is surfaced as an abnormal close, not a normal end.
//
// The ZeroMQ implementation (PUSH/PULL over tcp or ipc) is the cross-process
// path; the in-process pair backs single-process sessions and tests.
package transport

import (
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/wire"
)

// Kind discriminates messages handed to the consumer.
type Kind uint8

const (
	// KindBatch carries the records of one triggering event.
	KindBatch Kind = iota + 1
	// KindEndOfStream reports orderly producer termination.
	KindEndOfStream
	// KindFault reports a producer-side unhandled error.
	KindFault
	// KindAbnormalClose is synthesized by the receiver when the stream
	// ends without an end-of-stream message (producer crash).
	KindAbnormalClose
)

// Message is one delivery to the consumer side.
type Message struct {
	Kind     Kind
	Batch    target.Batch
	ExitCode int
	Fault    *wire.Fault
}

// Sender is the producer-side half of the transport. Send may block briefly
// when the underlying queue is full; this is the pipeline's only backpressure
// point and it delays delivery, never capture.
type Sender interface {
	// SendBatch submits one event's records for in-order delivery.
	SendBatch(b target.Batch) error

	// SendFault reports a producer-side unhandled error.
	SendFault(message, traceback string) error

	// SendEndOfStream signals orderly termination. No sends may follow.
	SendEndOfStream(exitCode int) error

	// Close releases the sender. It blocks until queued messages have
	// drained, which is what makes "flush deferred, send end-of-stream,
	// close" a safe shutdown order.
	Close() error
}

// Receiver is the consumer-side half of the transport.
type Receiver interface {
	// Poll returns up to budget pending messages without blocking. An
	// empty result means no data was available this tick.
	Poll(budget int) ([]Message, error)

	// Close releases the receiver.
	Close() error
}

// Options configures a transport endpoint.
type Options struct {
	// InlineThreshold is the encoded-value size in bytes above which a
	// payload moves to a shared region and only its handle crosses the
	// transport.
	InlineThreshold int

	// RegionDir is the directory backing shared regions. Empty selects
	// the platform default. Both sides must agree on it.
	RegionDir string

	// QueueLen bounds the number of in-flight messages before SendBatch
	// blocks.
	QueueLen int
}

// DefaultOptions returns the options used when a field is zero.
func DefaultOptions() Options {
	return Options{
		InlineThreshold: 16 * 1024,
		QueueLen:        1024,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.InlineThreshold <= 0 {
		o.InlineThreshold = def.InlineThreshold
	}
	if o.QueueLen <= 0 {
		o.QueueLen = def.QueueLen
	}
	return o
}
