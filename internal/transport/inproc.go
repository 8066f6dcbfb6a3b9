package transport

import (
	"sync"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/wire"
)

// NewPair creates a connected in-process sender/receiver. Frames travel
// through a bounded channel: SendBatch blocks when the channel is full,
// mirroring the ZeroMQ high-water-mark behavior, and closing the channel
// without an end-of-stream message is observed by the receiver as an
// abnormal close.
//
// The pair still encodes every message through the wire codec, so it
// exercises the same serialization path as the cross-process transport.
func NewPair(opts Options, log *logging.Logger) (*PairSender, *PairReceiver) {
	opts = opts.withDefaults()
	ch := make(chan []byte, opts.QueueLen)

	s := &PairSender{
		ch:  ch,
		enc: newPayloadEncoder(opts, log),
		log: log,
	}
	r := &PairReceiver{
		ch:        ch,
		regionDir: opts.RegionDir,
		log:       log,
	}
	return s, r
}

// PairSender is the producer half of an in-process transport.
type PairSender struct {
	ch  chan []byte
	enc *payloadEncoder
	log *logging.Logger

	mu     sync.Mutex
	closed bool
	eos    bool
}

// SendBatch submits one batch, blocking if the queue is full. The lock is
// held across the channel send so Close can never close the channel under a
// send in flight.
func (s *PairSender) SendBatch(b target.Batch) error {
	if len(b) == 0 {
		return nil
	}

	recs, err := s.enc.encodeBatch(b)
	if err != nil {
		return errors.NewTransportError("failed to encode batch", err)
	}
	data, err := wire.EncodeMessage(wire.Message{Kind: wire.MsgBatch, Batch: recs})
	if err != nil {
		return errors.NewTransportError("failed to encode frame", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.eos {
		return errors.NewTransportError("send after stream end", errors.ErrStreamClosed)
	}
	s.ch <- data
	return nil
}

// SendFault reports a producer-side unhandled error.
func (s *PairSender) SendFault(message, traceback string) error {
	data, err := wire.EncodeMessage(wire.Message{
		Kind:  wire.MsgFault,
		Fault: &wire.Fault{Message: message, Traceback: traceback},
	})
	if err != nil {
		return errors.NewTransportError("failed to encode fault", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.eos {
		return errors.NewTransportError("fault after stream end", errors.ErrStreamClosed)
	}
	s.ch <- data
	return nil
}

// SendEndOfStream signals orderly termination.
func (s *PairSender) SendEndOfStream(exitCode int) error {
	data, err := wire.EncodeMessage(wire.Message{
		Kind: wire.MsgEndOfStream,
		EOS:  &wire.EndOfStream{ExitCode: exitCode},
	})
	if err != nil {
		return errors.NewTransportError("failed to encode end-of-stream", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.eos {
		return errors.NewTransportError("duplicate end-of-stream", errors.ErrStreamClosed)
	}
	s.eos = true
	s.ch <- data
	return nil
}

// Close closes the channel. Buffered frames remain readable by the receiver,
// so nothing already sent is lost. Shared regions are kept until Release.
func (s *PairSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// Release removes the sender's shared regions. Called once the consumer has
// finished resolving handles (after the stream result is known).
func (s *PairSender) Release() error {
	return s.enc.close()
}

// PairReceiver is the consumer half of an in-process transport.
type PairReceiver struct {
	ch        chan []byte
	regionDir string
	log       *logging.Logger

	mu       sync.Mutex
	eosSeen  bool
	reported bool
}

// Poll drains up to budget messages without blocking.
func (r *PairReceiver) Poll(budget int) ([]Message, error) {
	var out []Message

	for budget <= 0 || len(out) < budget {
		select {
		case data, ok := <-r.ch:
			if !ok {
				if msg, report := r.channelClosed(); report {
					out = append(out, msg)
				}
				return out, nil
			}
			msg, err := r.decode(data)
			if err != nil {
				return out, err
			}
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

// channelClosed synthesizes the abnormal-close message exactly once if the
// stream ended without end-of-stream.
func (r *PairReceiver) channelClosed() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eosSeen || r.reported {
		return Message{}, false
	}
	r.reported = true
	return Message{Kind: KindAbnormalClose}, true
}

func (r *PairReceiver) decode(data []byte) (Message, error) {
	wm, err := wire.DecodeMessage(data)
	if err != nil {
		return Message{}, errors.NewTransportError("failed to decode frame", err)
	}

	switch wm.Kind {
	case wire.MsgBatch:
		return Message{
			Kind:  KindBatch,
			Batch: resolveBatch(wm.Batch, r.regionDir, r.log),
		}, nil
	case wire.MsgEndOfStream:
		r.mu.Lock()
		r.eosSeen = true
		r.mu.Unlock()
		return Message{Kind: KindEndOfStream, ExitCode: wm.EOS.ExitCode}, nil
	case wire.MsgFault:
		return Message{Kind: KindFault, Fault: wm.Fault}, nil
	default:
		return Message{}, errors.NewTransportError("unknown message kind", nil)
	}
}

// Close releases the receiver. The sender owns the channel.
func (r *PairReceiver) Close() error { return nil }
