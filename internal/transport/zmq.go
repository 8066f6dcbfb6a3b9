package transport

import (
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/wire"
)

// ZMQSender delivers frames over a ZeroMQ PUSH socket. ZeroMQ preserves
// per-connection message order, so batches arrive in submission order; the
// socket's high-water mark is the backpressure point, and an infinite linger
// makes Close block until every queued frame has been handed to the peer.
type ZMQSender struct {
	sock *zmq.Socket
	enc  *payloadEncoder
	log  *logging.Logger

	mu     sync.Mutex
	closed bool
	eos    bool
}

// NewZMQSender connects a PUSH socket to the consumer's endpoint
// (for example "tcp://127.0.0.1:5731" or "ipc:///tmp/probescope.sock").
func NewZMQSender(endpoint string, opts Options, log *logging.Logger) (*ZMQSender, error) {
	opts = opts.withDefaults()

	sock, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, errors.NewTransportError("failed to create push socket", err).WithEndpoint(endpoint)
	}
	if err := sock.SetSndhwm(opts.QueueLen); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set send high-water mark", err).WithEndpoint(endpoint)
	}
	// Infinite linger: Close blocks until the send queue drains, which is
	// the drain-acknowledgement step between the deferred flush and
	// process exit.
	if err := sock.SetLinger(-1); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set linger", err).WithEndpoint(endpoint)
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to connect", err).WithEndpoint(endpoint)
	}

	return &ZMQSender{
		sock: sock,
		enc:  newPayloadEncoder(opts, log),
		log:  log,
	}, nil
}

// SendBatch submits one batch. Blocks when the high-water mark is reached.
func (s *ZMQSender) SendBatch(b target.Batch) error {
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
	return s.send(data, false)
}

// SendFault reports a producer-side unhandled error.
func (s *ZMQSender) SendFault(message, traceback string) error {
	data, err := wire.EncodeMessage(wire.Message{
		Kind:  wire.MsgFault,
		Fault: &wire.Fault{Message: message, Traceback: traceback},
	})
	if err != nil {
		return errors.NewTransportError("failed to encode fault", err)
	}
	return s.send(data, false)
}

// SendEndOfStream signals orderly termination.
func (s *ZMQSender) SendEndOfStream(exitCode int) error {
	data, err := wire.EncodeMessage(wire.Message{
		Kind: wire.MsgEndOfStream,
		EOS:  &wire.EndOfStream{ExitCode: exitCode},
	})
	if err != nil {
		return errors.NewTransportError("failed to encode end-of-stream", err)
	}
	return s.send(data, true)
}

func (s *ZMQSender) send(data []byte, eos bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.eos {
		return errors.NewTransportError("send after stream end", errors.ErrStreamClosed)
	}
	if _, err := s.sock.SendBytes(data, 0); err != nil {
		return errors.NewTransportError("send failed", err)
	}
	if eos {
		s.eos = true
	}
	return nil
}

// Close blocks until the socket's queue has drained, then removes the
// sender's shared regions.
func (s *ZMQSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.sock.Close(); err != nil {
		return errors.NewTransportError("failed to close push socket", err)
	}
	return s.enc.close()
}

// ZMQReceiver receives frames on a ZeroMQ PULL socket. A socket monitor
// watches for peer disconnects so a producer crash (stream ends without
// end-of-stream) can be surfaced as an abnormal close.
type ZMQReceiver struct {
	sock      *zmq.Socket
	mon       *zmq.Socket
	regionDir string
	log       *logging.Logger

	peers    atomic.Int64
	sawPeer  atomic.Bool
	peerLost atomic.Bool

	mu       sync.Mutex
	eosSeen  bool
	reported bool
	closed   bool
}

// NewZMQReceiver binds a PULL socket at the given endpoint.
func NewZMQReceiver(endpoint string, opts Options, log *logging.Logger) (*ZMQReceiver, error) {
	opts = opts.withDefaults()

	sock, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return nil, errors.NewTransportError("failed to create pull socket", err).WithEndpoint(endpoint)
	}
	if err := sock.SetRcvhwm(opts.QueueLen); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set receive high-water mark", err).WithEndpoint(endpoint)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to bind", err).WithEndpoint(endpoint)
	}

	r := &ZMQReceiver{
		sock:      sock,
		regionDir: opts.RegionDir,
		log:       log,
	}

	monAddr := "inproc://probescope-mon-" + uuid.NewString()
	if err := sock.Monitor(monAddr, zmq.EVENT_ACCEPTED|zmq.EVENT_DISCONNECTED|zmq.EVENT_MONITOR_STOPPED); err == nil {
		if mon, err := zmq.NewSocket(zmq.PAIR); err == nil {
			if err := mon.Connect(monAddr); err == nil {
				r.mon = mon
				go r.watchPeers()
			} else {
				mon.Close()
			}
		}
	}
	return r, nil
}

// watchPeers tracks producer connections so an abnormal close can be
// distinguished from "no producer connected yet". It owns the monitor
// socket: closing the data socket stops monitoring, which surfaces here as
// EVENT_MONITOR_STOPPED (or an error), ending the loop. Closing the monitor
// socket from any other goroutine would race this one's RecvEvent.
func (r *ZMQReceiver) watchPeers() {
	defer r.mon.Close()

	for {
		event, _, _, err := r.mon.RecvEvent(0)
		if err != nil {
			return
		}
		switch event {
		case zmq.EVENT_ACCEPTED:
			r.sawPeer.Store(true)
			r.peers.Add(1)
		case zmq.EVENT_DISCONNECTED:
			if r.peers.Add(-1) <= 0 && r.sawPeer.Load() {
				r.peerLost.Store(true)
			}
		case zmq.EVENT_MONITOR_STOPPED:
			return
		}
	}
}

// Poll drains up to budget pending frames without blocking. When the last
// producer connection has dropped and no end-of-stream was received, the
// final drained poll yields a single abnormal-close message.
func (r *ZMQReceiver) Poll(budget int) ([]Message, error) {
	var out []Message

	for budget <= 0 || len(out) < budget {
		data, err := r.sock.RecvBytes(zmq.DONTWAIT)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				break
			}
			return out, errors.NewTransportError("receive failed", err)
		}

		msg, err := r.decode(data)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}

	if len(out) == 0 && r.peerLost.Load() {
		if msg, report := r.abnormal(); report {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *ZMQReceiver) abnormal() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eosSeen || r.reported {
		return Message{}, false
	}
	r.reported = true
	return Message{Kind: KindAbnormalClose}, true
}

func (r *ZMQReceiver) decode(data []byte) (Message, error) {
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

// Close releases the data socket. The caller must ensure no Poll is in
// flight (the consumer joins its poll loop first). Closing the data socket
// stops its monitor, so watchPeers exits and closes the monitor socket
// itself.
func (r *ZMQReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.sock.Close(); err != nil {
		return errors.NewTransportError("failed to close pull socket", err)
	}
	return nil
}
