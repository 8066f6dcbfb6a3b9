package producer

import (
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/wire"
)

// ControlServer answers registration-protocol commands (add_target,
// remove_target, stop) on a ZeroMQ REP socket so a UI process can retarget a
// running producer.
type ControlServer struct {
	sock *zmq.Socket
	p    *Producer

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// ServeControl binds the control endpoint and starts answering commands.
func (p *Producer) ServeControl(endpoint string) (*ControlServer, error) {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, errors.NewTransportError("failed to create control socket", err).WithEndpoint(endpoint)
	}
	// Bounded receive timeout so the serve loop can observe shutdown.
	if err := sock.SetRcvtimeo(100 * time.Millisecond); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set control timeout", err).WithEndpoint(endpoint)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to bind control socket", err).WithEndpoint(endpoint)
	}

	cs := &ControlServer{
		sock:    sock,
		p:       p,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go cs.serve()
	return cs, nil
}

// serve owns the socket: ZeroMQ sockets are not thread-safe, so the goroutine
// blocked in RecvBytes must be the one that closes it.
func (cs *ControlServer) serve() {
	defer func() {
		cs.sock.Close()
		close(cs.stopped)
	}()

	for {
		select {
		case <-cs.done:
			return
		default:
		}

		data, err := cs.sock.RecvBytes(0)
		if err != nil {
			continue // timeout or transient error, re-check shutdown
		}

		reply := cs.apply(data)
		out, err := wire.EncodeReply(reply)
		if err != nil {
			out, _ = wire.EncodeReply(wire.CommandReply{OK: false, Error: "internal encode error"})
		}
		if _, err := cs.sock.SendBytes(out, 0); err != nil {
			cs.p.log.Warn("failed to send control reply", "error", err.Error())
		}
	}
}

func (cs *ControlServer) apply(data []byte) wire.CommandReply {
	cmd, err := wire.DecodeCommand(data)
	if err != nil {
		return wire.CommandReply{OK: false, Error: err.Error()}
	}

	switch cmd.Op {
	case wire.OpAddTarget:
		if cmd.Target == nil {
			return wire.CommandReply{OK: false, Error: "add_target requires a target"}
		}
		cs.p.AddTarget(wire.TargetFromWire(*cmd.Target), cmd.ThrottleHint)
		return wire.CommandReply{OK: true}

	case wire.OpRemoveTarget:
		if cmd.Target == nil {
			return wire.CommandReply{OK: false, Error: "remove_target requires a target"}
		}
		cs.p.RemoveTarget(wire.TargetFromWire(*cmd.Target))
		return wire.CommandReply{OK: true}

	case wire.OpStop:
		cs.p.RequestStop()
		return wire.CommandReply{OK: true}

	default:
		return wire.CommandReply{OK: false, Error: "unknown op: " + cmd.Op}
	}
}

// Close signals the serve loop and waits for it to exit; the loop releases
// the socket itself on the way out. Safe to call more than once.
func (cs *ControlServer) Close() error {
	cs.closeOnce.Do(func() { close(cs.done) })
	<-cs.stopped
	return nil
}
