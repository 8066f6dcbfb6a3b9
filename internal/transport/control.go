package transport

import (
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/wire"
)

// controlTimeout bounds each control round trip so a dead producer surfaces
// as an error instead of a hang.
const controlTimeout = 2 * time.Second

// ControlClient sends registration-protocol commands (add_target,
// remove_target, stop) to a running producer over a ZeroMQ REQ socket.
type ControlClient struct {
	sock *zmq.Socket
	log  *logging.Logger
}

// NewControlClient connects to a producer's control endpoint.
func NewControlClient(endpoint string, log *logging.Logger) (*ControlClient, error) {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, errors.NewTransportError("failed to create control socket", err).WithEndpoint(endpoint)
	}
	if err := sock.SetSndtimeo(controlTimeout); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set send timeout", err).WithEndpoint(endpoint)
	}
	if err := sock.SetRcvtimeo(controlTimeout); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set receive timeout", err).WithEndpoint(endpoint)
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to set linger", err).WithEndpoint(endpoint)
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, errors.NewTransportError("failed to connect control socket", err).WithEndpoint(endpoint)
	}
	return &ControlClient{sock: sock, log: log}, nil
}

// AddTarget registers a capture target in the running producer.
func (c *ControlClient) AddTarget(t target.Target, throttleHint float64) error {
	return c.roundTrip(wire.AddTargetCommand(t, throttleHint))
}

// RemoveTarget deregisters a capture target in the running producer.
func (c *ControlClient) RemoveTarget(t target.Target) error {
	return c.roundTrip(wire.RemoveTargetCommand(t))
}

// Stop asks the producer to end its workload at the next safe point. The
// stream still closes with a proper end-of-stream message.
func (c *ControlClient) Stop() error {
	return c.roundTrip(wire.Command{Op: wire.OpStop})
}

func (c *ControlClient) roundTrip(cmd wire.Command) error {
	data, err := wire.EncodeCommand(cmd)
	if err != nil {
		return errors.NewTransportError("failed to encode command", err)
	}
	if _, err := c.sock.SendBytes(data, 0); err != nil {
		return errors.NewTransportError("failed to send command", err)
	}

	replyData, err := c.sock.RecvBytes(0)
	if err != nil {
		return errors.NewTransportError("no reply from producer", err)
	}
	reply, err := wire.DecodeReply(replyData)
	if err != nil {
		return errors.NewTransportError("failed to decode reply", err)
	}
	if !reply.OK {
		return errors.New("producer rejected command: " + reply.Error)
	}
	return nil
}

// Close releases the socket.
func (c *ControlClient) Close() error {
	return c.sock.Close()
}
