package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/probescope/probescope/internal/target"
)

// Registration protocol operations, sent by the UI side into a running
// producer over the control socket.
const (
	OpAddTarget    = "add_target"
	OpRemoveTarget = "remove_target"
	OpStop         = "stop"
)

// Command is a registration-protocol request. Target is required for
// add_target and remove_target; ThrottleHint accompanies add_target.
type Command struct {
	Op           string  `msgpack:"op"`
	Target       *Target `msgpack:"target,omitempty"`
	ThrottleHint float64 `msgpack:"throttle_hint,omitempty"`
	ExitCode     int     `msgpack:"exit_code,omitempty"`
}

// CommandReply acknowledges a command.
type CommandReply struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error,omitempty"`
}

// AddTargetCommand builds an add_target command for t.
func AddTargetCommand(t target.Target, throttleHint float64) Command {
	w := targetToWire(t)
	return Command{Op: OpAddTarget, Target: &w, ThrottleHint: throttleHint}
}

// RemoveTargetCommand builds a remove_target command for t.
func RemoveTargetCommand(t target.Target) Command {
	w := targetToWire(t)
	return Command{Op: OpRemoveTarget, Target: &w}
}

// TargetFromWire converts a wire target identity back to the pipeline shape.
func TargetFromWire(w Target) target.Target {
	return target.Target{
		Loc:    target.Location{File: w.File, Line: w.Line, Col: w.Col},
		Symbol: w.Symbol,
		Scope:  w.Scope,
	}
}

func targetToWire(t target.Target) Target {
	return Target{
		File:   t.Loc.File,
		Line:   t.Loc.Line,
		Col:    t.Loc.Col,
		Symbol: t.Symbol,
		Scope:  t.Scope,
	}
}

// EncodeCommand encodes a command for the control socket.
func EncodeCommand(c Command) ([]byte, error) {
	data, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return data, nil
}

// DecodeCommand decodes a control-socket command.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	return c, nil
}

// EncodeReply encodes a command acknowledgement.
func EncodeReply(r CommandReply) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return data, nil
}

// DecodeReply decodes a command acknowledgement.
func DecodeReply(data []byte) (CommandReply, error) {
	var r CommandReply
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return CommandReply{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	return r, nil
}
