package config

import (
	"fmt"
	"strings"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
)

// Validate checks ranges and required fields. It returns the first problem
// found as a ValidationError.
func (c *Config) Validate() error {
	if c.Transport.DataEndpoint == "" {
		return errors.NewValidationError("transport.data_endpoint", "must not be empty")
	}
	if c.Transport.QueueLen < 0 {
		return errors.NewValidationError("transport.queue_len", "must not be negative")
	}
	if c.Transport.InlineThresholdBytes < 0 {
		return errors.NewValidationError("transport.inline_threshold_bytes", "must not be negative")
	}

	if c.Display.RefreshHz < 0 || c.Display.RefreshHz > 1000 {
		return errors.NewValidationError("display.refresh_hz", "must be between 0 and 1000")
	}
	if c.Display.PollIntervalMs < 0 {
		return errors.NewValidationError("display.poll_interval_ms", "must not be negative")
	}
	if c.Display.PollBudget < 0 {
		return errors.NewValidationError("display.poll_budget", "must not be negative")
	}

	if c.Logging.Level != "" && !validLevel(c.Logging.Level) {
		return errors.NewValidationError("logging.level",
			fmt.Sprintf("must be one of %s", strings.Join(logging.ValidLevels(), ", ")))
	}

	for i, t := range c.Capture.Targets {
		if t.File == "" {
			return errors.NewValidationError(
				fmt.Sprintf("capture.targets[%d].file", i), "must not be empty")
		}
		if t.Line <= 0 {
			return errors.NewValidationError(
				fmt.Sprintf("capture.targets[%d].line", i), "must be positive")
		}
		if t.Symbol == "" {
			return errors.NewValidationError(
				fmt.Sprintf("capture.targets[%d].symbol", i), "must not be empty")
		}
	}
	return nil
}

func validLevel(level string) bool {
	for _, l := range logging.ValidLevels() {
		if strings.EqualFold(level, l) {
			return true
		}
	}
	return false
}

// Target converts a TargetConfig to its pipeline identity.
func (t TargetConfig) Target() target.Target {
	return target.Target{
		Loc:    target.Location{File: t.File, Line: t.Line, Col: t.Col},
		Symbol: t.Symbol,
		Scope:  t.Scope,
	}
}
