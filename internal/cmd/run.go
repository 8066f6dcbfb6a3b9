package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probescope/probescope/internal/config"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/producer"
	"github.com/probescope/probescope/internal/script"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/transport"
)

var runWorkload string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an instrumented workload and stream captures to a viewer",
	Long: `Run executes a demo workload through the instrumentation hook and streams
every captured value to the configured data endpoint. Start "probescope view"
first so the stream has somewhere to go.

Workloads:
  countdown  assign v = 100..1 in a loop (deferred capture, ordering)
  waves      two targets per statement plus a large sample buffer
  crash      assign once, then panic (fault and scope-exit flush)`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVarP(&runWorkload, "workload", "w", "countdown", "demo workload: countdown, waves, crash")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	prog, fr, suggested, err := buildWorkload(runWorkload)
	if err != nil {
		return err
	}

	sender, err := transport.NewZMQSender(cfg.Transport.DataEndpoint, transport.Options{
		InlineThreshold: cfg.Transport.InlineThresholdBytes,
		RegionDir:       cfg.Transport.RegionDir,
		QueueLen:        cfg.Transport.QueueLen,
	}, log)
	if err != nil {
		return err
	}

	p := producer.New(sender, nil, log)

	// Configured targets win; the workload's suggestions fill an empty config.
	if len(cfg.Capture.Targets) > 0 {
		for _, tc := range cfg.Capture.Targets {
			p.AddTarget(tc.Target(), tc.ThrottleHint)
		}
	} else {
		for _, t := range suggested {
			p.AddTarget(t, 0)
		}
	}

	if cfg.Transport.ControlEndpoint != "" {
		ctl, err := p.ServeControl(cfg.Transport.ControlEndpoint)
		if err != nil {
			return err
		}
		defer ctl.Close()
	}

	engine := script.NewEngine(p.Hook(), p.StopRequested())
	if err := engine.Run(prog, fr); err != nil {
		// The panic already flushed at the scope boundary; report it as
		// a fault and drain before exiting.
		if ferr := p.Fault(fr, err); ferr != nil {
			return ferr
		}
		fmt.Printf("workload faulted: %v\n", err)
		return nil
	}

	if err := p.Finish(fr, 0); err != nil {
		return err
	}
	fmt.Println("workload finished, stream drained")
	return nil
}

func buildWorkload(name string) (script.Program, *script.Frame, []target.Target, error) {
	switch name {
	case "countdown":
		prog, fr, targets := script.Countdown(100)
		return prog, fr, targets, nil
	case "waves":
		prog, fr, targets := script.Waves(5000)
		return prog, fr, targets, nil
	case "crash":
		prog, fr, targets := script.Crash()
		return prog, fr, targets, nil
	default:
		return script.Program{}, nil, nil, fmt.Errorf("unknown workload %q", name)
	}
}
