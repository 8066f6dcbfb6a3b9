package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/probescope/probescope/internal/config"
	"github.com/probescope/probescope/internal/consumer"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/notify"
	"github.com/probescope/probescope/internal/store"
	"github.com/probescope/probescope/internal/throttle"
	"github.com/probescope/probescope/internal/transport"
	"github.com/probescope/probescope/internal/tui"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Receive a capture stream and monitor probe values",
	Long: `View binds the data endpoint, stores every received record in per-target
histories, and renders a monitor that refreshes at the configured cadence.
Capture rate and render rate are independent: histories are always complete.`,
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	recv, err := transport.NewZMQReceiver(cfg.Transport.DataEndpoint, transport.Options{
		RegionDir: cfg.Transport.RegionDir,
		QueueLen:  cfg.Transport.QueueLen,
	}, log)
	if err != nil {
		return err
	}

	st := store.New(log)
	thr := throttle.New(notify.NewBus(), cfg.Display.RefreshHz)
	for _, tc := range cfg.Capture.Targets {
		if tc.ThrottleHint > 0 {
			thr.SetHint(tc.Target(), tc.ThrottleHint)
		}
	}

	c := consumer.New(recv, st, thr, consumer.Config{
		PollInterval: time.Duration(cfg.Display.PollIntervalMs) * time.Millisecond,
		Budget:       cfg.Display.PollBudget,
	}, log)

	c.Start()
	defer c.Stop()

	program := tea.NewProgram(tui.NewModel(c), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
