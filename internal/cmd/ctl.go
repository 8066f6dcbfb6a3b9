package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probescope/probescope/internal/config"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/transport"
)

var (
	ctlFile   string
	ctlLine   int
	ctlCol    int
	ctlSymbol string
	ctlScope  string
	ctlHint   float64
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Send registration commands to a running producer",
	Long: `Ctl talks to a running "probescope run" session over its control endpoint.
Targets can be added and removed while the workload executes; captures for a
new target begin at the next statement that touches its location.`,
}

var ctlAddCmd = &cobra.Command{
	Use:   "add-target",
	Short: "Register a capture target in the running producer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControlClient(func(c *transport.ControlClient) error {
			if err := c.AddTarget(ctlTarget(), ctlHint); err != nil {
				return err
			}
			fmt.Printf("added %s:%d:%d %s\n", ctlFile, ctlLine, ctlCol, ctlSymbol)
			return nil
		})
	},
}

var ctlRemoveCmd = &cobra.Command{
	Use:   "remove-target",
	Short: "Deregister a capture target in the running producer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControlClient(func(c *transport.ControlClient) error {
			if err := c.RemoveTarget(ctlTarget()); err != nil {
				return err
			}
			fmt.Printf("removed %s:%d:%d %s\n", ctlFile, ctlLine, ctlCol, ctlSymbol)
			return nil
		})
	},
}

var ctlStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the running producer to end its workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControlClient(func(c *transport.ControlClient) error {
			if err := c.Stop(); err != nil {
				return err
			}
			fmt.Println("stop requested")
			return nil
		})
	},
}

func init() {
	for _, sub := range []*cobra.Command{ctlAddCmd, ctlRemoveCmd} {
		sub.Flags().StringVar(&ctlFile, "file", "", "source file of the target")
		sub.Flags().IntVar(&ctlLine, "line", 0, "source line of the target")
		sub.Flags().IntVar(&ctlCol, "col", 0, "column disambiguating targets on one line")
		sub.Flags().StringVar(&ctlSymbol, "symbol", "", "symbol to capture")
		sub.Flags().StringVar(&ctlScope, "scope", "", "scope narrowing (empty = any)")
		_ = sub.MarkFlagRequired("file")
		_ = sub.MarkFlagRequired("line")
		_ = sub.MarkFlagRequired("symbol")
	}
	ctlAddCmd.Flags().Float64Var(&ctlHint, "hint", 0, "display throttle hint in Hz (0 = session default)")

	ctlCmd.AddCommand(ctlAddCmd, ctlRemoveCmd, ctlStopCmd)
	rootCmd.AddCommand(ctlCmd)
}

func ctlTarget() target.Target {
	return target.Target{
		Loc:    target.Location{File: ctlFile, Line: ctlLine, Col: ctlCol},
		Symbol: ctlSymbol,
		Scope:  ctlScope,
	}
}

func withControlClient(fn func(*transport.ControlClient) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	client, err := transport.NewControlClient(cfg.Transport.ControlEndpoint, log)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client)
}
