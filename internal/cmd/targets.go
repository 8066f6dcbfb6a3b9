package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probescope/probescope/internal/config"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the capture targets in the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if len(cfg.Capture.Targets) == 0 {
			fmt.Println("no targets configured")
			return nil
		}

		for _, t := range cfg.Capture.Targets {
			hint := ""
			if t.ThrottleHint > 0 {
				hint = fmt.Sprintf("  (throttle hint %.0f Hz)", t.ThrottleHint)
			}
			fmt.Printf("%s:%d:%d  %s  scope=%s%s\n",
				t.File, t.Line, t.Col, t.Symbol, t.Scope, hint)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
