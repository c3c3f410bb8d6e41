// Package cli implements the rtsim command line.
package cli

import (
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel levelFlag
	logger   *logiface.Logger[logiface.Event]
}

// NewRootCmd creates the root cobra command for rtsim.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{logLevel: levelFlag{level: logiface.LevelWarning}}

	root := &cobra.Command{
		Use:   "rtsim",
		Short: "Run thread scheduling scenarios on a simulated CPU",
		Long: "rtsim runs YAML scheduling scenarios against the rtsched scheduler on a\n" +
			"simulated single CPU, and optionally records the switch trace to SQLite.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = NewLogger(cmd.ErrOrStderr(), opts.logLevel.level)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().Var(&opts.logLevel, "log-level", "Log level (trace, debug, info, notice, warning, error, disabled)")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(),
		newRunsCmd(opts),
	)

	return root
}
