package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-rtsched/internal/scenario"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: invalid\n  %s\n", path,
						strings.ReplaceAll(err.Error(), "\n", "\n  "))
					continue
				}
				var steps int
				for _, th := range sc.Threads {
					steps += len(th.Steps)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %s threads, %s steps, %s queues)\n",
					path, sc.Name,
					humanize.Comma(int64(len(sc.Threads))),
					humanize.Comma(int64(steps)),
					humanize.Comma(int64(len(sc.Queues()))))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios invalid", failed, len(args))
			}
			return nil
		},
	}
}
