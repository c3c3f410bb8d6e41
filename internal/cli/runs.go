package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-rtsched/internal/tracedb"
	"github.com/spf13/cobra"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var traceDB string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in a trace database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := tracedb.Open(cmd.Context(), traceDB, tracedb.WithLogger(root.logger))
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-40s  %-20s  %-16s  %10s  %s\n", "RUN", "SCENARIO", "STARTED", "SWITCHES", "TIMEOUTS")
			fmt.Fprintf(out, "%-40s  %-20s  %-16s  %10s  %s\n", "---", "--------", "-------", "--------", "--------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-40s  %-20s  %-16s  %10s  %s\n",
					r.ID, r.Scenario, humanize.Time(r.Started),
					humanize.Comma(int64(r.Stats.Switches)),
					humanize.Comma(int64(r.Stats.Timeouts)))
			}
			fmt.Fprintf(out, "\n(%d runs)\n", len(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&traceDB, "trace-db", "rtsim.db", "SQLite database to read")

	return cmd
}
