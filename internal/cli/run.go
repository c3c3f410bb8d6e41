package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-rtsched/internal/scenario"
	"github.com/joeycumines/go-rtsched/internal/tracedb"
	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		traceDB  string
		runID    string
		deadline time.Duration
		trace    bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a scenario and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if deadline > 0 {
				sc.Deadline = deadline
			}

			report, runErr := scenario.Run(cmd.Context(), sc,
				scenario.WithLogger(root.logger),
				scenario.WithRunID(runID),
			)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			printReport(out, report)
			if trace {
				printTrace(out, report)
			}

			if traceDB != "" {
				st, err := tracedb.Open(cmd.Context(), traceDB, tracedb.WithLogger(root.logger))
				if err != nil {
					return err
				}
				defer st.Close()
				if err := st.Save(cmd.Context(), report); err != nil {
					return err
				}
				fmt.Fprintf(out, "saved run %s to %s\n", report.RunID, traceDB)
			}

			return runErr
		},
	}

	cmd.Flags().StringVar(&traceDB, "trace-db", "", "SQLite database to record the run in")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (default: generated)")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "Override the scenario deadline")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print every context switch")

	return cmd
}

func printReport(w io.Writer, r *scenario.Report) {
	st := r.Stats
	fmt.Fprintf(w, "run %s: scenario %s finished in %s\n", r.RunID, r.Scenario, r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "%s switches, %s dispatches, %s deferred wakes, %s timeouts, %s interrupts, %s timer failures\n",
		humanize.Comma(int64(st.Switches)),
		humanize.Comma(int64(st.Dispatches)),
		humanize.Comma(int64(st.Deferred)),
		humanize.Comma(int64(st.Timeouts)),
		humanize.Comma(int64(st.Interrupts)),
		humanize.Comma(int64(st.TimerFailures)))

	fmt.Fprintf(w, "%-16s  %-14s  %-10s  %-12s  %-24s  %s\n", "THREAD", "PRIORITY", "STATE", "RUNNING", "SLEEPS", "TRYRUNS")
	fmt.Fprintf(w, "%-16s  %-14s  %-10s  %-12s  %-24s  %s\n", "------", "--------", "-----", "-------", "------", "-------")
	for _, th := range r.Threads {
		prio := fmt.Sprint(th.Priority)
		if th.Priority != th.InitialPriority {
			prio = fmt.Sprintf("%d (base %d)", th.Priority, th.InitialPriority)
		}
		fmt.Fprintf(w, "%-16s  %-14s  %-10s  %-12s  %-24s  %s\n",
			th.Name, prio, th.State, th.RunningTime.Round(time.Microsecond),
			strings.Join(th.Sleeps, ","), strings.Join(th.TryRuns, ","))
	}
}

func printTrace(w io.Writer, r *scenario.Report) {
	for _, sw := range r.Trace {
		fmt.Fprintf(w, "%s switch at +%s: %s -> %s\n",
			humanize.Ordinal(sw.Seq), sw.At.Round(time.Microsecond), sw.Prev, sw.Next)
	}
}
