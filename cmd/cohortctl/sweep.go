package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/bootstrap"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/workers"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep <status|warning|retirement>",
		Short:     "Run one sweep now and record it as a manual run",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"status", "warning", "retirement"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := lifecycle.ParseSweepKind(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				// The scheduler applies sweep_timeout and records the run.
				res, runErr := svc.Scheduler.RunOnce(ctx, kind)
				outcome := workers.OutcomeOf(res, runErr)

				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"outcome": outcome, "result": res}); err != nil {
						return err
					}
				} else {
					printSweep(res, outcome)
				}
				if outcome == workers.OutcomeFailed {
					if runErr != nil {
						return runErr
					}
					return fmt.Errorf("%s sweep failed: %s", kind, res.Error)
				}
				return nil
			})
		},
	}
}

func printSweep(res lifecycle.SweepResult, outcome string) {
	fmt.Printf("%s sweep %s: processed=%d updated=%d notify_failures=%d (%s)\n",
		res.Kind, outcome, res.TotalProcessed, res.UpdatedCount, res.NotifyFailures,
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	switch res.Kind {
	case lifecycle.SweepStatus:
		if len(res.Transitions) == 0 {
			break
		}
		tw.AppendHeader(table.Row{"Cohort", "Name", "From", "To"})
		for _, t := range res.Transitions {
			tw.AppendRow(table.Row{t.CohortID.Hex(), t.Name, t.From, t.To})
		}
		tw.Render()
	case lifecycle.SweepWarning:
		if len(res.Candidates) > 0 {
			renderCandidates(tw, res.Candidates)
		}
	case lifecycle.SweepRetirement:
		if len(res.Purged) > 0 {
			renderCandidates(tw, res.Purged)
		}
	}
	for _, e := range res.Errors {
		fmt.Fprintln(os.Stderr, "error:", e)
	}
	if res.Error != "" {
		fmt.Fprintln(os.Stderr, "sweep error:", res.Error)
	}
}

func renderCandidates(tw table.Writer, cands []lifecycle.Candidate) {
	tw.AppendHeader(table.Row{"Cohort", "Name", "Kind", "Status", "Finished", "Members", "Leader", "Purge At"})
	for _, c := range cands {
		tw.AppendRow(table.Row{
			c.CohortID.Hex(), c.Name, c.Kind, c.Status,
			c.StatusUpdatedAt.Format(time.RFC3339), c.MemberCount, c.LeaderPresent,
			c.PurgeAt.Format(time.RFC3339),
		})
	}
	tw.Render()
}
