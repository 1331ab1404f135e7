package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/bootstrap"
	"github.com/dalemusser/stratacohort/internal/app/store/sweepruns"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/tasks"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func upcomingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upcoming",
		Short: "List finished cohorts inside or past the warning window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				cands, err := svc.Sweeper.UpcomingRetirements(ctx, svc.Sweeper.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cands)
				}
				if len(cands) == 0 {
					fmt.Println("no cohorts pending retirement")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				renderCandidates(tw, cands)
				return nil
			})
		},
	}
}

type statusReport struct {
	Counts    map[models.CohortStatus]int64 `json:"counts"`
	NextRuns  map[string]time.Time          `json:"next_runs"`
	Recent    []sweepruns.Run               `json:"recent"`
	Timezone  string                        `json:"timezone"`
	Retention lifecycle.Policy              `json:"retention"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cohort counts, next sweep times and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, cfg bootstrap.AppConfig, svc bootstrap.Services) error {
				loc, err := cfg.Location()
				if err != nil {
					return err
				}
				counts, err := svc.Cohorts.CountByStatus(ctx)
				if err != nil {
					return err
				}
				recent, err := svc.Runs.Recent(ctx, 5)
				if err != nil {
					return err
				}
				now := svc.Sweeper.Now()
				rep := statusReport{
					Counts: counts,
					NextRuns: map[string]time.Time{
						string(lifecycle.SweepStatus):     tasks.Daily(cfg.StatusSweepOffset, loc).Next(now),
						string(lifecycle.SweepWarning):    tasks.Daily(cfg.WarningSweepOffset, loc).Next(now),
						string(lifecycle.SweepRetirement): tasks.Daily(cfg.RetirementSweepOffset, loc).Next(now),
					},
					Recent:    recent,
					Timezone:  loc.String(),
					Retention: cfg.Policy(),
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				printStatus(rep)
				return nil
			})
		},
	}
}

func printStatus(rep statusReport) {
	fmt.Printf("Timezone: %s  warn after %s, purge after %s\n\n",
		rep.Timezone, rep.Retention.WarnAfter, rep.Retention.DeleteAfter)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Status", "Cohorts"})
	for _, s := range []models.CohortStatus{models.CohortUpcoming, models.CohortOngoing, models.CohortCompleted, models.CohortCancelled} {
		tw.AppendRow(table.Row{s, rep.Counts[s]})
	}
	tw.Render()
	fmt.Println()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Sweep", "Next Run"})
	for _, k := range lifecycle.SweepKinds() {
		tw.AppendRow(table.Row{k, rep.NextRuns[string(k)].Format(time.RFC3339)})
	}
	tw.Render()

	if len(rep.Recent) > 0 {
		fmt.Println()
		renderRuns(rep.Recent)
	}
}

func historyCmd() *cobra.Command {
	var (
		kind    string
		outcome string
		cohort  string
		limit   int64
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sweep runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := sweepruns.QueryFilter{Kind: kind, Outcome: outcome, Limit: limit}
			if kind != "" {
				if _, err := lifecycle.ParseSweepKind(kind); err != nil {
					return err
				}
			}
			if cohort != "" {
				oid, err := primitive.ObjectIDFromHex(cohort)
				if err != nil {
					return fmt.Errorf("invalid cohort id %q", cohort)
				}
				f.CohortID = &oid
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				runs, err := svc.Runs.Query(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				if len(runs) == 0 {
					fmt.Println("no sweep runs recorded")
					return nil
				}
				renderRuns(runs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by sweep kind")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (success|partial|failed)")
	cmd.Flags().StringVar(&cohort, "cohort", "", "only runs that touched this cohort ID")
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func renderRuns(runs []sweepruns.Run) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Started", "Kind", "Trigger", "Outcome", "Processed", "Updated", "Notify Fail", "Error"})
	for _, r := range runs {
		msg := r.Error
		if msg == "" && len(r.Errors) > 0 {
			msg = strings.Join(r.Errors, "; ")
		}
		tw.AppendRow(table.Row{
			r.StartedAt.Format(time.RFC3339), r.Kind, r.Trigger, r.Outcome,
			r.Processed, r.Updated, r.NotifyFailures, truncate(msg, 60),
		})
	}
	tw.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <cohort-id>",
		Short: "Cancel an upcoming or ongoing cohort",
		Long: `Cancel moves the cohort to cancelled and restarts its retention clock.
The members and the leader are notified of the change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid cohort id %q", args[0])
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				res, err := svc.Sweeper.Cancel(ctx, oid)
				switch {
				case errors.Is(err, mongo.ErrNoDocuments):
					return fmt.Errorf("cohort %s not found", oid.Hex())
				case errors.Is(err, lifecycle.ErrNotCancellable):
					return fmt.Errorf("cohort %s is already finished or retired", oid.Hex())
				case err != nil:
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"cohort_id":       oid.Hex(),
						"status":          models.CohortCancelled,
						"from":            res.Transition.From,
						"notify_failures": res.NotifyFailures,
					})
				}
				fmt.Printf("cohort %s cancelled (was %s)\n", oid.Hex(), res.Transition.From)
				if res.NotifyFailures > 0 {
					fmt.Printf("%d notifications could not be delivered\n", res.NotifyFailures)
				}
				return nil
			})
		},
	}
}
