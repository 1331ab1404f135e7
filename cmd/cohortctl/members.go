package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/bootstrap"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var errNotEnrollable = errors.New("cohort not found, finished or full")

func enrollCmd() *cobra.Command {
	var asLeader bool
	cmd := &cobra.Command{
		Use:   "enroll <cohort-id> <user-id|email>",
		Short: "Add a user to an upcoming or ongoing cohort",
		Long: `Enroll adds the user to the cohort's members, or makes them its leader
with --leader, and points the user's cohort link at it. A user already
linked to another cohort is refused.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cohortID, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid cohort id %q", args[0])
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				u, err := lookupUser(ctx, svc, args[1])
				if errors.Is(err, mongo.ErrNoDocuments) {
					return fmt.Errorf("user %q not found", args[1])
				}
				if err != nil {
					return err
				}
				if u.CohortID != nil && *u.CohortID != cohortID {
					return fmt.Errorf("user %s already belongs to cohort %s", u.Email, u.CohortID.Hex())
				}
				if asLeader && u.Role != "leader" {
					return fmt.Errorf("user %s has role %q; only leaders can lead a cohort", u.Email, u.Role)
				}

				ok, err := svc.Cohorts.Enroll(ctx, cohortID, u.ID, asLeader, time.Now().UTC())
				if err != nil {
					return err
				}
				if !ok {
					return errNotEnrollable
				}
				if err := svc.Users.SetCohort(ctx, u.ID, cohortID); err != nil {
					return fmt.Errorf("link user to cohort: %w", err)
				}

				role := "member"
				if asLeader {
					role = "leader"
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"cohort_id": cohortID.Hex(), "user_id": u.ID.Hex(), "role": role})
				}
				fmt.Printf("%s enrolled in cohort %s as %s\n", u.Email, cohortID.Hex(), role)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asLeader, "leader", false, "enroll as the cohort leader")
	return cmd
}

// lookupUser accepts a user ObjectID in hex or an email address.
func lookupUser(ctx context.Context, svc bootstrap.Services, ref string) (*models.User, error) {
	if oid, err := primitive.ObjectIDFromHex(ref); err == nil {
		return svc.Users.GetByID(ctx, oid)
	}
	return svc.Users.GetByEmail(ctx, ref)
}

type inboxReport struct {
	Recipient     string                `json:"recipient"`
	Unread        int64                 `json:"unread"`
	MarkedRead    int                   `json:"marked_read"`
	Notifications []models.Notification `json:"notifications"`
}

func inboxCmd() *cobra.Command {
	var (
		unreadOnly bool
		markRead   bool
		limit      int64
	)
	cmd := &cobra.Command{
		Use:   "inbox <recipient>",
		Short: "List in-app notifications for a user ID or operator alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient := args[0]
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				list, err := svc.Notifications.ListByRecipient(ctx, recipient, unreadOnly, limit)
				if err != nil {
					return err
				}
				rep := inboxReport{Recipient: recipient, Notifications: list}
				if markRead {
					for i, n := range list {
						if n.Read {
							continue
						}
						ok, err := svc.Notifications.MarkRead(ctx, recipient, n.ID)
						if err != nil {
							return fmt.Errorf("mark %s read: %w", n.ID.Hex(), err)
						}
						if ok {
							rep.MarkedRead++
							rep.Notifications[i].Read = true
						}
					}
				}
				if rep.Unread, err = svc.Notifications.CountUnread(ctx, recipient); err != nil {
					return err
				}

				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("%s: %d unread\n", recipient, rep.Unread)
				if len(list) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Created", "Severity", "Kind", "Title", "Read"})
				for _, n := range rep.Notifications {
					tw.AppendRow(table.Row{n.CreatedAt.Format(time.RFC3339), n.Severity, n.Kind, truncate(n.Title, 50), n.Read})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only unread notifications")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the listed notifications as read")
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum notifications to list")
	return cmd
}

func pruneNotificationsCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune-notifications",
		Short: "Delete in-app notifications older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ bootstrap.AppConfig, svc bootstrap.Services) error {
				cutoff := svc.Sweeper.Now().Add(-olderThan)
				n, err := svc.Notifications.DeleteOlderThan(ctx, cutoff)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": n, "cutoff": cutoff})
				}
				fmt.Printf("deleted %d notifications created before %s\n", n, cutoff.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age past which notifications are deleted")
	return cmd
}
