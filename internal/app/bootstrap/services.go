// internal/app/bootstrap/services.go
package bootstrap

import (
	"fmt"

	cohortstore "github.com/dalemusser/stratacohort/internal/app/store/cohorts"
	notificationstore "github.com/dalemusser/stratacohort/internal/app/store/notifications"
	"github.com/dalemusser/stratacohort/internal/app/store/sweepruns"
	userstore "github.com/dalemusser/stratacohort/internal/app/store/users"
	"github.com/dalemusser/stratacohort/internal/app/system/auditlog"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/mailer"
	"github.com/dalemusser/stratacohort/internal/app/system/notify"
	"github.com/dalemusser/stratacohort/internal/app/system/tasks"
	"github.com/dalemusser/stratacohort/internal/app/system/workers"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Services is the cohort lifecycle machinery wired onto one database.
// The server and cohortctl build it the same way.
type Services struct {
	Cohorts       *cohortstore.Store
	Users         *userstore.Store
	Notifications *notificationstore.Store
	Runs          *sweepruns.Store
	Audit         *auditlog.Logger
	Sweeper       *lifecycle.Sweeper
	Scheduler     *workers.Scheduler
}

// BuildServices wires stores, notification sinks, the sweeper and the
// scheduler. Nothing is started. reg may be nil to skip metric registration.
func BuildServices(db *mongo.Database, appCfg AppConfig, logger *zap.Logger, reg prometheus.Registerer) (Services, error) {
	loc, err := appCfg.Location()
	if err != nil {
		return Services{}, fmt.Errorf("timezone: %w", err)
	}

	cohorts := cohortstore.New(db)
	users := userstore.New(db)
	inbox := notificationstore.New(db)
	runs := sweepruns.New(db)
	audit := auditlog.New(runs, logger.Named("audit"), auditlog.Config{
		Runs: appCfg.AuditLogRuns,
		Ops:  appCfg.AuditLogOps,
	})

	sink := buildSink(db, inbox, appCfg, logger)
	notifier := lifecycle.NewNotifier(sink, logger.Named("notify"), appCfg.OpsRecipient)
	sweeper := lifecycle.NewSweeper(cohorts, users, notifier, appCfg.Policy(),
		logger.Named("sweeper"), lifecycle.WithLocation(loc))

	jobs := []tasks.Job{
		tasks.StatusSweepJob(sweeper, tasks.Daily(appCfg.StatusSweepOffset, loc)),
		tasks.RetirementWarningJob(sweeper, tasks.Daily(appCfg.WarningSweepOffset, loc)),
		tasks.RetirementJob(sweeper, tasks.Daily(appCfg.RetirementSweepOffset, loc)),
	}
	sched := workers.NewScheduler(jobs, sweeper, logger.Named("scheduler"), workers.NewMetrics(reg), workers.Config{
		SweepTimeout: appCfg.SweepTimeout,
		RestartDelay: appCfg.RestartDelay,
		History:      audit,
	})

	return Services{
		Cohorts:       cohorts,
		Users:         users,
		Notifications: inbox,
		Runs:          runs,
		Audit:         audit,
		Sweeper:       sweeper,
		Scheduler:     sched,
	}, nil
}

// buildSink stores every notification in-app and fans out to the log and
// email sinks the config enables.
func buildSink(db *mongo.Database, primary *notificationstore.Store, appCfg AppConfig, logger *zap.Logger) lifecycle.Sink {
	var secondary []lifecycle.Sink
	if appCfg.NotifyLog {
		secondary = append(secondary, notify.NewLogSink(logger.Named("notifications")))
	}
	if appCfg.NotifyEmail {
		sender := mailer.NewSendGrid(appCfg.SendGridAPIKey, appCfg.MailFromName, appCfg.MailFrom, logger.Named("mailer"))
		secondary = append(secondary, notify.NewEmailSink(sender, userstore.NewFetcher(db), logger.Named("email"),
			appCfg.SiteName, appCfg.OpsRecipient))
	}
	if len(secondary) == 0 {
		return primary
	}
	return notify.NewMulti(logger, primary, secondary...)
}
