// Command cohortctl runs cohort sweeps and reports on cohort lifecycle
// state directly against the database, without the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/bootstrap"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/tasks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "cohortctl",
	Short: "Cohort lifecycle operations",
	Long: `cohortctl drives the cohort lifecycle sweeps by hand and inspects their state.

Sweeps:
- status: moves upcoming cohorts to ongoing and ongoing cohorts to completed as their dates pass.
- warning: tells members of finished cohorts that removal is one day away.
- retirement: removes finished cohorts past the retention window and unlinks their users.

Configuration comes from flags or STRATACOHORT_* environment variables,
the same ones the server reads (STRATACOHORT_MONGO_URI, STRATACOHORT_TIMEZONE, ...).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(bootstrap.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	f := rootCmd.PersistentFlags()
	f.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	f.String("mongo-database", "strata_cohort", "MongoDB database name")
	f.String("timezone", "UTC", "IANA timezone for cohort dates and sweep times")
	f.Duration("retention-warn-after", lifecycle.DefaultWarnAfter, "age of a finished cohort when members are warned")
	f.Duration("retention-delete-after", lifecycle.DefaultDeleteAfter, "age of a finished cohort when it is purged")
	f.Duration("status-sweep-offset", tasks.DefaultStatusOffset, "time of day of the status sweep")
	f.Duration("warning-sweep-offset", tasks.DefaultWarningOffset, "time of day of the warning sweep")
	f.Duration("retirement-sweep-offset", tasks.DefaultRetirementOffset, "time of day of the retirement sweep")
	f.Duration("sweep-timeout", 5*time.Minute, "maximum duration of one sweep")
	f.String("ops-recipient", "admins", "recipient ID for operator summaries")
	f.Bool("notify-log", false, "also print notifications to the log")
	f.Bool("json", false, "output JSON")
	f.BoolP("verbose", "v", false, "log sweep progress to stderr")
	for _, name := range []string{
		"mongo-uri", "mongo-database", "timezone",
		"retention-warn-after", "retention-delete-after",
		"status-sweep-offset", "warning-sweep-offset", "retirement-sweep-offset",
		"sweep-timeout", "ops-recipient", "notify-log", "json", "verbose",
	} {
		_ = viper.BindPFlag(name, f.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(upcomingCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(pruneNotificationsCmd())
}

// appConfig maps the CLI settings onto the server's AppConfig so both build
// the same services.
func appConfig() bootstrap.AppConfig {
	return bootstrap.AppConfig{
		MongoURI:              viper.GetString("mongo-uri"),
		MongoDatabase:         viper.GetString("mongo-database"),
		Timezone:              viper.GetString("timezone"),
		StatusSweepOffset:     viper.GetDuration("status-sweep-offset"),
		WarningSweepOffset:    viper.GetDuration("warning-sweep-offset"),
		RetirementSweepOffset: viper.GetDuration("retirement-sweep-offset"),
		RetentionWarnAfter:    viper.GetDuration("retention-warn-after"),
		RetentionDeleteAfter:  viper.GetDuration("retention-delete-after"),
		SweepTimeout:          viper.GetDuration("sweep-timeout"),
		OpsRecipient:          viper.GetString("ops-recipient"),
		SiteName:              "StrataCohort",
		NotifyLog:             viper.GetBool("notify-log"),
		AuditLogRuns:          "db",
		AuditLogOps:           "off",
	}
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") || viper.GetBool("notify-log") {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

// withServices connects, wires the lifecycle services and runs fn.
func withServices(ctx context.Context, fn func(context.Context, bootstrap.AppConfig, bootstrap.Services) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg := appConfig()
	if err := bootstrap.ValidateConfig(nil, cfg, logger); err != nil {
		return err
	}
	deps, err := bootstrap.ConnectDB(ctx, nil, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bootstrap.Shutdown(context.Background(), nil, cfg, deps, logger) }()

	return fn(ctx, cfg, deps.Services)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
