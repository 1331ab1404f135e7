// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/auditlog"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/tasks"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// EnvPrefix prefixes the environment variables for app keys
// (STRATACOHORT_MONGO_URI and so on).
const EnvPrefix = "STRATACOHORT"

// appConfigKeys defines the configuration keys for StrataCohort.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, timezone, etc.
//   - Environment variables: STRATACOHORT_MONGO_URI, STRATACOHORT_TIMEZONE, etc.
//   - Command-line flags: --mongo_uri, --timezone, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "strata_cohort", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 50, Desc: "MongoDB max connection pool size"},
	{Name: "mongo_min_pool_size", Default: 2, Desc: "MongoDB min connection pool size"},

	{Name: "timezone", Default: "UTC", Desc: "IANA timezone for cohort dates and sweep times (e.g., America/Chicago)"},

	// Sweep cadences (daily, offset from local midnight)
	{Name: "status_sweep_offset", Default: "0h", Desc: "Time of day for the status sweep"},
	{Name: "warning_sweep_offset", Default: "1h", Desc: "Time of day for the retirement warning sweep"},
	{Name: "retirement_sweep_offset", Default: "2h", Desc: "Time of day for the retirement sweep"},

	// Retention
	{Name: "retention_warn_after", Default: "144h", Desc: "Age of a finished cohort when members are warned"},
	{Name: "retention_delete_after", Default: "168h", Desc: "Age of a finished cohort when it is purged"},

	// Scheduler
	{Name: "scheduler_enabled", Default: true, Desc: "Start the sweep timers at startup"},
	{Name: "sweep_timeout", Default: "5m", Desc: "Maximum duration of one sweep run"},
	{Name: "restart_delay", Default: "1s", Desc: "Pause between stop and start on scheduler restart"},

	// Notifications
	{Name: "ops_recipient", Default: "admins", Desc: "Recipient ID for operator summaries"},
	{Name: "site_name", Default: "StrataCohort", Desc: "Site name used in notification emails"},
	{Name: "notify_log", Default: true, Desc: "Also write notifications to the log"},
	{Name: "notify_email", Default: false, Desc: "Also email notifications through SendGrid"},
	{Name: "sendgrid_api_key", Default: "", Desc: "SendGrid API key"},
	{Name: "mail_from", Default: "noreply@stratacohort.local", Desc: "From email address"},
	{Name: "mail_from_name", Default: "StrataCohort", Desc: "From display name"},

	// Ops API
	{Name: "ops_token", Default: "", Desc: "Bearer token for /ops and /metrics (blank disables auth)"},

	// Audit logging
	{Name: "audit_log_runs", Default: "all", Desc: "Sweep run records: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_ops", Default: "all", Desc: "Ops actions: 'all'/'log' to log, 'db'/'off' to skip"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// environment variables and flags with precedence flags > env > files >
// defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		Timezone: appValues.String("timezone"),

		StatusSweepOffset:     appValues.Duration("status_sweep_offset", tasks.DefaultStatusOffset),
		WarningSweepOffset:    appValues.Duration("warning_sweep_offset", tasks.DefaultWarningOffset),
		RetirementSweepOffset: appValues.Duration("retirement_sweep_offset", tasks.DefaultRetirementOffset),

		RetentionWarnAfter:   appValues.Duration("retention_warn_after", lifecycle.DefaultWarnAfter),
		RetentionDeleteAfter: appValues.Duration("retention_delete_after", lifecycle.DefaultDeleteAfter),

		SchedulerEnabled: appValues.Bool("scheduler_enabled"),
		SweepTimeout:     appValues.Duration("sweep_timeout", 5*time.Minute),
		RestartDelay:     appValues.Duration("restart_delay", time.Second),

		OpsRecipient:   appValues.String("ops_recipient"),
		SiteName:       appValues.String("site_name"),
		NotifyLog:      appValues.Bool("notify_log"),
		NotifyEmail:    appValues.Bool("notify_email"),
		SendGridAPIKey: appValues.String("sendgrid_api_key"),
		MailFrom:       appValues.String("mail_from"),
		MailFromName:   appValues.String("mail_from_name"),

		OpsToken: appValues.String("ops_token"),

		AuditLogRuns: appValues.String("audit_log_runs"),
		AuditLogOps:  appValues.String("audit_log_ops"),
	}

	return coreCfg, appCfg, nil
}

// Policy returns the retention policy the config describes.
func (c AppConfig) Policy() lifecycle.Policy {
	return lifecycle.Policy{WarnAfter: c.RetentionWarnAfter, DeleteAfter: c.RetentionDeleteAfter}
}

// Location resolves Timezone. Blank means UTC.
func (c AppConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// Every problem is reported at once rather than one per restart.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := validateApp(appCfg); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	if appCfg.OpsToken == "" && coreCfg != nil && coreCfg.Env == "prod" {
		logger.Warn("ops_token is blank; /ops and /metrics are unauthenticated")
	}
	return nil
}

func validateApp(appCfg AppConfig) error {
	var errs []error

	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		errs = append(errs, fmt.Errorf("invalid MongoDB URI: %w", err))
	}
	if strings.TrimSpace(appCfg.MongoDatabase) == "" {
		errs = append(errs, errors.New("mongo_database is required"))
	}

	loc, err := appCfg.Location()
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", appCfg.Timezone, err))
		loc = time.UTC
	}
	offsets := []struct {
		key string
		d   time.Duration
	}{
		{"status_sweep_offset", appCfg.StatusSweepOffset},
		{"warning_sweep_offset", appCfg.WarningSweepOffset},
		{"retirement_sweep_offset", appCfg.RetirementSweepOffset},
	}
	for _, o := range offsets {
		if err := tasks.Daily(o.d, loc).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.key, err))
		}
	}

	if err := appCfg.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if appCfg.SweepTimeout <= 0 {
		errs = append(errs, errors.New("sweep_timeout must be positive"))
	}
	if appCfg.RestartDelay < 0 {
		errs = append(errs, errors.New("restart_delay must not be negative"))
	}

	if strings.TrimSpace(appCfg.OpsRecipient) == "" {
		errs = append(errs, errors.New("ops_recipient is required"))
	}
	if appCfg.NotifyEmail {
		if appCfg.SendGridAPIKey == "" {
			errs = append(errs, errors.New("notify_email requires sendgrid_api_key"))
		}
		if appCfg.MailFrom == "" {
			errs = append(errs, errors.New("notify_email requires mail_from"))
		}
	}

	for key, mode := range map[string]string{"audit_log_runs": appCfg.AuditLogRuns, "audit_log_ops": appCfg.AuditLogOps} {
		if mode != "" && !auditlog.ValidMode(mode) {
			errs = append(errs, fmt.Errorf("%s must be all, db, log or off (got %q)", key, mode))
		}
	}

	return errors.Join(errs...)
}
