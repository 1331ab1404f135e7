// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// WAFFLE's CoreConfig covers the framework settings (ports, TLS, logging
// level, request limits). AppConfig covers the cohort lifecycle service:
// where cohorts live, when the sweeps run, how long finished cohorts are
// kept, and where notifications go.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Timezone is the IANA zone whose calendar day drives status
	// transitions and whose midnight anchors the sweep cadences.
	Timezone string

	// Sweep cadences, as offsets from local midnight. Each sweep runs daily.
	StatusSweepOffset     time.Duration
	WarningSweepOffset    time.Duration
	RetirementSweepOffset time.Duration

	// Retention windows, measured from a cohort's last status change.
	RetentionWarnAfter   time.Duration
	RetentionDeleteAfter time.Duration

	// Scheduler tuning
	SchedulerEnabled bool          // false leaves the timers off; manual sweeps are refused
	SweepTimeout     time.Duration // bound on one sweep run
	RestartDelay     time.Duration // pause between stop and init on restart

	// Notifications
	OpsRecipient string // recipient ID for operator summaries
	SiteName     string // used in email subjects
	NotifyLog    bool   // also write every notification to the log
	NotifyEmail  bool   // also email notifications through SendGrid

	// SendGrid (only used when NotifyEmail is set)
	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	// Ops API
	OpsToken string // bearer token for /ops and /metrics; blank disables the check

	// Audit destinations: "all", "db", "log" or "off"
	AuditLogRuns string
	AuditLogOps  string
}
