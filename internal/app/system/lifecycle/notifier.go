package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/microcosm-cc/bluemonday"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultOpsRecipient receives retirement summaries when none is configured.
const DefaultOpsRecipient = "admins"

// Sink delivers one notification. Implementations live in system/notify and
// store/notifications.
type Sink interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// Transition is one applied status change, with the fan-out targets as
// they were when the change was written.
type Transition struct {
	CohortID  primitive.ObjectID   `json:"cohort_id"`
	Name      string               `json:"name"`
	Kind      string               `json:"kind"`
	From      models.CohortStatus  `json:"from"`
	To        models.CohortStatus  `json:"to"`
	LeaderID  *primitive.ObjectID  `json:"-"`
	MemberIDs []primitive.ObjectID `json:"-"`
}

// Notifier turns lifecycle decisions into one notification per affected user.
// Delivery failures are logged and counted, never returned as errors.
type Notifier struct {
	sink         Sink
	log          *zap.Logger
	opsRecipient string
	policy       *bluemonday.Policy
	now          func() time.Time
}

// NewNotifier creates a Notifier. opsRecipient defaults to DefaultOpsRecipient.
func NewNotifier(sink Sink, logger *zap.Logger, opsRecipient string) *Notifier {
	if opsRecipient == "" {
		opsRecipient = DefaultOpsRecipient
	}
	return &Notifier{
		sink:         sink,
		log:          logger,
		opsRecipient: opsRecipient,
		policy:       bluemonday.StrictPolicy(),
		now:          time.Now,
	}
}

type transitionText struct {
	severity string
	title    string
	verb     string
}

var transitionTexts = map[models.CohortStatus]transitionText{
	models.CohortOngoing:   {severity: models.SeveritySuccess, title: "started", verb: "has started"},
	models.CohortCompleted: {severity: models.SeverityInfo, title: "completed", verb: "has been completed"},
	models.CohortCancelled: {severity: models.SeverityError, title: "cancelled", verb: "has been cancelled"},
}

// NotifyTransition sends one message per member and a leader-worded one to
// the leader. Target states other than ongoing, completed and cancelled are
// skipped. It returns the number of failed deliveries.
func (n *Notifier) NotifyTransition(ctx context.Context, t Transition) int {
	txt, ok := transitionTexts[t.To]
	if !ok {
		return 0
	}
	name := n.clean(t.Name)
	title := fmt.Sprintf("%s %s", capitalize(t.Kind), txt.title)
	build := func(recipient primitive.ObjectID, possessive string) models.Notification {
		return models.Notification{
			RecipientID: recipient.Hex(),
			CohortID:    t.CohortID,
			Kind:        models.NotifyTransition,
			Severity:    txt.severity,
			Title:       title,
			Message:     fmt.Sprintf("%s %s %q %s.", possessive, t.Kind, name, txt.verb),
			CreatedAt:   n.now().UTC(),
		}
	}
	return n.fanOut(ctx, t.LeaderID, t.MemberIDs, build)
}

// NotifyRetirementWarning tells every member and the leader that the cohort
// will be purged within the next day. Each message carries a WarningKey, so
// repeating the call for the same cohort state sends nothing new. It returns
// the number of failed deliveries.
func (n *Notifier) NotifyRetirementWarning(ctx context.Context, c Candidate) int {
	name := n.clean(c.Name)
	title := fmt.Sprintf("%s scheduled for removal", capitalize(c.Kind))
	build := func(recipient primitive.ObjectID, possessive string) models.Notification {
		return models.Notification{
			RecipientID: recipient.Hex(),
			CohortID:    c.CohortID,
			Kind:        models.NotifyRetirementWarning,
			Severity:    models.SeverityWarning,
			Title:       title,
			Message: fmt.Sprintf("%s %s %q is %s and will be permanently removed within 24 hours.",
				possessive, c.Kind, name, c.Status),
			CreatedAt: n.now().UTC(),
			DedupeKey: WarningKey(c, recipient),
		}
	}
	return n.fanOut(ctx, c.LeaderID, c.MemberIDs, build)
}

// WarningKey identifies the retirement warning for one recipient of one
// terminal cohort state. A cohort that is warned, reopened and finished
// again gets a new key because its status_updated_at moved.
func WarningKey(c Candidate, recipient primitive.ObjectID) string {
	return fmt.Sprintf("%s:%s:%d:%s", models.NotifyRetirementWarning,
		c.CohortID.Hex(), c.StatusUpdatedAt.UnixMilli(), recipient.Hex())
}

// NotifyRetirementComplete sends a single summary of purged cohorts to the
// operator recipient. Nothing is sent for an empty list. It returns the
// number of failed deliveries (0 or 1).
func (n *Notifier) NotifyRetirementComplete(ctx context.Context, purged []Candidate) int {
	if len(purged) == 0 {
		return 0
	}
	parts := make([]string, 0, len(purged))
	for _, c := range purged {
		parts = append(parts, fmt.Sprintf("%q (%s, %s, %d members)", n.clean(c.Name), c.Kind, c.Status, c.MemberCount))
	}
	msg := models.Notification{
		RecipientID: n.opsRecipient,
		Kind:        models.NotifyRetirementComplete,
		Severity:    models.SeverityInfo,
		Title:       fmt.Sprintf("Retired %d cohort%s", len(purged), plural(len(purged))),
		Message:     "Permanently removed: " + strings.Join(parts, ", ") + ".",
		CreatedAt:   n.now().UTC(),
	}
	if n.deliver(ctx, msg) {
		return 0
	}
	return 1
}

func (n *Notifier) fanOut(ctx context.Context, leader *primitive.ObjectID, members []primitive.ObjectID,
	build func(recipient primitive.ObjectID, possessive string) models.Notification) int {
	failed := 0
	for _, m := range members {
		if !n.deliver(ctx, build(m, "Your")) {
			failed++
		}
	}
	if leader != nil {
		if !n.deliver(ctx, build(*leader, "Your assigned")) {
			failed++
		}
	}
	return failed
}

func (n *Notifier) deliver(ctx context.Context, msg models.Notification) bool {
	if err := n.sink.Deliver(ctx, msg); err != nil {
		if errors.Is(err, ErrAlreadyDelivered) {
			n.log.Debug("notification already delivered",
				zap.String("recipient", msg.RecipientID),
				zap.String("kind", msg.Kind),
				zap.String("cohort_id", msg.CohortID.Hex()))
			return true
		}
		nerr := &NotificationError{Recipient: msg.RecipientID, Err: err}
		n.log.Warn("notification delivery failed",
			zap.Error(nerr),
			zap.String("kind", msg.Kind),
			zap.String("cohort_id", msg.CohortID.Hex()))
		return false
	}
	return true
}

// clean strips any markup from user-entered names before they reach message text.
func (n *Notifier) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(n.policy.Sanitize(s)))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
