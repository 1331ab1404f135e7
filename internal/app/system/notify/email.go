package notify

import (
	"context"
	"errors"
	"fmt"

	userstore "github.com/dalemusser/stratacohort/internal/app/store/users"
	"github.com/dalemusser/stratacohort/internal/app/system/mailer"
	"github.com/dalemusser/stratacohort/internal/app/system/timeouts"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.uber.org/zap"
)

// ContactFetcher resolves recipients to email contacts. *userstore.Fetcher
// satisfies it.
type ContactFetcher interface {
	FetchContact(ctx context.Context, userID string) (userstore.Contact, bool)
	FetchRole(ctx context.Context, role string) ([]userstore.Contact, error)
}

// EmailSink emails notifications to users. The ops alias is expanded to
// every active user holding OpsRole.
type EmailSink struct {
	sender   mailer.Sender
	contacts ContactFetcher
	log      *zap.Logger

	SiteName string
	OpsAlias string
	OpsRole  string
}

// NewEmailSink returns an email sink. opsAlias is the recipient ID used for
// operator summaries; it is mailed to users with role "admin".
func NewEmailSink(sender mailer.Sender, contacts ContactFetcher, logger *zap.Logger, siteName, opsAlias string) *EmailSink {
	return &EmailSink{
		sender:   sender,
		contacts: contacts,
		log:      logger,
		SiteName: siteName,
		OpsAlias: opsAlias,
		OpsRole:  "admin",
	}
}

func (s *EmailSink) Deliver(ctx context.Context, n models.Notification) error {
	var to []userstore.Contact
	if n.RecipientID == s.OpsAlias {
		admins, err := s.contacts.FetchRole(ctx, s.OpsRole)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", s.OpsAlias, err)
		}
		to = admins
	} else if c, ok := s.contacts.FetchContact(ctx, n.RecipientID); ok {
		to = append(to, c)
	}
	if len(to) == 0 {
		s.log.Debug("no email address for recipient", zap.String("recipient", n.RecipientID))
		return nil
	}

	var errs []error
	for _, c := range to {
		e := mailer.BuildNotificationEmail(mailer.NotificationEmailData{
			SiteName:      s.SiteName,
			RecipientName: c.Name,
			Title:         n.Title,
			Message:       n.Message,
			Severity:      n.Severity,
		})
		e.To, e.ToName = c.Email, c.Name
		if err := s.send(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Email, err))
		}
	}
	return errors.Join(errs...)
}

func (s *EmailSink) send(ctx context.Context, e mailer.Email) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Delivery())
	defer cancel()
	return s.sender.Send(ctx, e)
}
