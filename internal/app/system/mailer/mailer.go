// internal/app/system/mailer/mailer.go
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Email is one outgoing message.
type Email struct {
	To       string
	ToName   string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers an Email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

var errNoRecipient = errors.New("email has no recipient")

// SendGrid sends mail through the SendGrid v3 API.
type SendGrid struct {
	key  string
	from *sgmail.Email
	log  *zap.Logger
	host string
}

// NewSendGrid returns a SendGrid sender using apiKey, sending as fromName <fromEmail>.
func NewSendGrid(apiKey, fromName, fromEmail string, logger *zap.Logger) *SendGrid {
	return &SendGrid{
		key:  apiKey,
		from: sgmail.NewEmail(fromName, fromEmail),
		log:  logger,
		host: sendgridHost,
	}
}

// WithHost points the sender at another API host.
func (s *SendGrid) WithHost(host string) *SendGrid {
	s.host = host
	return s
}

func (s *SendGrid) prepare(e Email) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = e.Subject
	p.AddTos(sgmail.NewEmail(e.ToName, e.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", e.TextBody),
		sgmail.NewContent("text/html", e.HTMLBody),
	)
	return m
}

// Send posts e to SendGrid. A 4xx/5xx response is an error. The request
// itself is not cancellable; ctx is checked before it is made.
func (s *SendGrid) Send(ctx context.Context, e Email) error {
	if e.To == "" {
		return errNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(e))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	s.log.Debug("email sent", zap.String("to", e.To), zap.Int("status", res.StatusCode))
	return nil
}
