// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// NotificationEmailData holds data for lifecycle notification emails.
type NotificationEmailData struct {
	SiteName      string
	RecipientName string
	Title         string
	Message       string
	Severity      string // success | info | warning | error
}

// BuildNotificationEmail creates a notification email with both HTML and text bodies.
func BuildNotificationEmail(data NotificationEmailData) Email {
	return Email{
		To:       "", // Set by caller
		Subject:  fmt.Sprintf("[%s] %s", data.SiteName, data.Title),
		TextBody: buildNotificationText(data),
		HTMLBody: buildNotificationHTML(data),
	}
}

func buildNotificationText(data NotificationEmailData) string {
	var buf bytes.Buffer
	if data.RecipientName != "" {
		buf.WriteString(fmt.Sprintf("Hi %s,\n\n", data.RecipientName))
	}
	buf.WriteString(data.Title + "\n\n")
	buf.WriteString(data.Message + "\n\n")
	buf.WriteString(fmt.Sprintf("This is an automated message from %s.\n", data.SiteName))
	return buf.String()
}

var notificationTmpl = template.Must(template.New("notification").Parse(notificationHTMLTemplate))

func buildNotificationHTML(data NotificationEmailData) string {
	var buf bytes.Buffer
	_ = notificationTmpl.Execute(&buf, struct {
		NotificationEmailData
		Accent string
	}{data, accentFor(data.Severity)})
	return buf.String()
}

func accentFor(severity string) string {
	switch severity {
	case "success":
		return "#059669"
	case "warning":
		return "#d97706"
	case "error":
		return "#dc2626"
	default:
		return "#4f46e5"
	}
}

const notificationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1);">
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 3px solid {{.Accent}};">
              <h1 style="margin: 0; font-size: 22px; font-weight: 600; color: #1f2937;">{{.Title}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              {{if .RecipientName}}<p style="margin: 0 0 16px; font-size: 16px; color: #374151;">Hi {{.RecipientName}},</p>{{end}}
              <p style="margin: 0; font-size: 16px; color: #374151; line-height: 1.5;">{{.Message}}</p>
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">
                This is an automated message from {{.SiteName}}.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
