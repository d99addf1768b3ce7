package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/hostpennyuk/website/internal/metrics"
	"github.com/hostpennyuk/website/internal/store"
)

var enquiryTemplate = template.Must(template.New("enquiry").Funcs(template.FuncMap{
	"lines": func(s string) []string { return strings.Split(s, "\n") },
}).Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2563eb;">New Project Enquiry</h2>
  <table style="width: 100%; border-collapse: collapse;">
    <tr><td style="padding: 6px 0; color: #6b7280;">Name</td><td style="padding: 6px 0;"><strong>{{.FullName}}</strong></td></tr>
    <tr><td style="padding: 6px 0; color: #6b7280;">Email</td><td style="padding: 6px 0;"><a href="mailto:{{.Email}}">{{.Email}}</a></td></tr>
    {{- if .Company}}
    <tr><td style="padding: 6px 0; color: #6b7280;">Company</td><td style="padding: 6px 0;">{{.Company}}</td></tr>
    {{- end}}
    {{- if .ProjectType}}
    <tr><td style="padding: 6px 0; color: #6b7280;">Project type</td><td style="padding: 6px 0;">{{.ProjectType}}</td></tr>
    {{- end}}
    {{- if .Budget}}
    <tr><td style="padding: 6px 0; color: #6b7280;">Budget</td><td style="padding: 6px 0;">{{.Budget}}</td></tr>
    {{- end}}
    {{- if .Timeline}}
    <tr><td style="padding: 6px 0; color: #6b7280;">Timeline</td><td style="padding: 6px 0;">{{.Timeline}}</td></tr>
    {{- end}}
  </table>
  {{- if .Idea}}
  <h3 style="color: #111827;">Project idea</h3>
  <p style="background: #f9fafb; padding: 12px; border-radius: 6px;">{{range $i, $line := lines .Idea}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
  {{- end}}
  <p><a href="{{.AdminURL}}" style="color: #2563eb;">Open the admin dashboard</a></p>
</div>
`))

type enquiryView struct {
	store.Enquiry
	AdminURL string
}

type NotifierConfig struct {
	From       string
	AdminEmail string
	AdminURL   string
}

// Notifier tells the operator about new enquiries. The transactional provider
// is tried first and the SMTP relay is the fallback; either may be nil.
type Notifier struct {
	sender    Sender
	transport Transport
	cfg       NotifierConfig
	logger    *slog.Logger
}

func NewNotifier(sender Sender, transport Transport, cfg NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, transport: transport, cfg: cfg, logger: logger}
}

func (n *Notifier) Enabled() bool {
	return n.sender != nil || n.transport != nil
}

// EnquiryCreated sends the new-enquiry notification to the admin mailbox.
func (n *Notifier) EnquiryCreated(ctx context.Context, enquiry store.Enquiry) error {
	if !n.Enabled() {
		return ErrNotConfigured
	}
	var body bytes.Buffer
	if err := enquiryTemplate.Execute(&body, enquiryView{Enquiry: enquiry, AdminURL: n.cfg.AdminURL}); err != nil {
		return fmt.Errorf("render enquiry notification: %w", err)
	}
	subject := fmt.Sprintf("New enquiry from %s", enquiry.FullName)

	var errs []error
	if n.sender != nil {
		_, err := n.sender.Send(ctx, Email{
			From:    n.cfg.From,
			To:      []string{n.cfg.AdminEmail},
			Subject: subject,
			HTML:    body.String(),
			ReplyTo: enquiry.Email,
		})
		if err == nil {
			metrics.RecordNotification("resend", "sent")
			return nil
		}
		metrics.RecordNotification("resend", "failed")
		n.logger.Warn("enquiry notification via provider failed", "enquiry_id", enquiry.ID, "error", err)
		errs = append(errs, err)
	}
	if n.transport != nil {
		err := n.transport.Send(ctx, Message{
			FromName: "HostPenny",
			To:       []string{n.cfg.AdminEmail},
			ReplyTo:  enquiry.Email,
			Subject:  subject,
			HTML:     body.String(),
		})
		if err == nil {
			metrics.RecordNotification("smtp", "sent")
			return nil
		}
		metrics.RecordNotification("smtp", "failed")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
