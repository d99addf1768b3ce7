package inbound

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/hostpennyuk/website/internal/mailer"
	"github.com/hostpennyuk/website/internal/store"
)

const (
	TemplateDetailed = "detailed"
	TemplateCompact  = "compact"
)

const detailedText = `Original From: {{.FromLine}}
Original To: {{.ToLine}}
Original Subject: {{.Subject}}

---

{{.Body}}
`

const detailedHTML = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #6d28d9; color: white; padding: 15px; border-radius: 8px 8px 0 0;">
    <h3 style="margin: 0;">Forwarded email from {{.InboundAddress}}</h3>
  </div>
  <div style="border: 1px solid #ddd; border-top: none; padding: 20px; background: #f9f9f9;">
    <p><strong>From:</strong> {{.FromLine}}</p>
    <p><strong>To:</strong> {{.ToLine}}</p>
    <p><strong>Subject:</strong> {{.Subject}}</p>
    <hr style="border: none; border-top: 1px solid #ddd; margin: 20px 0;">
    <div style="background: white; padding: 15px; border-radius: 8px;">{{.BodyHTML}}</div>
  </div>
  {{- if .AdminURL}}
  <div style="background: #f5f5f5; padding: 10px; text-align: center; font-size: 12px; color: #666;">
    <p style="margin: 0;">View and reply in the <a href="{{.AdminURL}}" style="color: #6d28d9;">admin dashboard</a></p>
  </div>
  {{- end}}
</div>
`

const compactText = `From: {{.FromLine}}

{{.Body}}
`

const compactHTML = `<p style="font-family: Arial, sans-serif; color: #666;">From: {{.FromLine}}</p>
{{.BodyHTML}}
`

type forwardTemplate struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var forwardTemplates = map[string]forwardTemplate{
	TemplateDetailed: {
		subject: "[Fwd: %[1]s] %[2]s",
		text:    texttemplate.Must(texttemplate.New("detailed").Parse(detailedText)),
		html:    htmltemplate.Must(htmltemplate.New("detailed").Parse(detailedHTML)),
	},
	TemplateCompact: {
		subject: "Fwd: %[2]s",
		text:    texttemplate.Must(texttemplate.New("compact").Parse(compactText)),
		html:    htmltemplate.Must(htmltemplate.New("compact").Parse(compactHTML)),
	},
}

// ValidTemplate reports whether name selects a known forward layout.
func ValidTemplate(name string) bool {
	_, ok := forwardTemplates[name]
	return ok
}

type ForwarderConfig struct {
	AdminEmail     string
	InboundAddress string
	AdminURL       string
	Template       string
}

// Forwarder relays a copy of an inbound email to the operator mailbox.
type Forwarder struct {
	transport mailer.Transport
	cfg       ForwarderConfig
	tmpl      forwardTemplate
}

func NewForwarder(transport mailer.Transport, cfg ForwarderConfig) *Forwarder {
	tmpl, ok := forwardTemplates[cfg.Template]
	if !ok {
		cfg.Template = TemplateDetailed
		tmpl = forwardTemplates[TemplateDetailed]
	}
	return &Forwarder{transport: transport, cfg: cfg, tmpl: tmpl}
}

func (f *Forwarder) Forward(ctx context.Context, email store.InboundEmail) error {
	msg, err := f.Message(email)
	if err != nil {
		return err
	}
	return f.transport.Send(ctx, msg)
}

type forwardView struct {
	FromLine       string
	ToLine         string
	Subject        string
	Body           string
	BodyHTML       htmltemplate.HTML
	InboundAddress string
	AdminURL       string
}

// Message renders the forwarded copy without sending it.
func (f *Forwarder) Message(email store.InboundEmail) (mailer.Message, error) {
	fromName := email.From.Name
	if fromName == "" {
		fromName = email.From.Email
	}
	view := forwardView{
		FromLine:       fmt.Sprintf("%s <%s>", fromName, email.From.Email),
		ToLine:         joinAddresses(email.To),
		Subject:        email.Subject,
		Body:           email.Text,
		InboundAddress: f.cfg.InboundAddress,
		AdminURL:       f.adminLink(),
	}
	if view.Body == "" {
		view.Body = "No text content"
	}
	switch {
	case email.HTML != "":
		view.BodyHTML = htmltemplate.HTML(email.HTML)
	case email.Text != "":
		view.BodyHTML = htmltemplate.HTML(`<pre style="white-space: pre-wrap; font-family: inherit;">` +
			htmltemplate.HTMLEscapeString(email.Text) + `</pre>`)
	default:
		view.BodyHTML = "No content"
	}

	var text, html bytes.Buffer
	if err := f.tmpl.text.Execute(&text, view); err != nil {
		return mailer.Message{}, fmt.Errorf("render forward text: %w", err)
	}
	if err := f.tmpl.html.Execute(&html, view); err != nil {
		return mailer.Message{}, fmt.Errorf("render forward html: %w", err)
	}

	replyTo := email.From.Email
	if email.ReplyTo != nil && email.ReplyTo.Email != "" {
		replyTo = email.ReplyTo.Email
	}
	return mailer.Message{
		FromName: fromName + " (via HostPenny)",
		To:       []string{f.cfg.AdminEmail},
		ReplyTo:  replyTo,
		Subject:  fmt.Sprintf(f.tmpl.subject, f.cfg.InboundAddress, email.Subject),
		Text:     text.String(),
		HTML:     html.String(),
		Headers:  map[string]string{"X-Original-Message-Id": email.MessageID},
	}, nil
}

func (f *Forwarder) adminLink() string {
	if f.cfg.AdminURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(f.cfg.AdminURL, "?") {
		sep = "&"
	}
	return f.cfg.AdminURL + sep + "tab=emails"
}

func joinAddresses(addrs []store.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.Name, addr.Email))
			continue
		}
		parts = append(parts, addr.Email)
	}
	return strings.Join(parts, ", ")
}
