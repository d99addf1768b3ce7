package mailer

import (
	"context"
	"errors"

	"github.com/resend/resend-go/v2"
)

// Resend sends transactional mail through the Resend API.
type Resend struct {
	client *resend.Client
	from   string
}

func NewResend(apiKey, from string) *Resend {
	return &Resend{client: resend.NewClient(apiKey), from: from}
}

func (r *Resend) Send(ctx context.Context, email Email) (string, error) {
	if len(email.To) == 0 {
		return "", &TransportError{Provider: "resend", Err: errors.New("no recipients")}
	}
	from := email.From
	if from == "" {
		from = r.from
	}
	params := &resend.SendEmailRequest{
		From:    from,
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
		Headers: email.Headers,
	}
	sent, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", &TransportError{Provider: "resend", Err: err}
	}
	return sent.Id, nil
}
