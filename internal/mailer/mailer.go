// Package mailer holds the outbound mail transports: the transactional
// provider used for notifications and replies, and the SMTP relay used to
// forward inbound mail to the operator mailbox.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no transport is configured for a send.
var ErrNotConfigured = errors.New("email transport not configured")

// TransportError wraps a failure reported by a mail provider or SMTP server.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Email is a message for the transactional provider.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
	Headers map[string]string
}

// Sender submits mail through the transactional provider and returns the
// provider's message id.
type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

// Message is a message for the SMTP relay.
type Message struct {
	FromName string
	From     string
	To       []string
	ReplyTo  string
	Subject  string
	Text     string
	HTML     string
	Headers  map[string]string
}

// Transport submits a message over SMTP.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
