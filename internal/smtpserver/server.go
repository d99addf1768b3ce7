// Package smtpserver accepts mail delivered directly over SMTP and feeds it
// through the same inbound pipeline as webhook deliveries.
package smtpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/hostpennyuk/website/internal/inbound"
	"github.com/hostpennyuk/website/internal/store"
)

const (
	defaultDomain = "hostpenny"
)

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// Receiver is the part of the inbound pipeline the listener needs.
type Receiver interface {
	ReceiveFrom(ctx context.Context, source string, payload map[string]any, raw []byte) (store.InboundEmail, error)
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(receiver Receiver, logger *slog.Logger, addr string, authCfg AuthConfig) *Server {
	backend := &backend{
		receiver:     receiver,
		logger:       logger,
		authEnabled:  authCfg.Enabled,
		authUsername: authCfg.Username,
		authPassword: authCfg.Password,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("smtp server listening", "addr", listener.Addr().String())
	return s.smtp.Serve(listener)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	receiver     Receiver
	logger       *slog.Logger
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.authUsername && password == s.backend.authPassword {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	payload, err := parseMessage(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse smtp message", "error", err)
	}

	email, err := s.backend.receiver.ReceiveFrom(context.Background(), inbound.SourceSMTP, payload, data)
	var validationErr *store.ValidationError
	switch {
	case err == nil:
		s.backend.logger.Info("smtp message accepted", "id", email.ID, "message_id", email.MessageID)
		return nil
	case errors.Is(err, store.ErrDuplicateMessage):
		return nil
	case errors.Is(err, inbound.ErrDeliveryInProgress):
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "message is already being delivered, try again later",
		}
	case errors.As(err, &validationErr):
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      validationErr.Error(),
		}
	default:
		s.backend.logger.Error("store smtp message", "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure storing message",
		}
	}
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// parseMessage builds the loosely typed payload the normalizer understands.
// The envelope fills in whatever the headers leave out.
func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (map[string]any, error) {
	payload := map[string]any{}
	envelopeRecipients := make([]any, 0, len(envelopeTo))
	for _, addr := range envelopeTo {
		envelopeRecipients = append(envelopeRecipients, addr)
	}
	fallback := func() {
		if _, ok := payload["message_id"]; !ok {
			payload["message_id"] = fmt.Sprintf("<%s@%s>", uuid.NewString(), defaultDomain)
		}
		if _, ok := payload["from"]; !ok && envelopeFrom != "" {
			payload["from"] = envelopeFrom
		}
		if _, ok := payload["to"]; !ok {
			payload["to"] = envelopeRecipients
		}
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		fallback()
		return payload, err
	}

	if messageID, err := reader.Header.MessageID(); err == nil && messageID != "" {
		payload["message_id"] = "<" + messageID + ">"
	}
	if subject, err := reader.Header.Subject(); err == nil {
		payload["subject"] = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		payload["from"] = map[string]any{"email": normalizeEmail(fromList[0].Address), "name": fromList[0].Name}
	}
	for _, field := range []struct{ header, key string }{
		{"To", "to"}, {"Cc", "cc"}, {"Reply-To", "reply_to"},
	} {
		if list, err := reader.Header.AddressList(field.header); err == nil && len(list) > 0 {
			payload[field.key] = addressItems(list)
		}
	}
	if inReplyTo, err := reader.Header.MsgIDList("In-Reply-To"); err == nil && len(inReplyTo) > 0 {
		payload["in_reply_to"] = "<" + inReplyTo[0] + ">"
	}
	if references, err := reader.Header.MsgIDList("References"); err == nil && len(references) > 0 {
		refs := make([]any, 0, len(references))
		for _, ref := range references {
			refs = append(refs, "<"+ref+">")
		}
		payload["references"] = refs
	}

	var text, html strings.Builder
	attachments := []any{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			fallback()
			return payload, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				appendBody(&text, body)
			case strings.HasPrefix(mediaType, "text/html"):
				appendBody(&html, body)
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			size, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				continue
			}
			attachments = append(attachments, map[string]any{
				"filename":     filename,
				"content_type": contentType,
				"size":         float64(size),
			})
		}
	}
	payload["text"] = text.String()
	payload["html"] = html.String()
	payload["attachments"] = attachments

	fallback()
	return payload, nil
}

func addressItems(list []*mail.Address) []any {
	items := make([]any, 0, len(list))
	for _, addr := range list {
		items = append(items, map[string]any{"email": normalizeEmail(addr.Address), "name": addr.Name})
	}
	return items
}

func appendBody(b *strings.Builder, body []byte) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.Write(body)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
