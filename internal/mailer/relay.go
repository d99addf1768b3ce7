package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const implicitTLSPort = 465

type RelayConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
	// DisableStartTLS talks plaintext on non-465 ports. STARTTLS is
	// otherwise required and a server that does not offer it is an error.
	DisableStartTLS bool
	TLSConfig       *tls.Config
}

// Relay submits mail to an SMTP submission server. A Relay holds no open
// connection; each Send dials, delivers and quits.
type Relay struct {
	cfg RelayConfig
	now func() time.Time
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Relay{cfg: cfg, now: time.Now}
}

// Send delivers msg. The whole exchange is bounded by the relay timeout and by
// ctx; when either expires the connection is closed and the send abandoned.
func (r *Relay) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return &TransportError{Provider: "smtp", Err: errors.New("no recipients")}
	}
	from := msg.From
	if from == "" {
		from = r.cfg.Username
	}
	raw, err := r.compose(from, msg)
	if err != nil {
		return &TransportError{Provider: "smtp", Err: fmt.Errorf("compose message: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := r.deliver(ctx, from, msg.To, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		} else if errors.Is(err, os.ErrDeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return &TransportError{Provider: "smtp", Err: err}
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, from string, to []string, raw []byte) error {
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	conn, err := r.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := r.newClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	if r.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("server does not advertise AUTH")
		}
		if err := client.Auth(sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

// newClient greets the server, upgrading with STARTTLS unless the connection
// is already TLS or plaintext was asked for.
func (r *Relay) newClient(conn net.Conn) (*smtp.Client, error) {
	if r.cfg.Port == implicitTLSPort || r.cfg.DisableStartTLS {
		client := smtp.NewClient(conn)
		if err := client.Hello("localhost"); err != nil {
			client.Close()
			return nil, fmt.Errorf("hello: %w", err)
		}
		return client, nil
	}
	client, err := smtp.NewClientStartTLS(conn, r.tlsConfig())
	if err != nil {
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return client, nil
}

func (r *Relay) dial(ctx context.Context, addr string) (net.Conn, error) {
	if r.cfg.Port == implicitTLSPort {
		dialer := &tls.Dialer{Config: r.tlsConfig()}
		return dialer.DialContext(ctx, "tcp", addr)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", addr)
}

func (r *Relay) tlsConfig() *tls.Config {
	if r.cfg.TLSConfig != nil {
		return r.cfg.TLSConfig
	}
	return &tls.Config{ServerName: r.cfg.Host, MinVersion: tls.VersionTLS12}
}

// compose renders msg as RFC 5322 text; text and HTML bodies become a
// multipart/alternative message.
func (r *Relay) compose(from string, msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(r.now())
	h.SetAddressList("From", []*mail.Address{{Name: sanitizeHeader(msg.FromName), Address: from}})
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: sanitizeHeader(addr)})
	}
	h.SetAddressList("To", to)
	if msg.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: sanitizeHeader(msg.ReplyTo)}})
	}
	h.SetSubject(sanitizeHeader(msg.Subject))
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	for key, value := range msg.Headers {
		h.Set(key, sanitizeHeader(value))
	}

	var buf bytes.Buffer
	switch {
	case msg.Text != "" && msg.HTML != "":
		w, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if err := writeInlinePart(w, "text/plain", msg.Text); err != nil {
			return nil, err
		}
		if err := writeInlinePart(w, "text/html", msg.HTML); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		contentType, body := "text/plain", msg.Text
		if body == "" {
			contentType, body = "text/html", msg.HTML
		}
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeInlinePart(w *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, body); err != nil {
		return err
	}
	return part.Close()
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
