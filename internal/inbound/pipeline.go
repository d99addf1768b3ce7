package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostpennyuk/website/internal/mailer"
	"github.com/hostpennyuk/website/internal/metrics"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

const (
	SourceWebhook = "webhook"
	SourceSMTP    = "smtp"
)

const defaultForwardTimeout = 10 * time.Second

// ErrDeliveryInProgress means the dedup marker for a message is held but no
// record has been stored for it. The sender should retry later.
var ErrDeliveryInProgress = errors.New("delivery of this message is already in progress")

type Options struct {
	// Forwarder is nil when no relay is configured; stored mail is then left
	// unforwarded.
	Forwarder      *Forwarder
	Deduper        Deduper
	ForwardTimeout time.Duration
	Logger         *slog.Logger
}

// Pipeline stores inbound mail, announces it to admin streams and forwards a
// copy. Forwarding is best-effort: a failed relay never undoes the insert.
type Pipeline struct {
	store     *store.Store
	hub       *sse.Hub
	forwarder *Forwarder
	dedup     Deduper
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(st *store.Store, hub *sse.Hub, opts Options) *Pipeline {
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = defaultForwardTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		hub:       hub,
		forwarder: opts.Forwarder,
		dedup:     opts.Deduper,
		timeout:   opts.ForwardTimeout,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

func (p *Pipeline) ForwardingEnabled() bool {
	return p.forwarder != nil
}

// Receive ingests a webhook delivery. See ReceiveFrom.
func (p *Pipeline) Receive(ctx context.Context, payload map[string]any, raw []byte) (store.InboundEmail, error) {
	return p.ReceiveFrom(ctx, SourceWebhook, payload, raw)
}

// ReceiveFrom normalizes payload, stores it and forwards it. A redelivered
// message returns the already stored record with store.ErrDuplicateMessage;
// one whose first delivery has not been stored yet gets ErrDeliveryInProgress.
// The returned record reflects the forwarding outcome.
func (p *Pipeline) ReceiveFrom(ctx context.Context, source string, payload map[string]any, raw []byte) (store.InboundEmail, error) {
	email, err := Normalize(payload)
	if err != nil {
		metrics.RecordInbound(source, "invalid")
		return email, err
	}
	email.Raw = raw

	if p.dedup != nil && !p.dedup.AcquireOnce(ctx, email.MessageID) {
		existing, err := p.store.GetInboundEmailByMessageID(ctx, email.MessageID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			metrics.RecordInbound(source, "error")
			return email, err
		}
		if err == nil {
			metrics.RecordInbound(source, "duplicate")
			return existing, store.ErrDuplicateMessage
		}
		metrics.RecordInbound(source, "in_progress")
		p.logger.Warn("dedup marker held without a stored record", "source", source, "message_id", email.MessageID)
		return email, ErrDeliveryInProgress
	}

	created, err := p.store.CreateInboundEmail(ctx, email)
	if errors.Is(err, store.ErrDuplicateMessage) {
		metrics.RecordInbound(source, "duplicate")
		existing, lookupErr := p.store.GetInboundEmailByMessageID(ctx, email.MessageID)
		if lookupErr != nil {
			return email, fmt.Errorf("load duplicate message: %w", lookupErr)
		}
		p.logger.Info("duplicate inbound email", "source", source, "message_id", email.MessageID, "id", existing.ID)
		return existing, store.ErrDuplicateMessage
	}
	if err != nil {
		metrics.RecordInbound(source, "error")
		if p.dedup != nil {
			p.dedup.Release(context.WithoutCancel(ctx), email.MessageID)
		}
		return email, err
	}

	metrics.RecordInbound(source, "stored")
	p.logger.Info("inbound email stored",
		"source", source,
		"id", created.ID,
		"message_id", created.MessageID,
		"from", created.From.Email,
	)
	p.hub.Publish(sse.TopicInbound, "inbound.received", created)

	forwarded, err := p.forward(ctx, created)
	if err != nil {
		if !errors.Is(err, mailer.ErrNotConfigured) {
			p.logger.Warn("forward inbound email", "id", created.ID, "message_id", created.MessageID, "error", err)
		}
		return created, nil
	}
	return forwarded, nil
}

// Forward relays a stored record by id regardless of its forwarded flag.
func (p *Pipeline) Forward(ctx context.Context, id string) (store.InboundEmail, error) {
	email, err := p.store.GetInboundEmail(ctx, id)
	if err != nil {
		return store.InboundEmail{}, err
	}
	return p.forward(ctx, email)
}

type ReforwardResult struct {
	Attempted int `json:"attempted"`
	Forwarded int `json:"forwarded"`
	Failed    int `json:"failed"`
}

// Reforward retries up to limit records that were stored but never forwarded.
func (p *Pipeline) Reforward(ctx context.Context, limit int) (ReforwardResult, error) {
	var result ReforwardResult
	if p.forwarder == nil {
		return result, mailer.ErrNotConfigured
	}
	pending, err := p.store.ListUnforwarded(ctx, limit)
	if err != nil {
		return result, err
	}
	for _, email := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		if _, err := p.forward(ctx, email); err != nil {
			result.Failed++
			p.logger.Warn("reforward inbound email", "id", email.ID, "error", err)
			continue
		}
		result.Forwarded++
	}
	p.logger.Info("reforward complete",
		"attempted", result.Attempted,
		"forwarded", result.Forwarded,
		"failed", result.Failed,
	)
	return result, nil
}

// forward runs on a context detached from the caller so a client hanging up
// does not abort a relay in flight; the relay timeout still bounds it.
func (p *Pipeline) forward(ctx context.Context, email store.InboundEmail) (store.InboundEmail, error) {
	if p.forwarder == nil {
		metrics.RecordForward("skipped", 0)
		return email, mailer.ErrNotConfigured
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.forwarder.Forward(fctx, email); err != nil {
		metrics.RecordForward("failed", time.Since(start))
		return email, err
	}
	metrics.RecordForward("forwarded", time.Since(start))

	statusCtx := context.WithoutCancel(ctx)
	if err := p.store.MarkForwarded(statusCtx, email.ID, p.now()); err != nil {
		return email, fmt.Errorf("mark forwarded: %w", err)
	}
	updated, err := p.store.GetInboundEmail(statusCtx, email.ID)
	if err != nil {
		return email, err
	}
	p.logger.Info("inbound email forwarded", "id", updated.ID, "message_id", updated.MessageID)
	p.hub.Publish(sse.TopicInbound, "inbound.updated", updated)
	return updated, nil
}
