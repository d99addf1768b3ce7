package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hostpennyuk/website/internal/mailer"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

type recordingTransport struct {
	mu   sync.Mutex
	err  error
	wait bool
	sent []mailer.Message
}

func (r *recordingTransport) Send(ctx context.Context, msg mailer.Message) error {
	r.mu.Lock()
	err, wait := r.err, r.wait
	r.mu.Unlock()
	if wait {
		<-ctx.Done()
		return &mailer.TransportError{Provider: "smtp", Err: ctx.Err()}
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type stubDeduper struct {
	seen     map[string]bool
	released []string
}

func (d *stubDeduper) AcquireOnce(_ context.Context, messageID string) bool {
	if d.seen[messageID] {
		return false
	}
	d.seen[messageID] = true
	return true
}

func (d *stubDeduper) Release(_ context.Context, messageID string) {
	d.released = append(d.released, messageID)
	delete(d.seen, messageID)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return st
}

func newTestPipeline(t *testing.T, transport mailer.Transport, opts Options) (*Pipeline, *store.Store, *sse.Hub) {
	t.Helper()
	st := newTestStore(t)
	hub := sse.NewHub()
	if transport != nil {
		opts.Forwarder = NewForwarder(transport, ForwarderConfig{
			AdminEmail:     "owner@example.com",
			InboundAddress: "hello@hostpenny.co.uk",
			Template:       TemplateDetailed,
		})
	}
	return NewPipeline(st, hub, opts), st, hub
}

func webhookPayload(messageID string) map[string]any {
	return map[string]any{
		"message_id": messageID,
		"from":       map[string]any{"email": "jane@example.org", "name": "Jane"},
		"to":         []any{"hello@hostpenny.co.uk"},
		"subject":    "Hello",
		"text":       "Body",
	}
}

func TestReceiveStoresAndForwards(t *testing.T) {
	transport := &recordingTransport{}
	pipeline, st, hub := newTestPipeline(t, transport, Options{})
	events, unsubscribe := hub.Subscribe(sse.TopicInbound)
	defer unsubscribe()
	ctx := context.Background()

	email, err := pipeline.Receive(ctx, webhookPayload("m-1"), []byte(`{"raw":true}`))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !email.ForwardedToGmail || email.ForwardedAt == nil {
		t.Errorf("expected forwarded record, got %+v", email)
	}
	if transport.count() != 1 {
		t.Fatalf("expected one relay, got %d", transport.count())
	}

	stored, err := st.GetInboundEmail(ctx, email.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.ForwardedToGmail {
		t.Error("forwarded flag should be persisted")
	}
	if string(stored.Raw) != `{"raw":true}` {
		t.Errorf("raw payload should be retained, got %q", stored.Raw)
	}
	if len(events) != 2 {
		t.Errorf("expected received and updated events, got %d", len(events))
	}
}

func TestReceiveKeepsRecordWhenForwardFails(t *testing.T) {
	transport := &recordingTransport{err: &mailer.TransportError{Provider: "smtp", Err: errors.New("refused")}}
	pipeline, st, _ := newTestPipeline(t, transport, Options{})
	ctx := context.Background()

	email, err := pipeline.Receive(ctx, webhookPayload("m-1"), nil)
	if err != nil {
		t.Fatalf("forward failure must not fail the receive: %v", err)
	}
	stored, err := st.GetInboundEmail(ctx, email.ID)
	if err != nil {
		t.Fatalf("record should be stored: %v", err)
	}
	if stored.ForwardedToGmail || stored.ForwardedAt != nil {
		t.Errorf("failed relay must not mark forwarded: %+v", stored)
	}
}

func TestReceiveForwardIsBoundedByTimeout(t *testing.T) {
	transport := &recordingTransport{wait: true}
	pipeline, _, _ := newTestPipeline(t, transport, Options{ForwardTimeout: 50 * time.Millisecond})

	start := time.Now()
	email, err := pipeline.Receive(context.Background(), webhookPayload("m-1"), nil)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("receive should not wait on a stalled relay, took %s", elapsed)
	}
	if email.ForwardedToGmail {
		t.Error("timed out relay must not mark forwarded")
	}
}

func TestReceiveWithoutRelay(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, nil, Options{})
	if pipeline.ForwardingEnabled() {
		t.Fatal("forwarding should be disabled without a relay")
	}
	email, err := pipeline.Receive(context.Background(), webhookPayload("m-1"), nil)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if email.ForwardedToGmail {
		t.Error("nothing should be forwarded")
	}
}

func TestReceiveDuplicate(t *testing.T) {
	transport := &recordingTransport{}
	pipeline, _, _ := newTestPipeline(t, transport, Options{})
	ctx := context.Background()

	first, err := pipeline.Receive(ctx, webhookPayload("m-1"), nil)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	second, err := pipeline.Receive(ctx, webhookPayload("m-1"), nil)
	if !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate should return the stored record, got %q want %q", second.ID, first.ID)
	}
	if transport.count() != 1 {
		t.Errorf("duplicate must not be forwarded again, relays=%d", transport.count())
	}
}

func TestReceiveDeduperShortCircuits(t *testing.T) {
	dedup := &stubDeduper{seen: map[string]bool{}}
	pipeline, st, _ := newTestPipeline(t, &recordingTransport{}, Options{Deduper: dedup})
	ctx := context.Background()

	first, err := pipeline.Receive(ctx, webhookPayload("m-1"), nil)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	second, err := pipeline.Receive(ctx, webhookPayload("m-1"), nil)
	if !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected stored record, got %+v", second)
	}

	dedup.seen["m-2"] = true
	inflight, err := pipeline.Receive(ctx, webhookPayload("m-2"), nil)
	if !errors.Is(err, ErrDeliveryInProgress) {
		t.Fatalf("held marker without a record should ask for a retry, got %v", err)
	}
	if errors.Is(err, store.ErrDuplicateMessage) {
		t.Error("an unstored message must not be reported as a duplicate")
	}
	if inflight.ID != "" {
		t.Errorf("nothing was stored, got id %q", inflight.ID)
	}
	if _, err := st.GetInboundEmailByMessageID(ctx, "m-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no stored record, got %v", err)
	}
}

func TestReceiveValidationStoresNothing(t *testing.T) {
	pipeline, st, _ := newTestPipeline(t, &recordingTransport{}, Options{})
	ctx := context.Background()

	_, err := pipeline.Receive(ctx, map[string]any{"from": "a@example.com"}, nil)
	var validationErr *store.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	page, err := st.ListInboundEmails(ctx, store.InboundFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("nothing should be stored, got %d", page.Total)
	}
}

func TestReforward(t *testing.T) {
	transport := &recordingTransport{err: errors.New("down")}
	pipeline, st, _ := newTestPipeline(t, transport, Options{})
	ctx := context.Background()

	for _, id := range []string{"m-1", "m-2"} {
		if _, err := pipeline.Receive(ctx, webhookPayload(id), nil); err != nil {
			t.Fatalf("receive %s: %v", id, err)
		}
	}

	transport.setErr(nil)
	result, err := pipeline.Reforward(ctx, 10)
	if err != nil {
		t.Fatalf("reforward: %v", err)
	}
	if result.Attempted != 2 || result.Forwarded != 2 || result.Failed != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	pending, err := st.ListUnforwarded(ctx, 10)
	if err != nil {
		t.Fatalf("list unforwarded: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected nothing pending, got %d", len(pending))
	}
}

func TestReforwardWithoutRelay(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, nil, Options{})
	if _, err := pipeline.Reforward(context.Background(), 10); !errors.Is(err, mailer.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestForwardByID(t *testing.T) {
	transport := &recordingTransport{}
	pipeline, _, _ := newTestPipeline(t, transport, Options{})
	ctx := context.Background()

	email, err := pipeline.Receive(ctx, webhookPayload("m-1"), nil)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	again, err := pipeline.Forward(ctx, email.ID)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !again.ForwardedAt.Equal(*email.ForwardedAt) {
		t.Errorf("forwardedAt must keep the first timestamp: %v vs %v", again.ForwardedAt, email.ForwardedAt)
	}
	if transport.count() != 2 {
		t.Errorf("manual forward should relay again, relays=%d", transport.count())
	}
	if _, err := pipeline.Forward(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisDeduperFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	dedup := NewRedisDeduper(rdb, time.Minute, nil)

	if !dedup.AcquireOnce(context.Background(), "m-1") {
		t.Fatal("unreachable redis must not block processing")
	}
	dedup.Release(context.Background(), "m-1")
}
