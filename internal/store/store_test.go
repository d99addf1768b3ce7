package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func sampleInbound(messageID string) InboundEmail {
	return InboundEmail{
		MessageID: messageID,
		From:      Address{Email: "alice@example.com", Name: "Alice"},
		To:        []Address{{Email: "hello@hostpenny.co.uk"}},
		Subject:   "Quote request",
		Text:      "Can you build a shop?",
	}
}

func boolPtr(v bool) *bool { return &v }

func TestCreateInboundEmailDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	draft := sampleInbound("m1")
	draft.Subject = "  "
	created, err := s.CreateInboundEmail(ctx, draft)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetInboundEmail(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Subject != DefaultSubject {
		t.Errorf("expected default subject, got %q", got.Subject)
	}
	if got.Read || got.Starred || got.Archived || got.ForwardedToGmail {
		t.Errorf("flags should default to false: %+v", got)
	}
	if got.ForwardedAt != nil {
		t.Error("forwardedAt should be unset")
	}
	if len(got.To) != 1 || got.To[0].Email != "hello@hostpenny.co.uk" {
		t.Errorf("unexpected to: %+v", got.To)
	}
	if got.Labels == nil || got.Cc == nil || got.Attachments == nil {
		t.Error("list fields should decode to empty slices")
	}
	if got.ReceivedAt.IsZero() {
		t.Error("receivedAt should be set")
	}
}

func TestCreateInboundEmailDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateInboundEmail(ctx, sampleInbound("dup"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = s.CreateInboundEmail(ctx, sampleInbound("dup"))
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	page, err := s.ListInboundEmails(ctx, InboundFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected exactly one row, got %d", page.Total)
	}
	existing, err := s.GetInboundEmailByMessageID(ctx, "dup")
	if err != nil {
		t.Fatalf("get by message id: %v", err)
	}
	if existing.ID != first.ID {
		t.Errorf("expected %s, got %s", first.ID, existing.ID)
	}
}

func TestCreateInboundEmailValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := map[string]func(*InboundEmail){
		"messageId":  func(e *InboundEmail) { e.MessageID = "" },
		"from.email": func(e *InboundEmail) { e.From.Email = "" },
		"to":         func(e *InboundEmail) { e.To = nil },
	}
	for field, mutate := range cases {
		draft := sampleInbound("v-" + field)
		mutate(&draft)
		_, err := s.CreateInboundEmail(ctx, draft)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", field, err)
		}
		if verr.Field != field {
			t.Errorf("expected field %s, got %s", field, verr.Field)
		}
	}
}

func TestUpdateInboundEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateInboundEmail(ctx, sampleInbound("m1"))
	if err != nil {
		t.Fatal(err)
	}
	labels := []string{"lead", "urgent"}
	updated, err := s.UpdateInboundEmail(ctx, created.ID, InboundPatch{Starred: boolPtr(true), Labels: &labels})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Starred || updated.Read {
		t.Errorf("unexpected flags: starred=%v read=%v", updated.Starred, updated.Read)
	}
	if len(updated.Labels) != 2 || updated.Labels[1] != "urgent" {
		t.Errorf("unexpected labels: %v", updated.Labels)
	}

	_, err = s.UpdateInboundEmail(ctx, "missing", InboundPatch{Read: boolPtr(true)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkForwardedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateInboundEmail(ctx, sampleInbound("m1"))
	if err != nil {
		t.Fatal(err)
	}
	first := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := s.MarkForwarded(ctx, created.ID, first); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkForwarded(ctx, created.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("mark again: %v", err)
	}
	got, err := s.GetInboundEmail(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ForwardedToGmail {
		t.Error("expected forwarded flag")
	}
	if got.ForwardedAt == nil || !got.ForwardedAt.Equal(first) {
		t.Errorf("forwardedAt should keep the first timestamp, got %v", got.ForwardedAt)
	}

	if err := s.MarkForwarded(ctx, "missing", first); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pending, err := s.ListUnforwarded(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending messages, got %d", len(pending))
	}
}

func TestListInboundEmailsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		draft := sampleInbound(fmt.Sprintf("m%d", i))
		draft.Subject = fmt.Sprintf("Subject %d", i)
		if i == 4 {
			draft.From = Address{Email: "bob@shop.test", Name: "Bob"}
			draft.Subject = "100% discount_code"
		}
		created, err := s.CreateInboundEmail(ctx, draft)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, created.ID)
	}
	if _, err := s.UpdateInboundEmail(ctx, ids[0], InboundPatch{Read: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateInboundEmail(ctx, ids[1], InboundPatch{Read: boolPtr(true), Archived: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateInboundEmail(ctx, ids[2], InboundPatch{Archived: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}

	page, err := s.ListInboundEmails(ctx, InboundFilter{Read: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Emails) != 3 {
		t.Errorf("expected 3 unread, got total=%d len=%d", page.Total, len(page.Emails))
	}
	for _, email := range page.Emails {
		if email.Read {
			t.Errorf("read filter leaked %s", email.ID)
		}
	}
	if page.UnreadCount != 3 {
		t.Errorf("expected unreadCount 3, got %d", page.UnreadCount)
	}
	if page.Emails[0].ID != ids[4] {
		t.Errorf("expected newest first, got %s", page.Emails[0].ID)
	}

	page, err = s.ListInboundEmails(ctx, InboundFilter{Read: boolPtr(true), Archived: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 read non-archived, got %d", page.Total)
	}
	// unread badge ignores the read filter but keeps archived=false
	if page.UnreadCount != 2 {
		t.Errorf("expected unreadCount 2, got %d", page.UnreadCount)
	}

	page, err = s.ListInboundEmails(ctx, InboundFilter{Search: "100%"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Emails[0].ID != ids[4] {
		t.Errorf("search should match literally, got total=%d", page.Total)
	}

	page, err = s.ListInboundEmails(ctx, InboundFilter{Search: "BOB"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Errorf("search should be case-insensitive, got %d", page.Total)
	}

	page, err = s.ListInboundEmails(ctx, InboundFilter{Limit: 2, Skip: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Emails) != 2 || page.Emails[0].ID != ids[2] {
		t.Errorf("unexpected page: total=%d len=%d", page.Total, len(page.Emails))
	}
}

func TestDeleteInboundEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateInboundEmail(ctx, sampleInbound("m1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteInboundEmail(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteInboundEmail(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetInboundEmail(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnquiryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateEnquiry(ctx, Enquiry{Email: "a@b.com"}); err == nil {
		t.Fatal("expected validation error without fullName")
	}
	if _, err := s.CreateEnquiry(ctx, Enquiry{FullName: "Ann", Email: "a@b.com", Status: "Maybe"}); err == nil {
		t.Fatal("expected validation error for unknown status")
	}

	first, err := s.CreateEnquiry(ctx, Enquiry{FullName: "Ann", Email: "ann@example.com", ProjectType: "Websites"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != DefaultEnquiryStatus {
		t.Errorf("expected default status, got %s", first.Status)
	}
	second, err := s.CreateEnquiry(ctx, Enquiry{FullName: "Ben", Email: "ben@example.com", Idea: "mobile app"})
	if err != nil {
		t.Fatal(err)
	}

	list, err := s.ListEnquiries(ctx, EnquiryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("expected newest first")
	}

	status := "Qualified"
	tags := []string{"hot"}
	updated, err := s.UpdateEnquiry(ctx, first.ID, EnquiryPatch{Status: &status, Tags: &tags})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "Qualified" || len(updated.Tags) != 1 || updated.FullName != "Ann" {
		t.Errorf("unexpected update result: %+v", updated)
	}

	filtered, err := s.ListEnquiries(ctx, EnquiryFilter{Status: "Qualified"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != first.ID {
		t.Errorf("status filter failed: %+v", filtered)
	}

	searched, err := s.ListEnquiries(ctx, EnquiryFilter{Search: "MOBILE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(searched) != 1 || searched[0].ID != second.ID {
		t.Errorf("search failed: %+v", searched)
	}

	bad := "Unknown"
	if _, err := s.UpdateEnquiry(ctx, first.ID, EnquiryPatch{Status: &bad}); err == nil {
		t.Error("expected validation error")
	}
	if _, err := s.UpdateEnquiry(ctx, "missing", EnquiryPatch{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteEnquiry(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteEnquiry(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSubscriberIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateSubscriber(ctx, "news@example.com", "footer")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first insert should report created")
	}
	again, created, err := s.CreateSubscriber(ctx, "news@example.com", "modal")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second insert should not report created")
	}
	if again.ID != first.ID || again.Source != "footer" {
		t.Errorf("expected the existing record, got %+v", again)
	}

	if _, _, err := s.CreateSubscriber(ctx, "other@example.com", ""); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListSubscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(list))
	}
	if list[0].Email != "other@example.com" {
		t.Errorf("expected newest first, got %s", list[0].Email)
	}

	var verr *ValidationError
	if _, _, err := s.CreateSubscriber(ctx, " ", ""); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
