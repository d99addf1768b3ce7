package sse

import (
	"strings"
	"testing"
)

func TestPublishDeliversToTopic(t *testing.T) {
	hub := NewHub()
	inbox, unsubscribeInbox := hub.Subscribe(TopicInbound)
	defer unsubscribeInbox()
	crm, unsubscribeCRM := hub.Subscribe(TopicEnquiries)
	defer unsubscribeCRM()

	hub.Publish(TopicInbound, "inbound", map[string]string{"id": "m1"})

	select {
	case frame := <-inbox:
		got := string(frame)
		if !strings.HasPrefix(got, "event: inbound\n") || !strings.Contains(got, `"id":"m1"`) {
			t.Errorf("unexpected frame %q", got)
		}
	default:
		t.Fatal("expected a frame on the inbound topic")
	}

	select {
	case frame := <-crm:
		t.Errorf("enquiries subscriber should not receive %q", frame)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe(TopicInbound)
	defer unsubscribe()

	for i := 0; i < 20; i++ {
		hub.Publish(TopicInbound, "inbound", i)
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected buffer to be full, got %d/%d", len(ch), cap(ch))
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe(TopicInbound, TopicEnquiries)
	if hub.Subscribers(TopicInbound) != 1 || hub.Subscribers(TopicEnquiries) != 1 {
		t.Fatal("expected subscriber on both topics")
	}
	unsubscribe()
	unsubscribe()
	if hub.Subscribers(TopicInbound) != 0 {
		t.Error("expected no subscribers after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}
