package sse

import (
	"encoding/json"
	"fmt"
	"sync"
)

const (
	TopicInbound   = "inbound"
	TopicEnquiries = "enquiries"
)

// Hub fans out server-sent events to admin dashboards. Slow subscribers drop
// events instead of blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a listener for the given topics.
func (h *Hub) Subscribe(topics ...string) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	for _, topic := range topics {
		if _, ok := h.subs[topic]; !ok {
			h.subs[topic] = make(map[chan []byte]struct{})
		}
		h.subs[topic][ch] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			for _, topic := range topics {
				if subscribers, ok := h.subs[topic]; ok {
					delete(subscribers, ch)
					if len(subscribers) == 0 {
						delete(h.subs, topic)
					}
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish encodes payload as an SSE frame named event and delivers it to every
// subscriber of topic.
func (h *Hub) Publish(topic, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
