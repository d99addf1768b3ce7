package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hostpennyuk/website/internal/mailer"
	"github.com/hostpennyuk/website/internal/metrics"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

// recipients accepts either a single address or a list.
type recipients []string

func (r *recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = splitRecipients([]string{single})
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*r = splitRecipients(list)
	return nil
}

func splitRecipients(values []string) []string {
	seen := map[string]struct{}{}
	result := []string{}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			key := strings.ToLower(trimmed)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To      recipients `json:"to"`
		Subject string     `json:"subject"`
		HTML    string     `json:"html"`
		Text    string     `json:"text"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if len(payload.To) == 0 || strings.TrimSpace(payload.Subject) == "" || strings.TrimSpace(payload.HTML) == "" {
		s.respondError(w, &store.ValidationError{Message: "missing required fields: to, subject, html"})
		return
	}
	if s.sender == nil {
		s.respondError(w, mailer.ErrNotConfigured)
		return
	}

	id, err := s.sender.Send(r.Context(), mailer.Email{
		From:    s.cfg.EmailFrom,
		To:      payload.To,
		Subject: strings.TrimSpace(payload.Subject),
		HTML:    payload.HTML,
		Text:    payload.Text,
		ReplyTo: s.cfg.EmailFrom,
	})
	if err != nil {
		metrics.RecordNotification("resend", "failed")
		s.respondError(w, err)
		return
	}
	metrics.RecordNotification("resend", "sent")
	s.logger.Info("email sent", "provider_id", id, "recipients", len(payload.To))
	s.respondJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

// handleReply answers an inbound message through the transactional provider
// and marks it read.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Subject string `json:"subject"`
		HTML    string `json:"html"`
		Text    string `json:"text"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.HTML) == "" && strings.TrimSpace(payload.Text) == "" {
		s.respondError(w, &store.ValidationError{Field: "html", Message: "is required"})
		return
	}

	ctx := r.Context()
	original, err := s.store.GetInboundEmail(ctx, r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if s.sender == nil {
		s.respondError(w, mailer.ErrNotConfigured)
		return
	}

	subject := strings.TrimSpace(payload.Subject)
	if subject == "" {
		subject = "Re: " + original.Subject
	}
	references := append(append([]string{}, original.References...), original.MessageID)
	id, err := s.sender.Send(ctx, mailer.Email{
		From:    s.cfg.EmailFrom,
		To:      []string{original.From.Email},
		Subject: subject,
		HTML:    payload.HTML,
		Text:    payload.Text,
		ReplyTo: s.cfg.EmailFrom,
		Headers: map[string]string{
			"In-Reply-To": original.MessageID,
			"References":  strings.Join(references, " "),
		},
	})
	if err != nil {
		metrics.RecordNotification("resend", "failed")
		s.respondError(w, err)
		return
	}
	metrics.RecordNotification("resend", "sent")

	read := true
	updated, err := s.store.UpdateInboundEmail(ctx, original.ID, store.InboundPatch{Read: &read})
	if err != nil {
		s.logger.Warn("mark replied email read", "id", original.ID, "error", err)
	} else {
		s.hub.Publish(sse.TopicInbound, "inbound.updated", updated)
	}
	s.logger.Info("reply sent", "id", original.ID, "provider_id", id)
	s.respondJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}
