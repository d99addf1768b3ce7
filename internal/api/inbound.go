package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hostpennyuk/website/internal/inbound"
	"github.com/hostpennyuk/website/internal/pagination"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

// deliveryRetryAfterSeconds is sent with 409 when another delivery of the
// same message has not been stored yet.
const deliveryRetryAfterSeconds = 30

type webhookResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type inboundListResponse struct {
	Emails      []store.InboundEmail `json:"emails"`
	Total       int                  `json:"total"`
	UnreadCount int                  `json:"unreadCount"`
	HasMore     bool                 `json:"hasMore"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.respondMessage(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if s.verifier != nil && s.verifier.Enabled() {
		if err := s.verifier.Verify(r.Header, body, s.now()); err != nil {
			s.logger.Warn("webhook signature rejected", "error", err)
			s.respondMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		s.respondMessage(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	email, err := s.pipeline.Receive(r.Context(), payload, body)
	switch {
	case errors.Is(err, store.ErrDuplicateMessage):
		s.respondJSON(w, http.StatusOK, webhookResponse{Success: true, ID: email.ID, Duplicate: true})
	case errors.Is(err, inbound.ErrDeliveryInProgress):
		w.Header().Set("Retry-After", strconv.Itoa(deliveryRetryAfterSeconds))
		s.respondMessage(w, http.StatusConflict, err.Error())
	case err != nil:
		s.respondError(w, err)
	default:
		s.respondJSON(w, http.StatusOK, webhookResponse{Success: true, ID: email.ID})
	}
}

func (s *Server) handleListInbound(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.InboundFilter{Search: strings.TrimSpace(query.Get("search"))}
	for _, flag := range []struct {
		name string
		dst  **bool
	}{
		{"read", &filter.Read},
		{"starred", &filter.Starred},
		{"archived", &filter.Archived},
	} {
		raw := query.Get(flag.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(w, &store.ValidationError{Field: flag.name, Message: "must be true or false"})
			return
		}
		*flag.dst = &value
	}
	params := pagination.GetPaginationParams(query)
	filter.Limit = params.Limit
	filter.Skip = params.Skip

	page, err := s.store.ListInboundEmails(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, inboundListResponse{
		Emails:      page.Emails,
		Total:       page.Total,
		UnreadCount: page.UnreadCount,
		HasMore:     pagination.HasMore(params.Skip, len(page.Emails), page.Total),
	})
}

func (s *Server) handleGetInbound(w http.ResponseWriter, r *http.Request) {
	email, err := s.store.GetInboundEmail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, email)
}

func (s *Server) handleDeleteInbound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteInboundEmail(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.hub.Publish(sse.TopicInbound, "inbound.deleted", map[string]string{"id": id})
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleInboundFlag serves the single-field toggles: read, star, archive and
// labels.
func (s *Server) handleInboundFlag(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Read     *bool     `json:"read"`
		Starred  *bool     `json:"starred"`
		Archived *bool     `json:"archived"`
		Labels   *[]string `json:"labels"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}

	var patch store.InboundPatch
	var missing string
	switch r.PathValue("flag") {
	case "read":
		patch.Read, missing = payload.Read, "read"
	case "star":
		patch.Starred, missing = payload.Starred, "starred"
	case "archive":
		patch.Archived, missing = payload.Archived, "archived"
	case "labels":
		patch.Labels, missing = payload.Labels, "labels"
	default:
		http.NotFound(w, r)
		return
	}
	if patch == (store.InboundPatch{}) {
		s.respondError(w, &store.ValidationError{Field: missing, Message: "is required"})
		return
	}

	updated, err := s.store.UpdateInboundEmail(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.hub.Publish(sse.TopicInbound, "inbound.updated", updated)
	s.respondJSON(w, http.StatusOK, updated)
}

// handleForward relays a stored message again on demand.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	email, err := s.pipeline.Forward(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, email)
}
