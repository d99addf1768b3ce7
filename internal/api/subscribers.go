package api

import (
	"net/http"
	"strings"

	"github.com/hostpennyuk/website/internal/auth"
	"github.com/hostpennyuk/website/internal/store"
)

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subscribers, err := s.store.ListSubscribers(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, subscribers)
}

// handleCreateSubscriber is idempotent: an address already on file returns the
// existing record with 200.
func (s *Server) handleCreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email  string `json:"email"`
		Source string `json:"source"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		s.respondError(w, &store.ValidationError{Field: "email", Message: err.Error()})
		return
	}

	subscriber, created, err := s.store.CreateSubscriber(r.Context(), email, strings.TrimSpace(payload.Source))
	if err != nil {
		s.respondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info("subscriber added", "id", subscriber.ID, "source", subscriber.Source)
	}
	s.respondJSON(w, status, subscriber)
}
