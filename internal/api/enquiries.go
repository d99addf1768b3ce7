package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hostpennyuk/website/internal/auth"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

const notifyTimeout = 30 * time.Second

type enquiryRequest struct {
	FullName    string   `json:"fullName"`
	Email       string   `json:"email"`
	Company     string   `json:"company"`
	ProjectType string   `json:"projectType"`
	Idea        string   `json:"idea"`
	Budget      string   `json:"budget"`
	Timeline    string   `json:"timeline"`
	Status      string   `json:"status"`
	Notes       string   `json:"notes"`
	Tags        []string `json:"tags"`
	Assignee    string   `json:"assignee"`
	DueDate     string   `json:"dueDate"`
	Links       []string `json:"links"`
	Spam        bool     `json:"spam"`
}

func (s *Server) handleListEnquiries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	enquiries, err := s.store.ListEnquiries(r.Context(), store.EnquiryFilter{
		Status: strings.TrimSpace(query.Get("status")),
		Search: strings.TrimSpace(query.Get("search")),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, enquiries)
}

func (s *Server) handleCreateEnquiry(w http.ResponseWriter, r *http.Request) {
	var payload enquiryRequest
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		s.respondError(w, &store.ValidationError{Field: "email", Message: err.Error()})
		return
	}

	created, err := s.store.CreateEnquiry(r.Context(), store.Enquiry{
		FullName:    strings.TrimSpace(payload.FullName),
		Email:       email,
		Company:     payload.Company,
		ProjectType: payload.ProjectType,
		Idea:        payload.Idea,
		Budget:      payload.Budget,
		Timeline:    payload.Timeline,
		Status:      payload.Status,
		Notes:       payload.Notes,
		Tags:        payload.Tags,
		Assignee:    payload.Assignee,
		DueDate:     payload.DueDate,
		Links:       payload.Links,
		Spam:        payload.Spam,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.logger.Info("enquiry created", "id", created.ID, "email", created.Email)
	s.hub.Publish(sse.TopicEnquiries, "enquiry.created", created)
	s.notifyEnquiry(r.Context(), created)
	s.respondJSON(w, http.StatusCreated, created)
}

// notifyEnquiry sends the admin notification in the background. Failures are
// logged and never reach the submitter.
func (s *Server) notifyEnquiry(ctx context.Context, enquiry store.Enquiry) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := s.notifier.EnquiryCreated(ctx, enquiry); err != nil {
			s.logger.Warn("enquiry notification failed", "enquiry_id", enquiry.ID, "error", err)
		}
	}()
}

func (s *Server) handleUpdateEnquiry(w http.ResponseWriter, r *http.Request) {
	var patch store.EnquiryPatch
	if !s.decodeJSON(w, r, &patch) {
		return
	}
	if patch.Email != nil {
		email, err := auth.NormalizeEmail(*patch.Email)
		if err != nil {
			s.respondError(w, &store.ValidationError{Field: "email", Message: err.Error()})
			return
		}
		patch.Email = &email
	}

	updated, err := s.store.UpdateEnquiry(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.hub.Publish(sse.TopicEnquiries, "enquiry.updated", updated)
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEnquiry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteEnquiry(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.hub.Publish(sse.TopicEnquiries, "enquiry.deleted", map[string]string{"id": id})
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
