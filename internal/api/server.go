package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostpennyuk/website/internal/auth"
	"github.com/hostpennyuk/website/internal/config"
	"github.com/hostpennyuk/website/internal/inbound"
	"github.com/hostpennyuk/website/internal/mailer"
	"github.com/hostpennyuk/website/internal/metrics"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

const (
	maxJSONBytes    = 1 << 20
	maxWebhookBytes = 25 << 20
)

const corsAllowHeaders = "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, " +
	"Content-MD5, Content-Type, Date, X-Api-Version, svix-id, svix-timestamp, svix-signature"

// Deps are the collaborators the HTTP surface needs. Sender, Notifier and
// Verifier may be nil when the feature is not configured.
type Deps struct {
	Store    *store.Store
	Hub      *sse.Hub
	Pipeline *inbound.Pipeline
	Sender   mailer.Sender
	Notifier *mailer.Notifier
	Verifier *auth.Verifier
}

type Server struct {
	cfg      config.Config
	store    *store.Store
	hub      *sse.Hub
	pipeline *inbound.Pipeline
	sender   mailer.Sender
	notifier *mailer.Notifier
	verifier *auth.Verifier
	logger   *slog.Logger
	mux      *http.ServeMux
	now      func() time.Time

	background sync.WaitGroup
}

func NewServer(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	server := &Server{
		cfg:      cfg,
		store:    deps.Store,
		hub:      deps.Hub,
		pipeline: deps.Pipeline,
		sender:   deps.Sender,
		notifier: deps.Notifier,
		verifier: deps.Verifier,
		logger:   logger,
		now:      time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/health", server.handleHealth)
	mux.HandleFunc("GET /api/stream", server.handleStream)

	mux.HandleFunc("GET /api/enquiries", server.handleListEnquiries)
	mux.HandleFunc("POST /api/enquiries", server.handleCreateEnquiry)
	mux.HandleFunc("PATCH /api/enquiries/{id}", server.handleUpdateEnquiry)
	mux.HandleFunc("DELETE /api/enquiries/{id}", server.handleDeleteEnquiry)

	mux.HandleFunc("GET /api/subscribers", server.handleListSubscribers)
	mux.HandleFunc("POST /api/subscribers", server.handleCreateSubscriber)

	mux.HandleFunc("POST /api/inbound-emails/webhook", server.handleWebhook)
	mux.HandleFunc("GET /api/inbound-emails", server.handleListInbound)
	mux.HandleFunc("GET /api/inbound-emails/{id}", server.handleGetInbound)
	mux.HandleFunc("DELETE /api/inbound-emails/{id}", server.handleDeleteInbound)
	mux.HandleFunc("PATCH /api/inbound-emails/{id}/{flag}", server.handleInboundFlag)
	mux.HandleFunc("POST /api/inbound-emails/{id}/reply", server.handleReply)
	mux.HandleFunc("POST /api/inbound-emails/{id}/forward", server.handleForward)

	mux.HandleFunc("POST /api/send-email", server.handleSendEmail)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	setCORSHeaders(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	elapsed := time.Since(start)
	metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed)
	s.logger.Debug("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", elapsed,
	)
}

// Wait blocks until background notifications started by handlers finish.
func (s *Server) Wait() {
	s.background.Wait()
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,OPTIONS,PATCH,DELETE,POST,PUT")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unavailable"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondMessage(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondError maps domain errors onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var validationErr *store.ValidationError
	var transportErr *mailer.TransportError
	switch {
	case errors.As(err, &validationErr):
		s.respondMessage(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, store.ErrNotFound):
		s.respondMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, mailer.ErrNotConfigured):
		s.respondMessage(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &transportErr):
		s.logger.Error("mail transport", "provider", transportErr.Provider, "error", transportErr.Err)
		s.respondMessage(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.respondMessage(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads a bounded JSON body into dst. It reports false after
// writing a 400 when the body is not valid JSON.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.respondMessage(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
