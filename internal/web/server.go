// Package web exposes the tracker over HTTP for presentation code: JSON
// endpoints for derived views and mutations, and an SSE stream mirroring
// tracker notifications. It is a reference consumer; rendering lives elsewhere.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vadiminshakov/pulse/internal/clients"
	"github.com/vadiminshakov/pulse/internal/domain"
	"github.com/vadiminshakov/pulse/internal/services/tracker"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const sseHeartbeatInterval = 20 * time.Second

// actionSource is the slice of the tracker the server consumes.
type actionSource interface {
	Subscribe(cb func(tracker.Update)) func()
	GetSummary() domain.Summary
	GetRecent(n int) []*domain.Action
	GetActive() []*domain.Action
	GetCompleted(includeDismissed bool) []*domain.Action
	GetFailed(includeDismissed bool) []*domain.Action
	FetchHistory(ctx context.Context, filter clients.HistoryFilter) (*domain.HistoryPage, error)
	Dismiss(id string)
	MarkAsRead(id string)
	MarkAllAsRead()
	ClearAll()
}

// Server exposes the tracker's query and mutation surface plus an SSE stream.
type Server struct {
	Addr    string
	Tracker actionSource
	Logger  *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, source actionSource, logger *zap.Logger) *Server {
	return &Server{Addr: addr, Tracker: source, Logger: logger}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/notifications/recent", s.handleRecent)
	mux.HandleFunc("GET /api/notifications/active", s.handleActive)
	mux.HandleFunc("GET /api/notifications/completed", s.handleCompleted)
	mux.HandleFunc("GET /api/notifications/failed", s.handleFailed)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/notifications/{id}/dismiss", s.handleDismiss)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /api/notifications/read-all", s.handleMarkAllRead)
	mux.HandleFunc("POST /api/notifications/clear", s.handleClear)
	mux.HandleFunc("GET /notifications/stream", s.handleStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via
// ACME. It also starts an HTTP server on port 80 to handle ACME HTTP-01
// challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	// HTTP server on port 80 for ACME challenges and HTTP->HTTPS redirects.
	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	// shutdown both servers when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("http (acme) server error", zap.Error(err))
		}
	}()

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Tracker.GetSummary())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	s.writeJSON(w, map[string]any{"actions": s.Tracker.GetRecent(n)})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"actions": s.Tracker.GetActive()})
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"actions": s.Tracker.GetCompleted(includeDismissed(r))})
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"actions": s.Tracker.GetFailed(includeDismissed(r))})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := clients.HistoryFilter{
		ActionType: domain.ActionType(q.Get("action_type")),
		EntityID:   q.Get("entity_id"),
		State:      domain.ActionStatus(q.Get("state")),
	}
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = parsed
	}
	if raw := q.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = parsed
	}
	if raw := q.Get("started_after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid started_after", http.StatusBadRequest)
			return
		}
		filter.StartedAfter = ts
	}
	if raw := q.Get("started_before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid started_before", http.StatusBadRequest)
			return
		}
		filter.StartedBefore = ts
	}

	page, err := s.Tracker.FetchHistory(r.Context(), filter)
	if err != nil {
		s.Logger.Warn("history fetch failed", zap.Error(err))
		http.Error(w, "history fetch failed", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, page)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.Tracker.Dismiss(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.Tracker.MarkAsRead(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	s.Tracker.MarkAllAsRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.Tracker.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// handleStream mirrors tracker notifications to the client as SSE events.
// Slow consumers are allowed to miss intermediate updates; each event carries
// the full summary so the latest one is always enough to redraw badges.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates := make(chan tracker.Update, 64)
	unsubscribe := s.Tracker.Subscribe(func(u tracker.Update) {
		select {
		case updates <- u:
		default:
			// drop instead of blocking the tracker behind a slow client
		}
	})
	defer unsubscribe()

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case update := <-updates:
			payload, err := json.Marshal(update)
			if err != nil {
				s.Logger.Warn("stream marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", update.Kind)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("response encode failed", zap.Error(err))
	}
}

func includeDismissed(r *http.Request) bool {
	return r.URL.Query().Get("include_dismissed") == "true"
}
