// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package adminapi serves the staff admin HTTP API: session inspection,
// mod-mail acceptance and Prometheus metrics.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:29330"

const (
	requestLimit = 60
	limitWindow  = time.Minute
)

// Registry is the part of modmail.Registry the API needs.
type Registry interface {
	Snapshot() modmail.RegistrySnapshot
	ClearPendingModMail(user modmail.UserID) bool
}

// Server is the admin API.
type Server struct {
	registry Registry
	log      zerolog.Logger
}

// New creates a Server backed by registry.
func New(registry Registry, log zerolog.Logger) *Server {
	return &Server{
		registry: registry,
		log:      log.With().Str("component", "admin_api").Logger(),
	}
}

type activeSession struct {
	UserID string `json:"user_id"`
	Flow   string `json:"flow"`
}

type pendingModMail struct {
	UserID string    `json:"user_id"`
	Since  time.Time `json:"since"`
}

type sessionsResponse struct {
	Active          []activeSession  `json:"active"`
	PendingModMails []pendingModMail `json:"pending_mod_mails"`
}

// Handler returns the API's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("Admin API request")
	}))
	r.Use(httprate.Limit(
		requestLimit,
		limitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limitWindow.Seconds())))
			writeJSON(w, r, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	))

	r.Get("/api/sessions", s.handleSessions)
	r.Post("/api/modmail/{userID}/accept", s.handleAccept)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	resp := sessionsResponse{
		Active:          make([]activeSession, 0, len(snap.Active)),
		PendingModMails: make([]pendingModMail, 0, len(snap.Pending)),
	}
	for _, a := range snap.Active {
		resp.Active = append(resp.Active, activeSession{UserID: string(a.User), Flow: a.Kind.String()})
	}
	for _, p := range snap.Pending {
		resp.PendingModMails = append(resp.PendingModMails, pendingModMail{UserID: string(p.User), Since: p.Since.UTC()})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleAccept clears a user's pending mod-mail mark so they can open a new
// one.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	user := modmail.UserID(chi.URLParam(r, "userID"))
	if !s.registry.ClearPendingModMail(user) {
		writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "no_pending_mod_mail"})
		return
	}
	s.log.Info().
		Str("user_id", string(user)).
		Str("remote_addr", r.RemoteAddr).
		Msg("Mod mail accepted")
	writeJSON(w, r, http.StatusOK, map[string]bool{"cleared": true})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to write response")
	}
}

// ListenAndServe serves the API on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Starting admin API")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin API stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down admin API: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
