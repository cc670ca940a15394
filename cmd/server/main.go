package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/salesaudit/engine"
	"github.com/liamcoop/salesaudit/internal/app"
	"github.com/liamcoop/salesaudit/internal/config"
	"github.com/liamcoop/salesaudit/internal/logger"
	"github.com/liamcoop/salesaudit/rules"
	"github.com/liamcoop/salesaudit/violations"
)

const slowRequestThreshold = 5 * time.Second

// Server exposes passes, rule management and violations over HTTP
type Server struct {
	ping       func(ctx context.Context) error
	catalog    *rules.Catalog
	passer     engine.Passer
	violations violations.Store
	router     *chi.Mux
}

// NewServer wires the HTTP routes. ping may be nil when there is no database.
func NewServer(ping func(ctx context.Context) error, catalog *rules.Catalog, passer engine.Passer, store violations.Store) *Server {
	s := &Server{
		ping:       ping,
		catalog:    catalog,
		passer:     passer,
		violations: store,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/health", s.handleHealth)

	// Passes can run for minutes when the judge is involved, so no timeout here
	r.Post("/api/v1/passes", s.handleRunPass)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/api/v1/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handlePutRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/activate", s.handleSetActive(true))
				r.Post("/deactivate", s.handleSetActive(false))
			})
		})

		r.Get("/api/v1/violations", s.handleListViolations)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and feeds the HTTP counters
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			logger.Error("request failed", attrs...)
		case status >= 400:
			logger.WarnHttp4xx(status)
			logger.Debug("request rejected", attrs...)
		default:
			logger.Debug("request served", attrs...)
		}
		if elapsed > slowRequestThreshold && r.URL.Path != "/api/v1/passes" {
			logger.WarnSlowRequest()
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Counters: logger.Counters()})
}

func (s *Server) handleRunPass(w http.ResponseWriter, r *http.Request) {
	var req RunPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.From.IsZero() || req.To.IsZero() {
		respondError(w, http.StatusBadRequest, "from and to are required", nil)
		return
	}

	result, err := s.passer.RunPass(r.Context(), engine.PassRequest{
		From:   req.From,
		To:     req.To,
		Rules:  req.Rules,
		DryRun: req.DryRun,
	})
	if errors.Is(err, engine.ErrInvalidWindow) {
		respondError(w, http.StatusBadRequest, "invalid window", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "pass failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	defs, err := s.catalog.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if defs == nil {
		defs = []*rules.Definition{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: defs, Count: len(defs)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	def, err := s.catalog.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondStoreError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var def rules.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if def.Code == "" {
		def.Code = code
	}
	if def.Code != code {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("rule code %q does not match path %q", def.Code, code), nil)
		return
	}

	if err := rules.Validate(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.catalog.Put(r.Context(), &def); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store rule", err)
		return
	}

	stored, err := s.catalog.Get(r.Context(), code)
	if err != nil {
		respondStoreError(w, "failed to reload rule", err)
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if err := s.catalog.SetActive(r.Context(), code, active); err != nil {
			respondStoreError(w, "failed to update rule", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"code": code, "isActive": active})
	}
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		respondStoreError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	q := violations.Query{
		OrderID:  r.URL.Query().Get("order_id"),
		RuleCode: r.URL.Query().Get("rule"),
		Limit:    500,
	}
	var err error
	if q.From, err = parseTimeParam(r, "from"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid from", err)
		return
	}
	if q.To, err = parseTimeParam(r, "to"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid to", err)
		return
	}

	list, err := s.violations.List(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list violations", err)
		return
	}
	if list == nil {
		list = []*rules.Violation{}
	}
	respondJSON(w, http.StatusOK, ViolationsListResponse{Violations: list, Count: len(list)})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func respondStoreError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, rules.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondError(w, http.StatusInternalServerError, message, err)
}

func main() {
	cfg := config.Load()

	a, err := app.Open(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to start", "error", err)
	}

	if cfg.RulesFile != "" {
		n, err := rules.Seed(context.Background(), a.Catalog, cfg.RulesFile)
		if err != nil {
			logger.Fatal("failed to load rules file", "path", cfg.RulesFile, "error", err)
		}
		logger.Info("rules loaded", "path", cfg.RulesFile, "count", n)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Schedule.Interval > 0 {
		go engine.NewScheduler(a.Engine, cfg.Schedule.Interval, cfg.Schedule.Lookback).Run(ctx)
	}

	server := NewServer(a.DB.PingContext, a.Catalog, a.Engine, a.Violations)
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	a.Close(shutdownCtx)
	logger.Info("server stopped")
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
}
