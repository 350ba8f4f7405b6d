// Package api is the C8 External API surface: a thin REST and WebSocket
// adapter around the orchestrator (scheduler, state store, oracle client).
// It never embeds business logic — every handler validates its input,
// delegates to a collaborator, and translates the result (or an
// ameliaerr.Error) into an HTTP response.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/config"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/scheduler"
	"github.com/amelia-run/amelia/store"
	"github.com/amelia-run/amelia/telemetry"
)

// Server bundles every collaborator the REST and WebSocket handlers need.
type Server struct {
	scheduler *scheduler.Scheduler
	store     *store.Store
	bus       eventbus.Bus
	crossNode *eventbus.CrossNodePublisher // nil in single-node deployments
	oracle    agent.OracleClient

	settingsMu sync.RWMutex
	settings   config.ServerSettings

	log     telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	hub       *wsHub
	startedAt time.Time
}

func (s *Server) currentSettings() config.ServerSettings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

func (s *Server) setSettings(settings config.ServerSettings) {
	s.settingsMu.Lock()
	s.settings = settings
	s.settingsMu.Unlock()
}

// NewServer wires a Server. crossNode may be nil (single-node deployment,
// see eventbus.CrossNodePublisher's doc comment).
func NewServer(sched *scheduler.Scheduler, st *store.Store, bus eventbus.Bus, crossNode *eventbus.CrossNodePublisher, oracle agent.OracleClient, settings config.ServerSettings, telem telemetry.Provider) *Server {
	s := &Server{
		scheduler: sched,
		store:     st,
		bus:       bus,
		crossNode: crossNode,
		oracle:    oracle,
		settings:  settings,
		log:       telem.Log,
		metrics:   telem.Metrics,
		tracer:    telem.Tracer,
		startedAt: time.Now(),
	}
	s.hub = newWSHub(bus, telem.Log)
	return s
}

// Router builds the complete chi mux: REST endpoints, the WebSocket
// upgrade, and the tracing/logging middleware wrapping every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceAndLog(s.tracer, s.metrics, s.log))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/health/live", s.handleHealthLive)
	r.Get("/api/health/ready", s.handleHealthReady)

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkflow)
		r.Get("/", s.handleListWorkflows)
		r.Post("/start-batch", s.handleStartBatch)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Post("/{id}/start", s.handleStartWorkflow)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	r.Route("/api/profiles", func(r chi.Router) {
		r.Get("/", s.handleListProfiles)
		r.Post("/", s.handleCreateProfile)
		r.Get("/{id}", s.handleGetProfile)
		r.Put("/{id}", s.handleUpdateProfile)
		r.Delete("/{id}", s.handleDeleteProfile)
		r.Post("/{id}/activate", s.handleActivateProfile)
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", s.handleGetSettings)
		r.Put("/", s.handleUpdateSettings)
		r.Post("/reset", s.handleResetSettings)
	})

	r.Post("/api/oracle/consult", s.handleOracleConsult)

	r.Get("/ws", s.handleWebSocket)

	return r
}

// Serve starts the HTTP server on addr, returning only on shutdown or
// fatal listen error. Call with the process's root context; cancelling ctx
// triggers a graceful stop bounded by RequestTimeoutSec.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.currentSettings().RequestTimeoutSec)*time.Second)
		defer cancel()
		s.log.Info(ctx, "shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}
