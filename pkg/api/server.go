// Package api exposes the orchestration engine over HTTP and JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/litmuschaos/chaos-orchestrator/pkg/controller"
	"github.com/litmuschaos/chaos-orchestrator/pkg/environment"
	"github.com/litmuschaos/chaos-orchestrator/pkg/events"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/registry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/scheduler"
	"github.com/litmuschaos/chaos-orchestrator/pkg/telemetry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/workflow"
)

// Server is the HTTP front of the engine, every handler delegates to the
// controller, workflow orchestrator or scheduler
type Server struct {
	catalog      *registry.ExperimentRegistry
	controller   *controller.Controller
	orchestrator *workflow.Orchestrator
	scheduler    *scheduler.Scheduler
	bus          *events.Bus
	settings     environment.Settings

	http *http.Server
}

// NewServer wires the HTTP surface over the engine components
func NewServer(catalog *registry.ExperimentRegistry, ctrl *controller.Controller,
	orchestrator *workflow.Orchestrator, sched *scheduler.Scheduler, bus *events.Bus, settings environment.Settings) *Server {
	s := &Server{
		catalog:      catalog,
		controller:   ctrl,
		orchestrator: orchestrator,
		scheduler:    sched,
		bus:          bus,
		settings:     settings,
	}
	s.http = &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the request mux
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/experiments", s.listExperiments)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("POST /api/v1/runs", s.createRun)
	mux.HandleFunc("GET /api/v1/runs/{name}/status", s.runStatus)
	mux.HandleFunc("POST /api/v1/runs/{name}/stop", s.stopRun)

	mux.HandleFunc("GET /api/v1/workflows", s.listWorkflows)
	mux.HandleFunc("POST /api/v1/workflows", s.submitWorkflow)
	mux.HandleFunc("GET /api/v1/workflows/{id}", s.getWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", s.cancelWorkflow)

	mux.HandleFunc("GET /api/v1/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/v1/schedules", s.createSchedule)
	mux.HandleFunc("DELETE /api/v1/schedules/{name}", s.deleteSchedule)
	mux.HandleFunc("PUT /api/v1/schedules/{name}/enabled", s.setScheduleEnabled)

	mux.HandleFunc("GET /api/v1/events", s.streamEvents)

	mux.Handle("GET /metrics", telemetry.Handler())
	mux.HandleFunc("GET /health", s.health)

	return mux
}

// Start serves until the context is cancelled, then drains in-flight requests
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("[API]: Listening on %v", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("[API]: Shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}
