// Package telemetry exposes the engine's operational metrics in the
// prometheus exposition format.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsStarted counts runs accepted by the controller, per experiment
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_orchestrator_runs_started_total",
		Help: "Number of experiment runs started",
	}, []string{"experiment"})

	// RunsFailed counts runs that reached the Failed state, per experiment
	RunsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_orchestrator_runs_failed_total",
		Help: "Number of experiment runs that ended in Failed",
	}, []string{"experiment"})

	// RunConflicts counts Run requests rejected because the key was busy
	RunConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chaos_orchestrator_run_conflicts_total",
		Help: "Number of Run requests rejected with Conflict",
	})

	// ActiveRuns tracks the number of non-terminal runs in the registry
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_orchestrator_active_runs",
		Help: "Number of currently active experiment runs",
	})

	// ScheduleFirings counts scheduler firings, split by outcome
	ScheduleFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_orchestrator_schedule_firings_total",
		Help: "Number of schedule firings",
	}, []string{"schedule", "outcome"})

	// WorkflowSteps counts executed workflow steps, split by final state
	WorkflowSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_orchestrator_workflow_steps_total",
		Help: "Number of workflow steps executed",
	}, []string{"state"})
)

// Handler returns the /metrics endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}
