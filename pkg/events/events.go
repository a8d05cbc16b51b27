package events

import (
	"time"

	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// Event is a run-state-change notification pushed to connected observers
type Event struct {
	Experiment string         `json:"experiment"`
	Namespace  string         `json:"namespace"`
	RunID      string         `json:"runID"`
	State      types.RunState `json:"state"`
	Phase      string         `json:"phase,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// FromRun builds the notification for the run's current state
func FromRun(run *types.ExperimentRun) Event {
	return Event{
		Experiment: run.Experiment,
		Namespace:  run.Namespace,
		RunID:      run.RunID,
		State:      run.State,
		Phase:      run.ObservedPhase,
		Error:      run.ErrorDetail,
		Timestamp:  time.Now(),
	}
}
