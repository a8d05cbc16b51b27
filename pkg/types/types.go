package types

import (
	"fmt"
	"regexp"
	"time"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
)

// RunState is the internal lifecycle state of an experiment run
type RunState string

const (
	// RunStatePending marks a run that is registered but not yet handed to the platform
	RunStatePending RunState = "Pending"
	// RunStateInjected marks a run whose fault-injection resource was accepted by the platform
	RunStateInjected RunState = "Injected"
	// RunStateActive marks a run the platform reports as injecting chaos
	RunStateActive RunState = "Active"
	// RunStateStopping marks a run whose resource was patched to its inactive state
	RunStateStopping RunState = "Stopping"
	// RunStateCompleted is the terminal state of a successful run
	RunStateCompleted RunState = "Completed"
	// RunStateFailed is the terminal state of an unsuccessful run
	RunStateFailed RunState = "Failed"
	// RunStateSkipped marks a workflow step that never started
	RunStateSkipped RunState = "Skipped"
	// RunStateUnknown is reported, never stored, when status polling fails transiently
	RunStateUnknown RunState = "Unknown"
)

// Terminal returns true once a run can no longer change state
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateSkipped:
		return true
	}
	return false
}

// Experiment phases, mirrors the template catalog grouping
const (
	PhaseBasic    = "basic"
	PhaseAdvanced = "advanced"
	PhaseCustom   = "custom"
)

// Well known experiment parameter keys understood by the platform
const (
	ParamTotalChaosDuration = "TOTAL_CHAOS_DURATION"
	ParamChaosInterval      = "CHAOS_INTERVAL"
)

// ExperimentDefinition is an immutable experiment template, loaded once at startup
type ExperimentDefinition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Category    string            `yaml:"category"`
	Phase       string            `yaml:"phase"`
	Version     string            `yaml:"version"`
	Author      string            `yaml:"author"`
	Tags        []string          `yaml:"tags"`
	AppNS       string            `yaml:"appns"`
	AppLabel    string            `yaml:"applabel"`
	AppKind     string            `yaml:"appkind"`
	Params      map[string]string `yaml:"params"`
}

// ChaosDuration returns the configured chaos duration of the template
func (d *ExperimentDefinition) ChaosDuration(fallback int) int {
	return paramSeconds(d.Params, ParamTotalChaosDuration, fallback)
}

// ChaosInterval returns the configured chaos interval of the template
func (d *ExperimentDefinition) ChaosInterval(fallback int) int {
	return paramSeconds(d.Params, ParamChaosInterval, fallback)
}

func paramSeconds(params map[string]string, key string, fallback int) int {
	val, ok := params[key]
	if !ok {
		return fallback
	}
	var seconds int
	if _, err := fmt.Sscanf(val, "%d", &seconds); err != nil || seconds <= 0 {
		return fallback
	}
	return seconds
}

// RunKey identifies the single active run slot of an experiment in a namespace
type RunKey struct {
	Experiment string
	Namespace  string
}

func (k RunKey) String() string {
	return k.Experiment + "/" + k.Namespace
}

// ExperimentRun is for collecting all the run related details,
// it is owned by the controller and mutated only through state transitions
type ExperimentRun struct {
	RunID         string
	Experiment    string
	Namespace     string
	State         RunState
	StartedAt     time.Time
	EndedAt       *time.Time
	ObservedPhase string
	ErrorDetail   string
}

// Key returns the run registry key of the run
func (r *ExperimentRun) Key() RunKey {
	return RunKey{Experiment: r.Experiment, Namespace: r.Namespace}
}

// WorkflowStep is a single entry of an ordered workflow
type WorkflowStep struct {
	Experiment      string        `yaml:"experiment" json:"experiment"`
	WaitBefore      time.Duration `yaml:"waitBefore" json:"waitBefore"`
	WaitAfter       time.Duration `yaml:"waitAfter" json:"waitAfter"`
	ContinueOnError bool          `yaml:"continueOnError" json:"continueOnError"`
}

// Workflow is an ordered sequence of experiment steps executed as one unit
type Workflow struct {
	Name      string         `yaml:"name" json:"name"`
	Namespace string         `yaml:"namespace" json:"namespace"`
	Steps     []WorkflowStep `yaml:"steps" json:"steps"`
}

// StepResult records the outcome of one workflow step
type StepResult struct {
	Experiment string    `json:"experiment"`
	RunID      string    `json:"runID,omitempty"`
	State      RunState  `json:"state"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	EndedAt    time.Time `json:"endedAt,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// WorkflowExecution is the structured execution report of a workflow,
// created and owned by the workflow orchestrator
type WorkflowExecution struct {
	ID        string       `json:"id"`
	Workflow  Workflow     `json:"workflow"`
	State     RunState     `json:"state"`
	Steps     []StepResult `json:"steps"`
	CreatedAt time.Time    `json:"createdAt"`
	EndedAt   *time.Time   `json:"endedAt,omitempty"`
}

// Schedule is a recurring cron trigger for an experiment
type Schedule struct {
	Name       string     `json:"name"`
	Experiment string     `json:"experiment"`
	Namespace  string     `json:"namespace"`
	Cron       string     `json:"cron"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// Key returns the run registry key the schedule fires against
func (s *Schedule) Key() RunKey {
	return RunKey{Experiment: s.Experiment, Namespace: s.Namespace}
}

// k8s resource names must be DNS-1123 compliant
var nameRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

const maxNameLength = 253

// ValidateName checks an experiment, schedule or namespace name before any mutation
func ValidateName(kind, name string) error {
	if name == "" {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Reason: fmt.Sprintf("%s name cannot be empty", kind)}
	}
	if len(name) > maxNameLength {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Target: name, Reason: fmt.Sprintf("%s name exceeds %d characters", kind, maxNameLength)}
	}
	if !nameRegex.MatchString(name) {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Target: name, Reason: fmt.Sprintf("%s name must be lowercase alphanumeric or '-', starting and ending with an alphanumeric character", kind)}
	}
	return nil
}
