// Package workflow executes ordered multi-experiment sequences on top of the
// run controller, one step at a time with optional waits between steps.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kyokomi/emoji"
	"github.com/sirupsen/logrus"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/controller"
	"github.com/litmuschaos/chaos-orchestrator/pkg/environment"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/registry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/telemetry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// Orchestrator runs workflows asynchronously and retains every execution
// record by id for later inspection
type Orchestrator struct {
	controller *controller.Controller
	catalog    *registry.ExperimentRegistry
	settings   environment.Settings

	mu         sync.RWMutex
	executions map[string]*execution
}

// execution pairs the externally visible record with the handles the
// orchestrator needs to drive and cancel it
type execution struct {
	mu         sync.Mutex
	record     *types.WorkflowExecution
	cancel     context.CancelFunc
	currentKey *types.RunKey
	done       chan struct{}
}

// NewOrchestrator wires a workflow orchestrator over the controller and the
// experiment catalog
func NewOrchestrator(ctrl *controller.Controller, catalog *registry.ExperimentRegistry, settings environment.Settings) *Orchestrator {
	return &Orchestrator{
		controller: ctrl,
		catalog:    catalog,
		settings:   settings,
		executions: make(map[string]*execution),
	}
}

// Submit validates the workflow and starts executing it in the background,
// the returned record carries the id used to poll or cancel the execution
func (o *Orchestrator) Submit(wf types.Workflow) (types.WorkflowExecution, error) {
	if err := o.validate(wf); err != nil {
		return types.WorkflowExecution{}, err
	}

	record := &types.WorkflowExecution{
		ID:        uuid.New().String(),
		Workflow:  wf,
		State:     types.RunStatePending,
		Steps:     make([]types.StepResult, len(wf.Steps)),
		CreatedAt: time.Now(),
	}
	for i, step := range wf.Steps {
		record.Steps[i] = types.StepResult{Experiment: step.Experiment, State: types.RunStatePending}
	}

	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{record: record, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.executions[record.ID] = exec
	o.mu.Unlock()

	log.InfoWithValues("[Workflow]: Execution accepted", logrus.Fields{
		"workflow": wf.Name, "namespace": wf.Namespace, "executionID": record.ID, "steps": len(wf.Steps)})

	go o.execute(ctx, exec)
	return exec.snapshot(), nil
}

func (o *Orchestrator) validate(wf types.Workflow) error {
	if err := types.ValidateName("workflow", wf.Name); err != nil {
		return err
	}
	if err := types.ValidateName("namespace", wf.Namespace); err != nil {
		return err
	}
	if len(wf.Steps) == 0 {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Target: wf.Name,
			Reason: "workflow has no steps"}
	}
	for i, step := range wf.Steps {
		if _, err := o.catalog.Get(step.Experiment); err != nil {
			return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Target: wf.Name,
				Reason: fmt.Sprintf("step %d references unknown experiment %q", i, step.Experiment)}
		}
	}
	return nil
}

// Get returns a copy of the execution record
func (o *Orchestrator) Get(id string) (types.WorkflowExecution, error) {
	o.mu.RLock()
	exec, ok := o.executions[id]
	o.mu.RUnlock()
	if !ok {
		return types.WorkflowExecution{}, cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound,
			Target: id, Reason: "no such workflow execution"}
	}
	return exec.snapshot(), nil
}

// List returns a copy of every retained execution record
func (o *Orchestrator) List() []types.WorkflowExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.WorkflowExecution, 0, len(o.executions))
	for _, exec := range o.executions {
		out = append(out, exec.snapshot())
	}
	return out
}

// Cancel aborts a running execution: the active step's run is stopped and
// every step that has not started is marked Skipped. Cancelling a finished
// execution is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.RLock()
	exec, ok := o.executions[id]
	o.mu.RUnlock()
	if !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: id, Reason: "no such workflow execution"}
	}

	exec.mu.Lock()
	if exec.record.State.Terminal() {
		exec.mu.Unlock()
		return nil
	}
	currentKey := exec.currentKey
	exec.mu.Unlock()

	log.Infof("[Workflow]: Cancelling execution %v", id)
	exec.cancel()
	if currentKey != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.settings.StopTimeout())
		defer cancel()
		if _, err := o.controller.Stop(ctx, *currentKey); err != nil {
			log.Warnf("[Workflow]: Unable to stop the active step run, err: %v", err)
		}
	}
	return nil
}

// execute drives the steps in order, a step failure without continueOnError
// skips everything after it
func (o *Orchestrator) execute(ctx context.Context, exec *execution) {
	defer close(exec.done)

	wf := exec.record.Workflow
	exec.setState(types.RunStateActive)
	failed := false

	for i, step := range wf.Steps {
		if ctx.Err() != nil || failed {
			exec.finishStep(i, types.RunStateSkipped, "", "")
			telemetry.WorkflowSteps.WithLabelValues(string(types.RunStateSkipped)).Inc()
			continue
		}

		result := o.runStep(ctx, exec, i, step, wf.Namespace)
		telemetry.WorkflowSteps.WithLabelValues(string(result)).Inc()
		if result == types.RunStateFailed && !step.ContinueOnError {
			failed = true
		}
	}

	verdict := types.RunStateCompleted
	if failed || ctx.Err() != nil {
		verdict = types.RunStateFailed
	}
	exec.setState(verdict)

	if verdict == types.RunStateCompleted {
		log.Info(emoji.Sprintf(":smile: Workflow %v completed successfully", wf.Name))
	} else {
		log.Warn(emoji.Sprintf(":cry: Workflow %v did not complete", wf.Name))
	}
}

// runStep executes one step end to end: wait, inject, watch until terminal,
// wait again. The returned state is the step's final state.
func (o *Orchestrator) runStep(ctx context.Context, exec *execution, index int, step types.WorkflowStep, namespace string) types.RunState {
	if !sleepCtx(ctx, step.WaitBefore) {
		exec.finishStep(index, types.RunStateSkipped, "", "")
		return types.RunStateSkipped
	}

	def, err := o.catalog.Get(step.Experiment)
	if err != nil {
		exec.finishStep(index, types.RunStateFailed, err.Error(), "")
		return types.RunStateFailed
	}

	log.Infof("[Workflow]: Step %v/%v, running %v", index+1, len(exec.record.Workflow.Steps), step.Experiment)
	exec.startStep(index)

	run, err := o.controller.Run(ctx, def, namespace, nil)
	if err != nil {
		exec.finishStep(index, types.RunStateFailed, err.Error(), run.RunID)
		return types.RunStateFailed
	}
	key := run.Key()

	exec.mu.Lock()
	exec.currentKey = &key
	exec.record.Steps[index].RunID = run.RunID
	exec.mu.Unlock()

	state, detail := o.watch(ctx, key, def)

	exec.mu.Lock()
	exec.currentKey = nil
	exec.mu.Unlock()

	exec.finishStep(index, state, detail, run.RunID)
	if state.Terminal() && state != types.RunStateFailed {
		sleepCtx(ctx, step.WaitAfter)
	}
	return state
}

// watch polls the run until it settles, a run that outlives its configured
// chaos duration by the stop timeout is force-stopped
func (o *Orchestrator) watch(ctx context.Context, key types.RunKey, def *types.ExperimentDefinition) (types.RunState, string) {
	duration := time.Duration(def.ChaosDuration(o.settings.DefaultChaosDuration)) * time.Second
	deadline := time.Now().Add(duration + o.settings.StopTimeout())

	for {
		rec, err := o.controller.Status(ctx, key)
		if err != nil {
			return types.RunStateFailed, err.Error()
		}
		if rec.State.Terminal() {
			return rec.State, rec.ErrorDetail
		}

		if ctx.Err() != nil || time.Now().After(deadline) {
			stopCtx, cancel := context.WithTimeout(context.Background(), o.settings.StopTimeout())
			rec, err := o.controller.Stop(stopCtx, key)
			cancel()
			if err != nil {
				return types.RunStateFailed, err.Error()
			}
			if ctx.Err() != nil {
				return types.RunStateFailed, "step cancelled"
			}
			return rec.State, rec.ErrorDetail
		}

		if !sleepCtx(ctx, o.settings.PollInterval()) {
			// cancelled mid-wait, loop once more to wind the run down
			continue
		}
	}
}

// sleepCtx waits for d, returns false when the context is cancelled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *execution) snapshot() types.WorkflowExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := *e.record
	out.Steps = append([]types.StepResult(nil), e.record.Steps...)
	return out
}

func (e *execution) setState(state types.RunState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.State.Terminal() {
		return
	}
	e.record.State = state
	if state.Terminal() {
		now := time.Now()
		e.record.EndedAt = &now
	}
}

func (e *execution) startStep(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.Steps[index].StartedAt = time.Now()
}

func (e *execution) finishStep(index int, state types.RunState, detail, runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := &e.record.Steps[index]
	if step.State.Terminal() {
		return
	}
	step.State = state
	step.EndedAt = time.Now()
	if detail != "" {
		step.Error = detail
	}
	if runID != "" && step.RunID == "" {
		step.RunID = runID
	}
}

// Summary renders a human readable report of an execution
func Summary(exec types.WorkflowExecution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "workflow %v (%v): %v\n", exec.Workflow.Name, exec.ID, exec.State)
	for i, step := range exec.Steps {
		mark := emoji.Sprint(":heavy_check_mark:")
		switch step.State {
		case types.RunStateFailed:
			mark = emoji.Sprint(":x:")
		case types.RunStateSkipped:
			mark = emoji.Sprint(":fast_forward:")
		}
		fmt.Fprintf(&b, "  %v step %d %v: %v", mark, i+1, step.Experiment, step.State)
		if step.Error != "" {
			fmt.Fprintf(&b, " (%v)", step.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
