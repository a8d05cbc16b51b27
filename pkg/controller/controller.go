package controller

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/litmuschaos/chaos-operator/api/litmuschaos/v1alpha1"
	"github.com/sirupsen/logrus"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/environment"
	"github.com/litmuschaos/chaos-orchestrator/pkg/events"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/platform"
	"github.com/litmuschaos/chaos-orchestrator/pkg/registry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/telemetry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
	"github.com/litmuschaos/chaos-orchestrator/pkg/utils/retry"
)

// Controller drives the run state machine:
// Pending -> Injected -> Active -> Stopping -> {Completed, Failed}.
// Transitions are monotonic, a run never moves backward out of Stopping or a
// terminal state. All operations on one run are serialized through the run
// registry's per-key lock; every record write goes through the registry
// mutex so concurrent Report/Snapshot readers never observe a torn record.
// Callers only ever get value copies of the record.
type Controller struct {
	client   platform.Client
	store    *registry.RunStore
	bus      *events.Bus
	settings environment.Settings

	// reconcileInterval/reconcileAttempts bound the background stop
	// reconciler, shortened in tests
	reconcileInterval time.Duration
	reconcileAttempts int
}

// New wires a controller over the given platform client and run registry
func New(client platform.Client, store *registry.RunStore, bus *events.Bus, settings environment.Settings) *Controller {
	return &Controller{
		client:            client,
		store:             store,
		bus:               bus,
		settings:          settings,
		reconcileInterval: 30 * time.Second,
		reconcileAttempts: 10,
	}
}

// Run registers a new run for the experiment and activates its
// fault-injection resource. A second Run on a key with an active run fails
// with Conflict and performs no mutation.
func (c *Controller) Run(ctx context.Context, def *types.ExperimentDefinition, namespace string, overrides map[string]string) (types.ExperimentRun, error) {
	if err := types.ValidateName("namespace", namespace); err != nil {
		return types.ExperimentRun{}, err
	}

	run := &types.ExperimentRun{
		RunID:      uuid.New().String(),
		Experiment: def.Name,
		Namespace:  namespace,
		State:      types.RunStatePending,
		StartedAt:  time.Now(),
	}

	var snapshot types.ExperimentRun
	err := c.store.WithLock(run.Key(), func() error {
		defer func() { snapshot = *run }()

		if err := c.store.Begin(run); err != nil {
			telemetry.RunConflicts.Inc()
			return err
		}
		c.publishEvent(events.FromRun(run))
		telemetry.RunsStarted.WithLabelValues(def.Name).Inc()

		log.InfoWithValues("[Run]: Activating the fault-injection resource", logrus.Fields{
			"experiment": def.Name, "namespace": namespace, "runID": run.RunID})

		engine := platform.BuildEngine(def, namespace, run.RunID, overrides)
		applyErr := retry.
			Times(uint(c.settings.RetryCount)).
			Wait(c.settings.RetryDelay()).
			Backoff(2).
			WithContext(ctx).
			Try(func(attempt uint) error {
				callCtx, cancel := context.WithTimeout(ctx, c.settings.PlatformTimeout())
				defer cancel()
				return c.client.Apply(callCtx, engine)
			})
		if applyErr != nil {
			c.transition(run, types.RunStateFailed, applyErr.Error())
			return applyErr
		}

		c.transition(run, types.RunStateInjected, "")
		return nil
	})
	return snapshot, err
}

// Status polls the platform for the reported phase of the key's current run
// and folds it into the state machine. Transient polling failures are
// retried with backoff; once retries are exhausted the stored run is marked
// Failed while the returned copy carries the transient Unknown state.
func (c *Controller) Status(ctx context.Context, key types.RunKey) (types.ExperimentRun, error) {
	var snapshot types.ExperimentRun
	err := c.store.WithLock(key, func() error {
		run, ok := c.store.CurrentRecord(key)
		if !ok {
			return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: key.String(),
				Reason: "no run recorded for this experiment and namespace"}
		}
		defer func() { snapshot = *run }()

		if run.State.Terminal() {
			return nil
		}

		var phase string
		pollErr := retry.
			Times(uint(c.settings.RetryCount)).
			Wait(c.settings.RetryDelay()).
			Backoff(2).
			WithContext(ctx).
			Try(func(attempt uint) error {
				callCtx, cancel := context.WithTimeout(ctx, c.settings.PlatformTimeout())
				defer cancel()
				var err error
				phase, err = c.client.GetPhase(callCtx, run.Namespace, run.Experiment)
				return err
			})
		if pollErr != nil {
			detail := cerrors.Error{ErrorCode: cerrors.ErrorTypePollTimeout, Target: key.String(),
				Reason: "status poll retries exhausted, " + pollErr.Error()}
			c.transition(run, types.RunStateFailed, detail.Error())
			return detail
		}

		c.store.Mutate(func() { run.ObservedPhase = phase })
		if mapped := MapPhase(phase); mapped != types.RunStateUnknown {
			c.transition(run, mapped, "")
		}
		return nil
	})
	if err != nil && cerrors.GetErrorType(err) == cerrors.ErrorTypePollTimeout {
		// the stored record is Failed, the caller sees the blind observation
		snapshot.State = types.RunStateUnknown
	}
	return snapshot, err
}

// Stop winds the key's current run down: patch the resource to its inactive
// state, wait for the platform to report completion, force Failed on
// timeout. Stop is best-effort, a failed platform call still moves the run
// to Stopping and hands cleanup to the background reconciler.
func (c *Controller) Stop(ctx context.Context, key types.RunKey) (types.ExperimentRun, error) {
	var snapshot types.ExperimentRun
	err := c.store.WithLock(key, func() error {
		run, ok := c.store.CurrentRecord(key)
		if !ok {
			return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: key.String(),
				Reason: "no run recorded for this experiment and namespace"}
		}
		defer func() { snapshot = *run }()

		switch run.State {
		case types.RunStateInjected, types.RunStateActive:
		case types.RunStateStopping, types.RunStateCompleted:
			// idempotent, the wind-down is already underway or done
			return nil
		default:
			return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Target: key.String(),
				Reason: "stop is only valid for an Injected or Active run, current state: " + string(run.State)}
		}

		log.InfoWithValues("[Stop]: Deactivating the fault-injection resource", logrus.Fields{
			"experiment": run.Experiment, "namespace": run.Namespace, "runID": run.RunID})

		patchErr := retry.
			Times(uint(c.settings.RetryCount)).
			Wait(c.settings.RetryDelay()).
			Backoff(2).
			WithContext(ctx).
			Try(func(attempt uint) error {
				callCtx, cancel := context.WithTimeout(ctx, c.settings.PlatformTimeout())
				defer cancel()
				return c.client.PatchState(callCtx, run.Namespace, run.Experiment, v1alpha1.EngineStateStop)
			})

		c.transition(run, types.RunStateStopping, "")

		if patchErr != nil {
			log.Warnf("[Stop]: Platform-side deactivation failed, handing over to the reconciler, err: %v", patchErr)
			go c.reconcile(*run)
			return nil
		}

		return c.awaitStopped(ctx, run)
	})
	return snapshot, err
}

// awaitStopped polls until the platform reports a terminal phase or the
// stop timeout elapses, caller holds the per-key lock
func (c *Controller) awaitStopped(ctx context.Context, run *types.ExperimentRun) error {
	deadline := time.Now().Add(c.settings.StopTimeout())
	for {
		callCtx, cancel := context.WithTimeout(ctx, c.settings.PlatformTimeout())
		phase, err := c.client.GetPhase(callCtx, run.Namespace, run.Experiment)
		cancel()
		if err == nil {
			c.store.Mutate(func() { run.ObservedPhase = phase })
			if MapPhase(phase) == types.RunStateCompleted {
				c.transition(run, types.RunStateCompleted, "")
				// remove the spent resource so a later run can recreate it cleanly
				delCtx, cancelDel := context.WithTimeout(ctx, c.settings.PlatformTimeout())
				defer cancelDel()
				if err := c.client.Delete(delCtx, run.Namespace, run.Experiment); err != nil {
					log.Warnf("[Stop]: Unable to delete the spent resource, err: %v", err)
				}
				return nil
			}
		}

		if time.Now().After(deadline) {
			detail := cerrors.Error{ErrorCode: cerrors.ErrorTypeStopTimeout, Target: run.Key().String(),
				Reason: "platform did not report completion within the stop timeout"}
			c.transition(run, types.RunStateFailed, detail.Error())
			return detail
		}

		timer := time.NewTimer(c.settings.PollInterval())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Target: run.Key().String(),
				Reason: "stop wait aborted, " + ctx.Err().Error()}
		}
	}
}

// Cleanup deletes every resource managed by this engine in the namespace,
// deleting an already-absent resource is not an error
func (c *Controller) Cleanup(ctx context.Context, namespace string) error {
	if err := types.ValidateName("namespace", namespace); err != nil {
		return err
	}

	names, err := c.client.ListManaged(ctx, namespace)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		log.Infof("[Cleanup]: No managed resources found in %v", namespace)
		return nil
	}
	log.Infof("[Cleanup]: Removing %v managed resource(s) from %v", len(names), namespace)
	for _, name := range names {
		if err := c.client.Delete(ctx, namespace, name); err != nil {
			return err
		}
	}
	return nil
}

// Report returns a snapshot of every current run record in the namespace,
// an empty namespace selects all
func (c *Controller) Report(namespace string) []types.ExperimentRun {
	var report []types.ExperimentRun
	for _, run := range c.store.Snapshot() {
		if namespace == "" || run.Namespace == namespace {
			report = append(report, run)
		}
	}
	return report
}

// stateRank orders the machine, transitions only ever move up
var stateRank = map[types.RunState]int{
	types.RunStatePending:   0,
	types.RunStateInjected:  1,
	types.RunStateActive:    2,
	types.RunStateStopping:  3,
	types.RunStateCompleted: 4,
	types.RunStateFailed:    4,
	types.RunStateSkipped:   4,
}

// transition applies a forward state change, backward moves are ignored.
// The caller holds the per-key lock, the field writes go through the
// registry mutex for concurrent snapshot readers.
func (c *Controller) transition(run *types.ExperimentRun, state types.RunState, detail string) {
	applied := false
	var event events.Event
	c.store.Mutate(func() {
		if run.State.Terminal() || stateRank[state] <= stateRank[run.State] {
			return
		}
		run.State = state
		if detail != "" {
			run.ErrorDetail = detail
		}
		if state.Terminal() {
			now := time.Now()
			run.EndedAt = &now
		}
		event = events.FromRun(run)
		applied = true
	})
	if !applied {
		return
	}

	if state == types.RunStateFailed {
		telemetry.RunsFailed.WithLabelValues(run.Experiment).Inc()
		log.ErrorWithValues("[Run]: Experiment run failed", logrus.Fields{
			"experiment": run.Experiment, "namespace": run.Namespace, "runID": run.RunID, "reason": detail})
	} else if state.Terminal() {
		log.Infof("[Completion]: %v run is done", run.Experiment)
	}
	c.publishEvent(event)
}

func (c *Controller) publishEvent(event events.Event) {
	telemetry.ActiveRuns.Set(float64(c.store.ActiveCount()))
	if c.bus != nil {
		c.bus.Publish(event)
	}
}

// MapPhase folds the platform's phase vocabulary onto the internal states,
// an unrecognized phase maps to Unknown and is left for the next poll
func MapPhase(phase string) types.RunState {
	switch strings.ToLower(strings.TrimSpace(phase)) {
	case "initialized", "waiting for job creation", "waiting":
		return types.RunStateInjected
	case "running", "awaited", "active", "injecting":
		return types.RunStateActive
	case "completed", "stopped", "succeeded", "pass":
		return types.RunStateCompleted
	case "failed", "error", "stuck":
		return types.RunStateFailed
	}
	return types.RunStateUnknown
}
