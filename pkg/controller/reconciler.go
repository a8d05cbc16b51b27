package controller

import (
	"context"
	"time"

	"github.com/litmuschaos/chaos-operator/api/litmuschaos/v1alpha1"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// reconcile retries the platform-side wind-down of a run whose Stop call
// could not reach the platform. It runs detached from the caller's context,
// the run stays Stopping until the platform confirms or attempts run out.
func (c *Controller) reconcile(run types.ExperimentRun) {
	key := run.Key()
	for attempt := 1; attempt <= c.reconcileAttempts; attempt++ {
		time.Sleep(c.reconcileInterval)

		ctx, cancel := context.WithTimeout(context.Background(), c.settings.PlatformTimeout())
		err := c.client.PatchState(ctx, run.Namespace, run.Experiment, v1alpha1.EngineStateStop)
		if err == nil {
			err = c.client.Delete(ctx, run.Namespace, run.Experiment)
		}
		cancel()

		if err == nil {
			c.finishReconcile(key, run.RunID, types.RunStateCompleted, "")
			log.Infof("[Reconcile]: Deactivated %v after %v attempt(s)", key, attempt)
			return
		}
		if cerrors.GetErrorType(err) == cerrors.ErrorTypePlatformPermanent {
			c.finishReconcile(key, run.RunID, types.RunStateFailed, err.Error())
			log.Errorf("[Reconcile]: Giving up on %v, err: %v", key, err)
			return
		}
		log.Warnf("[Reconcile]: Attempt %v/%v for %v failed, err: %v", attempt, c.reconcileAttempts, key, err)
	}

	detail := cerrors.Error{ErrorCode: cerrors.ErrorTypeStopTimeout, Target: key.String(),
		Reason: "reconciler attempts exhausted without platform confirmation"}
	c.finishReconcile(key, run.RunID, types.RunStateFailed, detail.Error())
	log.Errorf("[Reconcile]: %v", detail.Error())
}

// finishReconcile folds the reconciler's verdict back into the registry,
// skipped when a newer run has taken over the key
func (c *Controller) finishReconcile(key types.RunKey, runID string, state types.RunState, detail string) {
	_ = c.store.WithLock(key, func() error {
		if current, ok := c.store.CurrentRecord(key); ok && current.RunID == runID {
			c.transition(current, state, detail)
		}
		return nil
	})
}
