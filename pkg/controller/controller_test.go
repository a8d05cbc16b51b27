package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/environment"
	"github.com/litmuschaos/chaos-orchestrator/pkg/platform"
	"github.com/litmuschaos/chaos-orchestrator/pkg/registry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

func testSettings() environment.Settings {
	settings := environment.Defaults()
	settings.PlatformTimeoutSec = 1
	settings.RetryCount = 2
	settings.RetryDelaySec = 0
	settings.PollIntervalSec = 0
	settings.StopTimeoutSec = 1
	return settings
}

func newTestController() (*Controller, *platform.Fake, *registry.RunStore) {
	fake := platform.NewFake()
	store := registry.NewRunStore()
	ctrl := New(fake, store, nil, testSettings())
	ctrl.reconcileInterval = time.Millisecond
	ctrl.reconcileAttempts = 5
	return ctrl, fake, store
}

func podDelete() *types.ExperimentDefinition {
	return &types.ExperimentDefinition{
		Name:     "pod-delete",
		AppLabel: "app=hello",
		AppKind:  "deployment",
		Params:   map[string]string{types.ParamTotalChaosDuration: "30"},
	}
}

func TestRunInjects(t *testing.T) {
	ctrl, fake, store := newTestController()

	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateInjected, run.State)
	assert.NotEmpty(t, run.RunID)
	assert.True(t, fake.Exists("demo", "pod-delete"))

	current, ok := store.Current(run.Key())
	require.True(t, ok)
	assert.Equal(t, run.RunID, current.RunID)
}

func TestRunRejectsInvalidNamespace(t *testing.T) {
	ctrl, fake, _ := newTestController()

	_, err := ctrl.Run(context.Background(), podDelete(), "Not_A_Namespace", nil)
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeValidation, cerrors.GetErrorType(err))
	assert.False(t, fake.Exists("Not_A_Namespace", "pod-delete"))
}

func TestSecondRunConflicts(t *testing.T) {
	ctrl, fake, store := newTestController()

	first, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeConflict, cerrors.GetErrorType(err))

	// the loser performed no mutation, the winner's run is untouched
	current, ok := store.Current(first.Key())
	require.True(t, ok)
	assert.Equal(t, first.RunID, current.RunID)
	assert.Equal(t, types.RunStateInjected, current.State)
	assert.True(t, fake.Exists("demo", "pod-delete"))
}

func TestRunFailsWhenApplyKeepsFailing(t *testing.T) {
	ctrl, fake, _ := newTestController()
	fake.FailApply(cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformTransient, Reason: "apiserver unreachable"}, -1)

	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.Error(t, err)
	assert.Equal(t, types.RunStateFailed, run.State)
	require.NotNil(t, run.EndedAt)
}

func TestRunDoesNotRetryPermanentApplyFailure(t *testing.T) {
	ctrl, fake, _ := newTestController()
	// a single permanent failure, a retry would succeed and mask the bug
	fake.FailApply(cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformPermanent, Reason: "forbidden"}, 1)

	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.Error(t, err)
	assert.Equal(t, types.RunStateFailed, run.State)
	assert.False(t, fake.Exists("demo", "pod-delete"))
}

func TestStatusMapsPhases(t *testing.T) {
	ctrl, fake, _ := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	fake.SetPhase("demo", "pod-delete", "running")
	rec, err := ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateActive, rec.State)
	assert.Equal(t, "running", rec.ObservedPhase)

	fake.SetPhase("demo", "pod-delete", "completed")
	rec, err = ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, rec.State)
	require.NotNil(t, rec.EndedAt)
}

func TestStatusUnknownKey(t *testing.T) {
	ctrl, _, _ := newTestController()

	_, err := ctrl.Status(context.Background(), types.RunKey{Experiment: "pod-delete", Namespace: "demo"})
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeNotFound, cerrors.GetErrorType(err))
}

func TestStatusNeverMovesBackward(t *testing.T) {
	ctrl, fake, _ := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	fake.SetPhase("demo", "pod-delete", "completed")
	_, err = ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)

	// a stale phase report must not resurrect a finished run
	fake.SetPhase("demo", "pod-delete", "running")
	rec, err := ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, rec.State)
}

func TestStatusUnrecognizedPhaseKeepsState(t *testing.T) {
	ctrl, fake, _ := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	fake.SetPhase("demo", "pod-delete", "some-new-phase")
	rec, err := ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateInjected, rec.State)
	assert.Equal(t, "some-new-phase", rec.ObservedPhase)
}

func TestStatusExhaustedRetriesMarkFailed(t *testing.T) {
	ctrl, fake, store := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	fake.FailGet(cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformTransient, Reason: "timeout"}, -1)
	rec, err := ctrl.Status(context.Background(), run.Key())
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypePollTimeout, cerrors.GetErrorType(err))
	assert.Equal(t, types.RunStateUnknown, rec.State)

	stored, ok := store.Current(run.Key())
	require.True(t, ok)
	assert.Equal(t, types.RunStateFailed, stored.State)
}

func TestStatusRecoversAfterTransientFailure(t *testing.T) {
	ctrl, fake, _ := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	fake.SetPhase("demo", "pod-delete", "running")
	fake.FailGet(cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformTransient, Reason: "blip"}, 1)
	rec, err := ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateActive, rec.State)
}

func TestStopLifecycle(t *testing.T) {
	ctrl, fake, _ := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	fake.SetPhase("demo", "pod-delete", "running")
	rec, err := ctrl.Status(context.Background(), run.Key())
	require.NoError(t, err)
	require.Equal(t, types.RunStateActive, rec.State)

	rec, err = ctrl.Stop(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, rec.State)
	require.NotNil(t, rec.EndedAt)
	// the spent resource was removed
	assert.False(t, fake.Exists("demo", "pod-delete"))

	// the key is free again, a fresh run supersedes the completed one
	next, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateInjected, next.State)
	assert.NotEqual(t, run.RunID, next.RunID)
}

func TestStopIsIdempotent(t *testing.T) {
	ctrl, fake, _ := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	rec, err := ctrl.Stop(context.Background(), run.Key())
	require.NoError(t, err)
	require.Equal(t, types.RunStateCompleted, rec.State)

	rec, err = ctrl.Stop(context.Background(), run.Key())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, rec.State)
	assert.False(t, fake.Exists("demo", "pod-delete"))
}

func TestStopUnknownKey(t *testing.T) {
	ctrl, _, _ := newTestController()

	_, err := ctrl.Stop(context.Background(), types.RunKey{Experiment: "pod-delete", Namespace: "demo"})
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeNotFound, cerrors.GetErrorType(err))
}

func TestStopInvalidFromPendingOrFailed(t *testing.T) {
	for _, state := range []types.RunState{types.RunStatePending, types.RunStateFailed} {
		ctrl, _, store := newTestController()
		run := &types.ExperimentRun{RunID: "run-x", Experiment: "pod-delete", Namespace: "demo",
			State: state, StartedAt: time.Now()}
		require.NoError(t, store.WithLock(run.Key(), func() error {
			return store.Begin(run)
		}))

		_, err := ctrl.Stop(context.Background(), run.Key())
		require.Error(t, err, "state %v", state)
		assert.Equal(t, cerrors.ErrorTypeValidation, cerrors.GetErrorType(err))
	}
}

func TestStopTimesOut(t *testing.T) {
	ctrl, fake, _ := newTestController()
	fake.StopPhase = "running" // the platform never confirms the wind-down

	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	rec, err := ctrl.Stop(context.Background(), run.Key())
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeStopTimeout, cerrors.GetErrorType(err))
	assert.Equal(t, types.RunStateFailed, rec.State)
}

func TestStopHandsOverToReconciler(t *testing.T) {
	ctrl, fake, store := newTestController()
	run, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)

	// the synchronous retries fail, the reconciler's second attempt succeeds
	fake.FailPatch(cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformTransient, Reason: "apiserver unreachable"}, 3)
	rec, err := ctrl.Stop(context.Background(), run.Key())
	require.NoError(t, err)
	require.Equal(t, types.RunStateStopping, rec.State)

	require.Eventually(t, func() bool {
		current, ok := store.Current(run.Key())
		return ok && current.State == types.RunStateCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, fake.Exists("demo", "pod-delete"))
}

func TestCleanupIsIdempotent(t *testing.T) {
	ctrl, fake, _ := newTestController()
	_, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)
	networkLoss := &types.ExperimentDefinition{Name: "pod-network-loss", AppLabel: "app=hello", AppKind: "deployment"}
	_, err = ctrl.Run(context.Background(), networkLoss, "demo", nil)
	require.NoError(t, err)

	require.NoError(t, ctrl.Cleanup(context.Background(), "demo"))
	assert.False(t, fake.Exists("demo", "pod-delete"))
	assert.False(t, fake.Exists("demo", "pod-network-loss"))

	// nothing left to delete, still not an error
	require.NoError(t, ctrl.Cleanup(context.Background(), "demo"))
}

func TestReportFiltersByNamespace(t *testing.T) {
	ctrl, _, _ := newTestController()
	_, err := ctrl.Run(context.Background(), podDelete(), "demo", nil)
	require.NoError(t, err)
	_, err = ctrl.Run(context.Background(), podDelete(), "staging", nil)
	require.NoError(t, err)

	assert.Len(t, ctrl.Report("demo"), 1)
	assert.Len(t, ctrl.Report(""), 2)
	assert.Empty(t, ctrl.Report("absent"))
}

// Exercises Report and status reads against a full run lifecycle churning on
// one key, run under -race to catch torn reads of the shared records.
func TestReportIsSafeDuringConcurrentLifecycle(t *testing.T) {
	ctrl, fake, store := newTestController()
	ctx := context.Background()
	key := types.RunKey{Experiment: "pod-delete", Namespace: "demo"}

	done := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, run := range ctrl.Report("") {
				_ = run.State
				_ = run.ObservedPhase
			}
			store.ActiveCount()
			if current, ok := store.Current(key); ok {
				_ = current.ErrorDetail
			}
		}
	}()

	for i := 0; i < 50; i++ {
		if _, err := ctrl.Run(ctx, podDelete(), "demo", nil); err == nil {
			fake.SetPhase("demo", "pod-delete", "running")
			_, _ = ctrl.Status(ctx, key)
			_, _ = ctrl.Stop(ctx, key)
		}
	}

	close(done)
	readers.Wait()

	report := ctrl.Report("demo")
	require.Len(t, report, 1)
	assert.Equal(t, types.RunStateCompleted, report[0].State)
}

func TestMapPhase(t *testing.T) {
	tests := []struct {
		phase string
		want  types.RunState
	}{
		{"initialized", types.RunStateInjected},
		{"Running", types.RunStateActive},
		{"awaited", types.RunStateActive},
		{"completed", types.RunStateCompleted},
		{"stopped", types.RunStateCompleted},
		{"failed", types.RunStateFailed},
		{"  Stopped  ", types.RunStateCompleted},
		{"something-else", types.RunStateUnknown},
		{"", types.RunStateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapPhase(tt.phase), "phase %q", tt.phase)
	}
}
