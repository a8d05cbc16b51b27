package platform

import (
	"context"
	"testing"

	"github.com/litmuschaos/chaos-operator/api/litmuschaos/v1alpha1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

func TestBuildEngine(t *testing.T) {
	def := &types.ExperimentDefinition{
		Name:     "pod-delete",
		AppLabel: "app=flask-app",
		AppKind:  "deployment",
		Params: map[string]string{
			types.ParamTotalChaosDuration: "30",
			types.ParamChaosInterval:      "10",
		},
	}

	engine := BuildEngine(def, "hello-world-app", "run-1", map[string]string{types.ParamChaosInterval: "5"})

	assert.Equal(t, "pod-delete", engine.Name)
	assert.Equal(t, "hello-world-app", engine.Namespace)
	assert.Equal(t, v1alpha1.EngineStateActive, engine.Spec.EngineState)
	assert.Equal(t, ManagedByValue, engine.Labels[ManagedByLabel])
	assert.Equal(t, "run-1", engine.Labels[RunIDLabel])
	assert.Equal(t, "hello-world-app", engine.Spec.Appinfo.Appns)

	require.Len(t, engine.Spec.Experiments, 1)
	env := map[string]string{}
	for _, e := range engine.Spec.Experiments[0].Spec.Components.ENV {
		env[e.Name] = e.Value
	}
	// override wins over the template parameter
	assert.Equal(t, "5", env[types.ParamChaosInterval])
	assert.Equal(t, "30", env[types.ParamTotalChaosDuration])
}

func TestFakeLifecycle(t *testing.T) {
	fake := NewFake()
	def := &types.ExperimentDefinition{Name: "pod-delete"}
	ctx := context.Background()

	require.NoError(t, fake.Apply(ctx, BuildEngine(def, "ns", "run-1", nil)))

	phase, err := fake.GetPhase(ctx, "ns", "pod-delete")
	require.NoError(t, err)
	assert.Equal(t, "initialized", phase)

	require.NoError(t, fake.PatchState(ctx, "ns", "pod-delete", v1alpha1.EngineStateStop))
	phase, err = fake.GetPhase(ctx, "ns", "pod-delete")
	require.NoError(t, err)
	assert.Equal(t, "stopped", phase)

	names, err := fake.ListManaged(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"pod-delete"}, names)

	require.NoError(t, fake.Delete(ctx, "ns", "pod-delete"))
	// deleting an absent engine is not an error
	require.NoError(t, fake.Delete(ctx, "ns", "pod-delete"))
}
