package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

func TestRegistryGet(t *testing.T) {
	reg, err := NewExperimentRegistry(
		&types.ExperimentDefinition{Name: "pod-delete", Phase: types.PhaseBasic},
		&types.ExperimentDefinition{Name: "network-partition", Phase: types.PhaseAdvanced},
	)
	require.NoError(t, err)

	def, err := reg.Get("pod-delete")
	require.NoError(t, err)
	assert.Equal(t, "pod-delete", def.Name)

	_, err = reg.Get("no-such-experiment")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeNotFound, cerrors.GetErrorType(err))
}

func TestRegistryListSorted(t *testing.T) {
	reg, err := NewExperimentRegistry(
		&types.ExperimentDefinition{Name: "memory-hog"},
		&types.ExperimentDefinition{Name: "cpu-hog"},
	)
	require.NoError(t, err)

	defs := reg.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "cpu-hog", defs[0].Name)
	assert.Equal(t, "memory-hog", defs[1].Name)
}

func TestRegistryRejectsDuplicatesAndBadNames(t *testing.T) {
	_, err := NewExperimentRegistry(
		&types.ExperimentDefinition{Name: "pod-delete"},
		&types.ExperimentDefinition{Name: "pod-delete"},
	)
	require.Error(t, err)

	_, err = NewExperimentRegistry(&types.ExperimentDefinition{Name: "Bad_Name"})
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeValidation, cerrors.GetErrorType(err))
}

func TestLoadExperimentRegistryFromDir(t *testing.T) {
	dir := t.TempDir()
	template := `name: pod-delete
description: deletes application pods
category: pod
phase: basic
applabel: app=flask-app
appkind: deployment
params:
  TOTAL_CHAOS_DURATION: "30"
  CHAOS_INTERVAL: "10"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pod-delete.yaml"), []byte(template), 0o644))

	reg, err := LoadExperimentRegistry(dir)
	require.NoError(t, err)

	def, err := reg.Get("pod-delete")
	require.NoError(t, err)
	assert.Equal(t, "app=flask-app", def.AppLabel)
	assert.Equal(t, 30, def.ChaosDuration(60))
	assert.Equal(t, 10, def.ChaosInterval(5))
}
