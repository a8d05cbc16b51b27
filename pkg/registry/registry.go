package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// ExperimentRegistry holds the named experiment templates, loaded once at
// startup and read-only thereafter
type ExperimentRegistry struct {
	definitions map[string]*types.ExperimentDefinition
}

// NewExperimentRegistry builds a registry from an explicit template set
func NewExperimentRegistry(defs ...*types.ExperimentDefinition) (*ExperimentRegistry, error) {
	registry := &ExperimentRegistry{definitions: make(map[string]*types.ExperimentDefinition)}
	for _, def := range defs {
		if err := registry.add(def); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// LoadExperimentRegistry reads every template YAML inside dir
func LoadExperimentRegistry(dir string) (*ExperimentRegistry, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to scan the templates directory %v, err: %v", dir, err)
	}

	registry := &ExperimentRegistry{definitions: make(map[string]*types.ExperimentDefinition)}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to read the template file %v, err: %v", file, err)
		}
		def := &types.ExperimentDefinition{}
		if err := yaml.Unmarshal(data, def); err != nil {
			return nil, errors.Wrapf(err, "Unable to parse the template file %v, err: %v", file, err)
		}
		if err := registry.add(def); err != nil {
			return nil, err
		}
	}
	log.Infof("[Registry]: Loaded %v experiment template(s) from %v", len(registry.definitions), dir)
	return registry, nil
}

func (r *ExperimentRegistry) add(def *types.ExperimentDefinition) error {
	if err := types.ValidateName("experiment", def.Name); err != nil {
		return err
	}
	if _, ok := r.definitions[def.Name]; ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Target: def.Name, Reason: "duplicate experiment template"}
	}
	if def.Phase == "" {
		def.Phase = types.PhaseBasic
	}
	r.definitions[def.Name] = def
	return nil
}

// List returns all known experiment definitions, sorted by name
func (r *ExperimentRegistry) List() []*types.ExperimentDefinition {
	defs := make([]*types.ExperimentDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Get resolves a template by name
func (r *ExperimentRegistry) Get(name string) (*types.ExperimentDefinition, error) {
	def, ok := r.definitions[name]
	if !ok {
		return nil, cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: name, Reason: fmt.Sprintf("no experiment template named '%s'", name)}
	}
	return def, nil
}
