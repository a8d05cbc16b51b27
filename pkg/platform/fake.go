package platform

import (
	"context"
	"sync"

	"github.com/litmuschaos/chaos-operator/api/litmuschaos/v1alpha1"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
)

// Fake is an in-memory platform used by the state machine tests, it mimics
// the external platform without any cluster access
type Fake struct {
	mu      sync.Mutex
	engines map[string]*fakeEngine

	// StopPhase is the phase reported after an engine is patched to stop
	StopPhase string

	applyErr  *injectedError
	patchErr  *injectedError
	deleteErr *injectedError
	getErr    *injectedError
}

type fakeEngine struct {
	engine *v1alpha1.ChaosEngine
	state  v1alpha1.EngineState
	phase  string
}

type injectedError struct {
	err   error
	times int
}

// NewFake creates an empty in-memory platform
func NewFake() *Fake {
	return &Fake{
		engines:   make(map[string]*fakeEngine),
		StopPhase: "stopped",
	}
}

func key(namespace, name string) string {
	return namespace + "/" + name
}

// FailApply makes the next n Apply calls fail with err, n < 0 fails forever
func (f *Fake) FailApply(err error, n int) { f.mu.Lock(); defer f.mu.Unlock(); f.applyErr = &injectedError{err, n} }

// FailPatch makes the next n PatchState calls fail with err
func (f *Fake) FailPatch(err error, n int) { f.mu.Lock(); defer f.mu.Unlock(); f.patchErr = &injectedError{err, n} }

// FailDelete makes the next n Delete calls fail with err
func (f *Fake) FailDelete(err error, n int) { f.mu.Lock(); defer f.mu.Unlock(); f.deleteErr = &injectedError{err, n} }

// FailGet makes the next n GetPhase calls fail with err
func (f *Fake) FailGet(err error, n int) { f.mu.Lock(); defer f.mu.Unlock(); f.getErr = &injectedError{err, n} }

func (f *Fake) consume(inj **injectedError) error {
	if *inj == nil {
		return nil
	}
	if (*inj).times == 0 {
		*inj = nil
		return nil
	}
	err := (*inj).err
	if (*inj).times > 0 {
		(*inj).times--
		if (*inj).times == 0 {
			*inj = nil
		}
	}
	return err
}

// SetPhase overrides the phase the platform reports for an engine
func (f *Fake) SetPhase(namespace, name, phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eng, ok := f.engines[key(namespace, name)]; ok {
		eng.phase = phase
	}
}

// Exists reports whether an engine is present on the fake platform
func (f *Fake) Exists(namespace, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.engines[key(namespace, name)]
	return ok
}

func (f *Fake) Apply(ctx context.Context, engine *v1alpha1.ChaosEngine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.applyErr); err != nil {
		return err
	}
	f.engines[key(engine.Namespace, engine.Name)] = &fakeEngine{
		engine: engine,
		state:  v1alpha1.EngineStateActive,
		phase:  "initialized",
	}
	return nil
}

func (f *Fake) PatchState(ctx context.Context, namespace, name string, state v1alpha1.EngineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.patchErr); err != nil {
		return err
	}
	eng, ok := f.engines[key(namespace, name)]
	if !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformPermanent, Phase: "PatchState", Target: name, Reason: "engine not found"}
	}
	eng.state = state
	if state == v1alpha1.EngineStateStop {
		eng.phase = f.StopPhase
	}
	return nil
}

func (f *Fake) Delete(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.deleteErr); err != nil {
		return err
	}
	delete(f.engines, key(namespace, name))
	return nil
}

func (f *Fake) GetPhase(ctx context.Context, namespace, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consume(&f.getErr); err != nil {
		return "", err
	}
	eng, ok := f.engines[key(namespace, name)]
	if !ok {
		return "", cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformPermanent, Phase: "GetPhase", Target: name, Reason: "engine not found"}
	}
	return eng.phase, nil
}

func (f *Fake) ListManaged(ctx context.Context, namespace string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, eng := range f.engines {
		if eng.engine.Namespace != namespace {
			continue
		}
		if eng.engine.Labels[ManagedByLabel] == ManagedByValue {
			names = append(names, eng.engine.Name)
		}
	}
	return names, nil
}
