package registry

import (
	"sync"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// RunStore is the shared run registry, it maps each (experiment, namespace)
// key to its current run and enforces at most one active run per key.
// Two lock levels protect it: the per-key lock serializes whole operations
// (Run/Stop/Status on one key), the registry mutex guards the map and every
// field of the stored records. Writers hold both, record fields are only
// ever written inside Mutate while the owner holds the key lock, so readers
// are safe under either lock.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[types.RunKey]*types.ExperimentRun
	locks map[types.RunKey]*sync.Mutex
}

// NewRunStore creates an empty run registry
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[types.RunKey]*types.ExperimentRun),
		locks: make(map[types.RunKey]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing all operations on one key
func (s *RunStore) keyLock(key types.RunKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// WithLock runs fn while holding the per-key lock, Run/Stop/Status on one
// run never race each other
func (s *RunStore) WithLock(key types.RunKey, fn func() error) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Mutate runs fn under the registry mutex. Every write to a stored record's
// fields goes through here so Snapshot and Current never observe a torn
// record. fn must not call back into the store.
func (s *RunStore) Mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Begin registers run as the current run for its key. It fails with a
// Conflict, and performs no mutation, when a non-terminal run already holds
// the key. A terminal previous run is superseded, its history overwritten.
// The caller must hold the per-key lock.
func (s *RunStore) Begin(run *types.ExperimentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := run.Key()
	if current, ok := s.runs[key]; ok && !current.State.Terminal() {
		return cerrors.Error{
			ErrorCode: cerrors.ErrorTypeConflict,
			Target:    key.String(),
			Reason:    "an active run already exists for this experiment and namespace",
		}
	}
	s.runs[key] = run
	return nil
}

// Current returns a copy of the run currently holding the key, terminal or
// not, safe to read from any goroutine
func (s *RunStore) Current(key types.RunKey) (types.ExperimentRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[key]
	if !ok {
		return types.ExperimentRun{}, false
	}
	return *run, true
}

// CurrentRecord returns the live record for the key. The caller must hold
// the per-key lock for the whole time it reads the record, and route any
// write through Mutate.
func (s *RunStore) CurrentRecord(key types.RunKey) (*types.ExperimentRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[key]
	return run, ok
}

// ActiveCount returns the number of non-terminal runs in the registry
func (s *RunStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, run := range s.runs {
		if !run.State.Terminal() {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of every current run record
func (s *RunStore) Snapshot() []types.ExperimentRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]types.ExperimentRun, 0, len(s.runs))
	for _, run := range s.runs {
		snapshot = append(snapshot, *run)
	}
	return snapshot
}
