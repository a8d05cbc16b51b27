// Package scheduler fires experiments on recurring cron expressions. It
// evaluates on a fixed tick against minute-truncated windows, a schedule
// fires at most once per window regardless of how many ticks land in it.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/controller"
	"github.com/litmuschaos/chaos-orchestrator/pkg/environment"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/registry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/telemetry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// standard 5-field cron, minutes granularity
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type entry struct {
	schedule types.Schedule
	spec     cron.Schedule
}

// Scheduler owns the schedule table and the tick loop that evaluates it
type Scheduler struct {
	controller *controller.Controller
	catalog    *registry.ExperimentRegistry
	store      *registry.RunStore
	settings   environment.Settings

	mu        sync.Mutex
	schedules map[string]*entry
	fired     map[string]time.Time
}

// New wires a scheduler over the controller and the experiment catalog
func New(ctrl *controller.Controller, catalog *registry.ExperimentRegistry, store *registry.RunStore, settings environment.Settings) *Scheduler {
	return &Scheduler{
		controller: ctrl,
		catalog:    catalog,
		store:      store,
		settings:   settings,
		schedules:  make(map[string]*entry),
		fired:      make(map[string]time.Time),
	}
}

// Create registers a new enabled schedule. The cron expression is validated
// up front, a rejected expression never enters the table.
func (s *Scheduler) Create(schedule types.Schedule) error {
	if err := types.ValidateName("schedule", schedule.Name); err != nil {
		return err
	}
	if err := types.ValidateName("namespace", schedule.Namespace); err != nil {
		return err
	}
	if _, err := s.catalog.Get(schedule.Experiment); err != nil {
		return err
	}
	spec, err := cronParser.Parse(schedule.Cron)
	if err != nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidCron, Target: schedule.Name,
			Reason: "invalid cron expression '" + schedule.Cron + "', " + err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[schedule.Name]; ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeConflict, Target: schedule.Name,
			Reason: "a schedule with this name already exists"}
	}
	schedule.Enabled = true
	schedule.LastRun = nil
	schedule.LastError = ""
	s.schedules[schedule.Name] = &entry{schedule: schedule, spec: spec}

	log.InfoWithValues("[Scheduler]: Schedule created", logrus.Fields{
		"schedule": schedule.Name, "experiment": schedule.Experiment, "cron": schedule.Cron})
	return nil
}

// Delete removes a schedule from the table
func (s *Scheduler) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[name]; !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: name, Reason: "no such schedule"}
	}
	delete(s.schedules, name)
	delete(s.fired, name)
	log.Infof("[Scheduler]: Schedule %v deleted", name)
	return nil
}

// SetEnabled pauses or resumes a schedule without losing its firing history
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.schedules[name]
	if !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: name, Reason: "no such schedule"}
	}
	ent.schedule.Enabled = enabled
	return nil
}

// Get returns a copy of one schedule
func (s *Scheduler) Get(name string) (types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.schedules[name]
	if !ok {
		return types.Schedule{}, cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: name, Reason: "no such schedule"}
	}
	return ent.schedule, nil
}

// List returns a snapshot of the schedule table, sorted by name
func (s *Scheduler) List() []types.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Schedule, 0, len(s.schedules))
	for _, ent := range s.schedules {
		out = append(out, ent.schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run drives the evaluation loop until the context is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settings.SchedulerTick())
	defer ticker.Stop()
	log.Infof("[Scheduler]: Evaluation loop started, tick %v", s.settings.SchedulerTick())
	for {
		select {
		case <-ctx.Done():
			log.Info("[Scheduler]: Evaluation loop stopped")
			return
		case now := <-ticker.C:
			s.evaluate(ctx, now)
		}
	}
}

// evaluate fires every schedule that is due in the window containing now.
// Windows already fired are skipped, so two ticks landing in one minute
// trigger a schedule once. Past windows are never backfilled.
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	window := now.Truncate(time.Minute)

	s.mu.Lock()
	var due []types.Schedule
	for name, ent := range s.schedules {
		if !ent.schedule.Enabled {
			continue
		}
		if s.fired[name].Equal(window) {
			continue
		}
		// Next is strictly after its argument, stepping back one second
		// makes an exact window match visible
		if ent.spec.Next(window.Add(-time.Second)).Equal(window) {
			s.fired[name] = window
			// copied under the lock, the entry may be toggled or updated
			// concurrently while the firing is in flight
			due = append(due, ent.schedule)
		}
	}
	s.mu.Unlock()

	for _, schedule := range due {
		s.fire(ctx, schedule, window)
	}
}

// fire launches one scheduled run, a key already busy with an active run is
// skipped rather than treated as a failure
func (s *Scheduler) fire(ctx context.Context, schedule types.Schedule, window time.Time) {
	if current, ok := s.store.Current(schedule.Key()); ok && !current.State.Terminal() {
		log.Infof("[Scheduler]: Skipping %v, an active run already holds %v", schedule.Name, schedule.Key())
		telemetry.ScheduleFirings.WithLabelValues(schedule.Name, "skipped").Inc()
		return
	}

	def, err := s.catalog.Get(schedule.Experiment)
	if err != nil {
		s.recordOutcome(schedule.Name, window, err)
		telemetry.ScheduleFirings.WithLabelValues(schedule.Name, "error").Inc()
		return
	}

	log.InfoWithValues("[Scheduler]: Firing schedule", logrus.Fields{
		"schedule": schedule.Name, "experiment": schedule.Experiment, "window": window.Format(time.RFC3339)})

	_, err = s.controller.Run(ctx, def, schedule.Namespace, nil)
	s.recordOutcome(schedule.Name, window, err)
	switch {
	case err == nil:
		telemetry.ScheduleFirings.WithLabelValues(schedule.Name, "started").Inc()
	case cerrors.GetErrorType(err) == cerrors.ErrorTypeConflict:
		// lost the race against a manual run in the same window
		telemetry.ScheduleFirings.WithLabelValues(schedule.Name, "conflict").Inc()
	default:
		log.Errorf("[Scheduler]: Schedule %v failed to start its run, err: %v", schedule.Name, err)
		telemetry.ScheduleFirings.WithLabelValues(schedule.Name, "error").Inc()
	}
}

// recordOutcome updates the schedule's firing history in the table
func (s *Scheduler) recordOutcome(name string, window time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.schedules[name]
	if !ok {
		// deleted while firing
		return
	}
	ent.schedule.LastRun = &window
	if err != nil {
		ent.schedule.LastError = err.Error()
	} else {
		ent.schedule.LastError = ""
	}
}
