package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

type experimentResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Phase       string   `json:"phase"`
	Version     string   `json:"version,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type runRequest struct {
	Experiment string            `json:"experiment"`
	Namespace  string            `json:"namespace,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

type runResponse struct {
	RunID         string     `json:"runID"`
	Experiment    string     `json:"experiment"`
	Namespace     string     `json:"namespace"`
	State         string     `json:"state"`
	ObservedPhase string     `json:"observedPhase,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type scheduleRequest struct {
	Name       string `json:"name"`
	Experiment string `json:"experiment"`
	Namespace  string `json:"namespace,omitempty"`
	Cron       string `json:"cron"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func toRunResponse(run types.ExperimentRun) runResponse {
	return runResponse{
		RunID:         run.RunID,
		Experiment:    run.Experiment,
		Namespace:     run.Namespace,
		State:         string(run.State),
		ObservedPhase: run.ObservedPhase,
		StartedAt:     run.StartedAt,
		EndedAt:       run.EndedAt,
		Error:         run.ErrorDetail,
	}
}

func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.List()
	out := make([]experimentResponse, 0, len(defs))
	for _, def := range defs {
		out = append(out, experimentResponse{
			Name:        def.Name,
			Description: def.Description,
			Category:    def.Category,
			Phase:       def.Phase,
			Version:     def.Version,
			Tags:        def.Tags,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.controller.Report(r.URL.Query().Get("namespace"))
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Namespace == "" {
		req.Namespace = s.settings.AppNamespace
	}

	def, err := s.catalog.Get(req.Experiment)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.controller.Run(r.Context(), def, req.Namespace, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

// runKey resolves the key addressed by the request path and the optional
// namespace query parameter
func (s *Server) runKey(r *http.Request) types.RunKey {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		namespace = s.settings.AppNamespace
	}
	return types.RunKey{Experiment: r.PathValue("name"), Namespace: namespace}
}

func (s *Server) runStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.controller.Status(r.Context(), s.runKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.controller.Stop(r.Context(), s.runKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.List())
}

func (s *Server) submitWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf types.Workflow
	if err := decodeJSON(r, &wf); err != nil {
		writeError(w, err)
		return
	}
	if wf.Namespace == "" {
		wf.Namespace = s.settings.AppNamespace
	}
	exec, err := s.orchestrator.Submit(wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orchestrator.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Cancel(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.List())
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Namespace == "" {
		req.Namespace = s.settings.AppNamespace
	}
	schedule := types.Schedule{
		Name:       req.Name,
		Experiment: req.Experiment,
		Namespace:  req.Namespace,
		Cron:       req.Cron,
	}
	if err := s.scheduler.Create(schedule); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.scheduler.Get(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Delete(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.scheduler.SetEnabled(r.PathValue("name"), req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	sched, err := s.scheduler.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// streamEvents pushes run state transitions as server-sent events until the
// client goes away
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Reason: "streaming unsupported"})
		return
	}

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
