package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/registry"
	"github.com/taskwire/jobstream/internal/worker"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type startJobRequest struct {
	Template string        `json:"template,omitempty"`
	Steps    []worker.Step `json:"steps,omitempty"`
}

// startJob handles POST /v1/jobs. The body names a configured template or
// carries an inline step plan. It returns 202 with the job id immediately;
// the worker runs asynchronously.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	steps := req.Steps
	if req.Template != "" {
		if len(steps) > 0 {
			writeError(w, http.StatusBadRequest, "provide template or steps, not both")
			return
		}
		tmpl, ok := s.cfg.Templates[req.Template]
		if !ok {
			writeError(w, http.StatusNotFound, "job template not found")
			return
		}
		steps = append([]worker.Step(nil), tmpl...)
	}
	if err := worker.ValidatePlan(steps); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.registry.CreateJob()
	if err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	go s.runner.Run(s.base, job.ID, steps)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID.String()})
}

// getJob handles GET /v1/jobs/{job_id}. Evicted jobs yield 404.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.registry.GetJob(jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

// listJobs handles GET /v1/jobs?state=&limit=&offset=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state *registry.State
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		parsed, parseErr := parseState(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &parsed
	}
	jobs := s.registry.ListJobs(state, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobDTOs(jobs)})
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	jobIDStr := chi.URLParam(r, "job_id")
	if jobIDStr == "" {
		return uuid.UUID{}, errors.New("job_id is required")
	}
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseState(input string) (registry.State, error) {
	switch strings.ToLower(input) {
	case "pending":
		return registry.StatePending, nil
	case "running":
		return registry.StateRunning, nil
	case "completed":
		return registry.StateCompleted, nil
	case "failed":
		return registry.StateFailed, nil
	default:
		return "", errors.New("invalid state")
	}
}

func toJobDTOs(in []registry.Job) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, job := range in {
		out = append(out, toJobDTO(job))
	}
	return out
}

func toJobDTO(job registry.Job) jobDTO {
	dto := jobDTO{
		ID:        job.ID.String(),
		State:     string(job.State),
		CreatedAt: job.CreatedAt,
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = job.FinishedAt
	}
	if job.ErrorText != "" {
		dto.Error = job.ErrorText
	}
	return dto
}

type jobDTO struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// eventDTO is the wire form of one progress record, one per push frame.
type eventDTO struct {
	Step     string `json:"step,omitempty"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}
