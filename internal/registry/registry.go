// Package registry owns job lifecycle records and their progress channels,
// including the eviction sweep that removes finished jobs after a retention
// window.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/metrics"
	"github.com/taskwire/jobstream/internal/progress"
)

// State is a job lifecycle state.
type State string

// Job lifecycle states.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no transitions out of s are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one tracked long-running process instance.
type Job struct {
	// ID uniquely identifies the job.
	ID uuid.UUID
	// State is the current lifecycle state.
	State State
	// CreatedAt is stamped on creation.
	CreatedAt time.Time
	// FinishedAt is nil until the job reaches a terminal state.
	FinishedAt *time.Time
	// ErrorText holds the failure reason for failed jobs.
	ErrorText string
}

// Registry errors.
var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Config controls Registry behavior.
//   - ChannelCapacity: per-job event buffer size (default progress.DefaultCapacity).
//   - Retention: how long terminal jobs stay queryable (default 5m).
//   - SweepInterval: how often the eviction sweep runs (default 30s).
type Config struct {
	ChannelCapacity int
	Retention       time.Duration
	SweepInterval   time.Duration
}

const (
	defaultRetention     = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

// Registry maps job identifiers to their lifecycle record and progress
// channel. All methods are safe for concurrent use.
type Registry struct {
	cfg    Config
	idGen  progress.IDGenerator
	clock  progress.Clock
	logger *zap.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*entry
}

type entry struct {
	job Job
	ch  *progress.Channel
}

// New constructs a Registry.
func New(cfg Config, idGen progress.IDGenerator, clock progress.Clock, logger *zap.Logger) *Registry {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = progress.DefaultCapacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:    cfg,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
		jobs:   make(map[uuid.UUID]*entry),
	}
}

// CreateJob allocates a fresh identifier and channel and records the job in
// the pending state.
func (r *Registry) CreateJob() (Job, error) {
	id, err := r.idGen.NewRawID()
	if err != nil {
		return Job{}, fmt.Errorf("allocate job id: %w", err)
	}
	job := Job{
		ID:        id,
		State:     StatePending,
		CreatedAt: r.clock.Now(),
	}
	r.mu.Lock()
	r.jobs[id] = &entry{
		job: job,
		ch:  progress.NewChannel(r.cfg.ChannelCapacity),
	}
	size := len(r.jobs)
	r.mu.Unlock()

	metrics.ObserveJob("created")
	metrics.SetActiveJobs(size)
	r.logger.Debug("job created", zap.String("job_id", id.String()))
	return job, nil
}

// GetJob fetches the lifecycle record, or ErrNotFound for unknown/evicted ids.
func (r *Registry) GetJob(id uuid.UUID) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return e.job, nil
}

// GetChannel fetches the job's progress channel, or ErrNotFound for
// unknown/evicted ids.
func (r *Registry) GetChannel(id uuid.UUID) (*progress.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.ch, nil
}

// MarkState transitions the job, stamping FinishedAt on terminal states and
// recording errText for failures. Only pending->running, running->completed,
// and running->failed are legal.
func (r *Registry) MarkState(id uuid.UUID, state State, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !validTransition(e.job.State, state) {
		return fmt.Errorf("%s -> %s: %w", e.job.State, state, ErrInvalidTransition)
	}
	e.job.State = state
	e.job.ErrorText = errText
	if state.Terminal() {
		now := r.clock.Now()
		e.job.FinishedAt = &now
	}
	return nil
}

// ListJobs returns jobs filtered by optional state, ordered by creation time,
// with limit/offset pagination.
func (r *Registry) ListJobs(state *State, limit, offset int) []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		if state != nil && e.job.State != *state {
			continue
		}
		out = append(out, e.job)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			// Tie-break on id so pagination stays stable for jobs created
			// within the same clock tick.
			return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []Job{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Run executes the eviction sweep until ctx finishes.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts terminal jobs older than the retention window, closing their
// channel if the publisher has not already done so.
func (r *Registry) sweep() {
	cutoff := r.clock.Now().Add(-r.cfg.Retention)

	r.mu.Lock()
	var evicted []uuid.UUID
	for id, e := range r.jobs {
		if !e.job.State.Terminal() || e.job.FinishedAt == nil {
			continue
		}
		if e.job.FinishedAt.After(cutoff) {
			continue
		}
		e.ch.Close()
		delete(r.jobs, id)
		evicted = append(evicted, id)
	}
	size := len(r.jobs)
	r.mu.Unlock()

	metrics.SetActiveJobs(size)
	for _, id := range evicted {
		metrics.ObserveJob("evicted")
		r.logger.Debug("job evicted", zap.String("job_id", id.String()))
	}
}

func validTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}
