// Package publisher is the façade workers use to report job progress. It
// enforces the per-job monotonic progress invariant, assigns timestamps, and
// drives the job lifecycle: reaching 100 completes the job, Fail marks it
// failed. Both terminal paths close the job's channel so subscribers observe
// end-of-stream instead of hanging.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/metrics"
	"github.com/taskwire/jobstream/internal/progress"
	"github.com/taskwire/jobstream/internal/registry"
)

// Publisher misuse errors.
var (
	ErrUnknownJob         = errors.New("unknown job")
	ErrJobNotRunning      = errors.New("job not running")
	ErrRegressiveProgress = errors.New("progress value regressed")
)

// Publisher emits progress events for running jobs.
type Publisher struct {
	reg    *registry.Registry
	clock  progress.Clock
	logger *zap.Logger

	mu   sync.Mutex
	last map[uuid.UUID]int // last published percent per running job
}

// New constructs a Publisher.
func New(reg *registry.Registry, clock progress.Clock, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		reg:    reg,
		clock:  clock,
		logger: logger,
		last:   make(map[uuid.UUID]int),
	}
}

// Start transitions the job from pending to running. Workers must call it
// before the first Emit.
func (p *Publisher) Start(jobID uuid.UUID) error {
	if err := p.reg.MarkState(jobID, registry.StateRunning, ""); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	p.logger.Debug("job started", zap.String("job_id", jobID.String()))
	return nil
}

// Emit publishes one progress event. It blocks while the job's channel is
// exerting backpressure. Publishing percent 100 completes the job and closes
// its channel.
func (p *Publisher) Emit(ctx context.Context, jobID uuid.UUID, step string, percent int) error {
	job, err := p.reg.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("emit for %s: %w", jobID, ErrUnknownJob)
	}
	if job.State != registry.StateRunning {
		return fmt.Errorf("emit for %s in state %s: %w", jobID, job.State, ErrJobNotRunning)
	}

	p.mu.Lock()
	if percent < p.last[jobID] {
		last := p.last[jobID]
		p.mu.Unlock()
		return fmt.Errorf("emit for %s: %d < %d: %w", jobID, percent, last, ErrRegressiveProgress)
	}
	p.mu.Unlock()

	evt := progress.Event{
		JobID:   jobID,
		Step:    step,
		Percent: percent,
		TS:      p.clock.Now(),
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("emit for %s: %w", jobID, err)
	}

	ch, err := p.reg.GetChannel(jobID)
	if err != nil {
		return fmt.Errorf("emit for %s: %w", jobID, ErrUnknownJob)
	}
	if err := ch.Publish(ctx, evt); err != nil {
		return fmt.Errorf("emit for %s: %w", jobID, err)
	}

	p.mu.Lock()
	p.last[jobID] = percent
	p.mu.Unlock()
	metrics.ObserveEventPublished()

	if percent == 100 {
		ch.Close()
		if err := p.reg.MarkState(jobID, registry.StateCompleted, ""); err != nil {
			return fmt.Errorf("complete job %s: %w", jobID, err)
		}
		p.forget(jobID)
		metrics.ObserveJob("completed")
		p.logger.Info("job completed", zap.String("job_id", jobID.String()))
	}
	return nil
}

// Fail emits a terminal event carrying the failure reason, marks the job
// failed, and closes its channel. The job reaches the failed state and its
// channel closes even when the terminal event cannot be delivered before ctx
// expires.
func (p *Publisher) Fail(ctx context.Context, jobID uuid.UUID, reason string) error {
	job, err := p.reg.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("fail for %s: %w", jobID, ErrUnknownJob)
	}
	if job.State != registry.StateRunning {
		return fmt.Errorf("fail for %s in state %s: %w", jobID, job.State, ErrJobNotRunning)
	}

	p.mu.Lock()
	last := p.last[jobID]
	p.mu.Unlock()

	evt := progress.Event{
		JobID:   jobID,
		Err:     reason,
		Percent: last,
		TS:      p.clock.Now(),
	}
	ch, err := p.reg.GetChannel(jobID)
	if err != nil {
		return fmt.Errorf("fail for %s: %w", jobID, ErrUnknownJob)
	}
	// The terminal event is best effort. Closing the channel is what ends
	// subscriber streams, so a publish failure must not skip it or leave the
	// job running.
	if err := ch.Publish(ctx, evt); err != nil {
		p.logger.Warn("terminal event dropped",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	} else {
		metrics.ObserveEventPublished()
	}

	ch.Close()
	if err := p.reg.MarkState(jobID, registry.StateFailed, reason); err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	p.forget(jobID)
	metrics.ObserveJob("failed")
	p.logger.Warn("job failed",
		zap.String("job_id", jobID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (p *Publisher) forget(jobID uuid.UUID) {
	p.mu.Lock()
	delete(p.last, jobID)
	p.mu.Unlock()
}
