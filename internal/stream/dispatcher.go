// Package stream adapts per-job progress channels into independent,
// cancellable subscriber-facing sequences for the transport layer.
package stream

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

// ErrEnded signals a clean end-of-stream. It is the expected terminal result
// of every subscription, not a failure.
var ErrEnded = errors.New("progress stream ended")

// Dispatcher hands out live event sequences keyed by job id.
type Dispatcher struct {
	reg    *registry.Registry
	logger *zap.Logger
}

// New constructs a Dispatcher.
func New(reg *registry.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{reg: reg, logger: logger}
}

// Attach opens a subscription to jobID's live event sequence. Concurrent
// subscriptions to the same job are fully independent. Attaching to a job
// whose stream already ended yields a subscription that ends immediately;
// attaching after eviction fails with registry.ErrNotFound.
func (d *Dispatcher) Attach(jobID uuid.UUID) (*Subscription, error) {
	ch, err := d.reg.GetChannel(jobID)
	if err != nil {
		return nil, fmt.Errorf("attach to %s: %w", jobID, err)
	}
	metrics.IncActiveSubscribers()
	d.logger.Debug("subscriber attached", zap.String("job_id", jobID.String()))
	return &Subscription{jobID: jobID, reader: ch.Subscribe()}, nil
}

// Subscription is one subscriber's live view of a job's progress sequence.
type Subscription struct {
	jobID  uuid.UUID
	reader *progress.Reader
	once   sync.Once
}

// JobID returns the job this subscription observes.
func (s *Subscription) JobID() uuid.UUID {
	return s.jobID
}

// Next blocks until the next event, end-of-stream (ErrEnded), or ctx
// cancellation (the subscriber disconnected).
func (s *Subscription) Next(ctx context.Context) (progress.Event, error) {
	evt, err := s.reader.Next(ctx)
	if err != nil {
		if errors.Is(err, progress.ErrClosed) {
			return progress.Event{}, ErrEnded
		}
		return progress.Event{}, err
	}
	return evt, nil
}

// Close detaches the subscription so it stops counting against the producer's
// capacity accounting. Idempotent and required on every Attach.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.reader.Cancel()
		metrics.DecActiveSubscribers()
	})
}
