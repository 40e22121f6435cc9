// Package worker executes scripted step plans against the progress publisher.
// It stands in for whatever long-running process is being tracked: each step
// waits its configured duration, then reports its label and cumulative
// percentage. Cancellation fails the job so subscribers terminate cleanly
// instead of hanging.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/publisher"
)

// Step is one stage of a scripted plan.
type Step struct {
	Label      string `mapstructure:"step" json:"step"`
	Percent    int    `mapstructure:"percent" json:"percent"`
	DurationMs int    `mapstructure:"duration_ms" json:"duration_ms"`
}

// Duration returns the step's simulated execution time.
func (s Step) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// ValidatePlan checks a plan is executable: non-empty, labeled, percentages
// in range and non-decreasing, ending at 100.
func ValidatePlan(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("plan requires at least one step")
	}
	last := 0
	for i, st := range steps {
		if st.Label == "" {
			return fmt.Errorf("step %d: label is required", i)
		}
		if st.Percent < 0 || st.Percent > 100 {
			return fmt.Errorf("step %d: percent %d out of range", i, st.Percent)
		}
		if st.Percent < last {
			return fmt.Errorf("step %d: percent %d regresses below %d", i, st.Percent, last)
		}
		if st.DurationMs < 0 {
			return fmt.Errorf("step %d: duration must be >= 0", i)
		}
		last = st.Percent
	}
	if last != 100 {
		return fmt.Errorf("plan must end at 100, got %d", last)
	}
	return nil
}

// Runner executes plans one job at a time; callers run it in its own
// goroutine per job.
type Runner struct {
	pub    *publisher.Publisher
	logger *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(pub *publisher.Publisher, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pub: pub, logger: logger}
}

// Run executes the plan for jobID, blocking until the job reaches a terminal
// state. The final step's 100 completes the job through the publisher; any
// error or ctx cancellation fails it instead.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID, steps []Step) {
	if err := r.pub.Start(jobID); err != nil {
		r.logger.Error("worker start failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
		return
	}
	for _, st := range steps {
		if d := st.Duration(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				r.fail(jobID, fmt.Sprintf("worker canceled: %v", ctx.Err()))
				return
			}
		}
		if err := r.pub.Emit(ctx, jobID, st.Label, st.Percent); err != nil {
			r.logger.Error("worker emit failed",
				zap.String("job_id", jobID.String()),
				zap.String("step", st.Label),
				zap.Error(err),
			)
			r.fail(jobID, err.Error())
			return
		}
	}
}

// fail reports the terminal failure on a fresh context so a canceled worker
// can still notify its subscribers.
func (r *Runner) fail(jobID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.pub.Fail(ctx, jobID, reason); err != nil {
		r.logger.Error("worker fail report failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}
