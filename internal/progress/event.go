package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event captures a single progress update belonging to one job.
type Event struct {
	// JobID identifies the owning job.
	JobID uuid.UUID
	// Seq is assigned by the channel on publish; strictly increasing per
	// job, starting at 0.
	Seq uint64
	// Step is the human-readable label for the current stage.
	Step string
	// Percent is the cumulative completion value in [0, 100]; it never
	// decreases within a job.
	Percent int
	// Err carries the failure reason on a terminal failure event and is
	// empty otherwise.
	Err string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == uuid.Nil {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Percent < 0 || e.Percent > 100 {
		return fmt.Errorf("percent %d out of range", e.Percent)
	}
	if e.Step == "" && e.Err == "" {
		return errors.New("step label or error is required")
	}
	return nil
}

// Terminal reports whether the event ends its job's stream.
func (e Event) Terminal() bool {
	return e.Err != "" || e.Percent == 100
}
