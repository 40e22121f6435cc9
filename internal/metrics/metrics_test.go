package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestJobAndEventCollectors exercises the domain counters and gauges.
func TestJobAndEventCollectors(t *testing.T) {
	Init()

	beforeJobs := testutil.ToFloat64(jobsTotal.WithLabelValues("completed"))
	ObserveJob("completed")
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("completed")) - beforeJobs; got != 1 {
		t.Fatalf("expected jobsTotal to grow by 1, got %f", got)
	}

	beforeEvents := testutil.ToFloat64(eventsPublishedTotal)
	ObserveEventPublished()
	if got := testutil.ToFloat64(eventsPublishedTotal) - beforeEvents; got != 1 {
		t.Fatalf("expected eventsPublishedTotal to grow by 1, got %f", got)
	}

	SetActiveJobs(7)
	if got := testutil.ToFloat64(activeJobs); got != 7 {
		t.Fatalf("expected activeJobs gauge 7, got %f", got)
	}

	base := testutil.ToFloat64(activeSubscribers)
	IncActiveSubscribers()
	IncActiveSubscribers()
	DecActiveSubscribers()
	if got := testutil.ToFloat64(activeSubscribers) - base; got != 1 {
		t.Fatalf("expected activeSubscribers delta 1, got %f", got)
	}
}

// TestInitIdempotent confirms repeated Init calls do not re-register.
func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
}
