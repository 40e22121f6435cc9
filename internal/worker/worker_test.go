package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskwire/jobstream/internal/clock/system"
	idgen "github.com/taskwire/jobstream/internal/id/uuid"
	"github.com/taskwire/jobstream/internal/metrics"
	"github.com/taskwire/jobstream/internal/publisher"
	"github.com/taskwire/jobstream/internal/registry"
	"github.com/taskwire/jobstream/internal/stream"
)

func init() {
	metrics.Init()
}

func newFixture(t *testing.T) (*Runner, *registry.Registry, *stream.Dispatcher, registry.Job) {
	t.Helper()
	reg := registry.New(registry.Config{ChannelCapacity: 16}, idgen.NewUUIDGenerator(), system.New(), nil)
	pub := publisher.New(reg, system.New(), nil)
	runner := NewRunner(pub, nil)
	job, err := reg.CreateJob()
	require.NoError(t, err)
	return runner, reg, stream.New(reg, nil), job
}

// TestValidatePlan walks the plan validation rules.
func TestValidatePlan(t *testing.T) {
	t.Parallel()

	valid := []Step{
		{Label: "Separando documentos", Percent: 10},
		{Label: "Validando", Percent: 35},
		{Label: "Finalizando", Percent: 100},
	}
	require.NoError(t, ValidatePlan(valid))

	require.Error(t, ValidatePlan(nil))
	require.Error(t, ValidatePlan([]Step{{Label: "", Percent: 100}}))
	require.Error(t, ValidatePlan([]Step{{Label: "a", Percent: 101}}))
	require.Error(t, ValidatePlan([]Step{
		{Label: "a", Percent: 50},
		{Label: "b", Percent: 40},
		{Label: "c", Percent: 100},
	}))
	require.Error(t, ValidatePlan([]Step{{Label: "a", Percent: 90}}))
	require.Error(t, ValidatePlan([]Step{{Label: "a", Percent: 100, DurationMs: -1}}))
}

// TestRunnerCompletesPlan runs a plan to completion and checks the subscriber
// view and the registry state.
func TestRunnerCompletesPlan(t *testing.T) {
	t.Parallel()

	runner, reg, disp, job := newFixture(t)
	sub, err := disp.Attach(job.ID)
	require.NoError(t, err)
	defer sub.Close()

	plan := []Step{
		{Label: "Separando documentos", Percent: 10},
		{Label: "Validando", Percent: 35},
		{Label: "Convertendo", Percent: 65},
		{Label: "Finalizando", Percent: 100},
	}
	go runner.Run(context.Background(), job.ID, plan)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, st := range plan {
		evt, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(i), evt.Seq)
		require.Equal(t, st.Label, evt.Step)
		require.Equal(t, st.Percent, evt.Percent)
	}
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, stream.ErrEnded)

	got, err := reg.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StateCompleted, got.State)
}

// TestRunnerCancellationFailsJob verifies a canceled worker reports a
// terminal failure instead of leaving subscribers hanging.
func TestRunnerCancellationFailsJob(t *testing.T) {
	t.Parallel()

	runner, reg, disp, job := newFixture(t)
	sub, err := disp.Attach(job.ID)
	require.NoError(t, err)
	defer sub.Close()

	plan := []Step{
		{Label: "Separando documentos", Percent: 10},
		{Label: "Validando", Percent: 35, DurationMs: 60000},
		{Label: "Finalizando", Percent: 100},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx, job.ID, plan)
	}()

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	evt, err := sub.Next(readCtx)
	require.NoError(t, err)
	require.Equal(t, "Separando documentos", evt.Step)

	cancel()
	evt, err = sub.Next(readCtx)
	require.NoError(t, err)
	require.NotEmpty(t, evt.Err)
	require.True(t, evt.Terminal())
	_, err = sub.Next(readCtx)
	require.ErrorIs(t, err, stream.ErrEnded)

	<-done
	got, err := reg.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StateFailed, got.State)
}

// TestStepDuration converts the configured milliseconds.
func TestStepDuration(t *testing.T) {
	t.Parallel()

	require.Equal(t, 250*time.Millisecond, Step{DurationMs: 250}.Duration())
	require.Equal(t, time.Duration(0), Step{}.Duration())
}
