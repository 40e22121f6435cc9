package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/taskwire/jobstream/internal/clock/system"
	idgen "github.com/taskwire/jobstream/internal/id/uuid"
	"github.com/taskwire/jobstream/internal/metrics"
	"github.com/taskwire/jobstream/internal/progress"
	"github.com/taskwire/jobstream/internal/registry"
)

func init() {
	metrics.Init()
}

func newFixture(t *testing.T) (*Publisher, *registry.Registry, registry.Job) {
	t.Helper()
	reg := registry.New(registry.Config{ChannelCapacity: 16}, idgen.NewUUIDGenerator(), system.New(), nil)
	pub := New(reg, system.New(), nil)
	job, err := reg.CreateJob()
	require.NoError(t, err)
	return pub, reg, job
}

func ctxShort(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestEmitUnknownJob verifies the publisher maps registry misses onto
// ErrUnknownJob.
func TestEmitUnknownJob(t *testing.T) {
	t.Parallel()

	pub, _, _ := newFixture(t)
	err := pub.Emit(ctxShort(t), uuid.New(), "step", 10)
	require.ErrorIs(t, err, ErrUnknownJob)

	err = pub.Fail(ctxShort(t), uuid.New(), "boom")
	require.ErrorIs(t, err, ErrUnknownJob)
}

// TestEmitBeforeStart rejects events for pending jobs.
func TestEmitBeforeStart(t *testing.T) {
	t.Parallel()

	pub, _, job := newFixture(t)
	err := pub.Emit(ctxShort(t), job.ID, "step", 10)
	require.ErrorIs(t, err, ErrJobNotRunning)
}

// TestEmitRegressiveProgress rejects values below the last published one.
func TestEmitRegressiveProgress(t *testing.T) {
	t.Parallel()

	pub, _, job := newFixture(t)
	require.NoError(t, pub.Start(job.ID))
	require.NoError(t, pub.Emit(ctxShort(t), job.ID, "half", 50))

	err := pub.Emit(ctxShort(t), job.ID, "back", 40)
	require.ErrorIs(t, err, ErrRegressiveProgress)

	// equal values are allowed: progress is non-decreasing, not strict
	require.NoError(t, pub.Emit(ctxShort(t), job.ID, "still half", 50))
}

// TestEmitHundredCompletesJob covers the auto-complete path: state moves to
// completed and the channel closes so subscribers see end-of-stream.
func TestEmitHundredCompletesJob(t *testing.T) {
	t.Parallel()

	pub, reg, job := newFixture(t)
	ch, err := reg.GetChannel(job.ID)
	require.NoError(t, err)
	reader := ch.Subscribe()

	require.NoError(t, pub.Start(job.ID))
	require.NoError(t, pub.Emit(ctxShort(t), job.ID, "working", 30))
	require.NoError(t, pub.Emit(ctxShort(t), job.ID, "done", 100))

	got, err := reg.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StateCompleted, got.State)
	require.True(t, ch.Closed())

	evt, err := reader.Next(ctxShort(t))
	require.NoError(t, err)
	require.Equal(t, "working", evt.Step)
	evt, err = reader.Next(ctxShort(t))
	require.NoError(t, err)
	require.Equal(t, 100, evt.Percent)
	require.True(t, evt.Terminal())
	_, err = reader.Next(ctxShort(t))
	require.ErrorIs(t, err, progress.ErrClosed)

	// further emits are rejected: the job is no longer running
	err = pub.Emit(ctxShort(t), job.ID, "late", 100)
	require.ErrorIs(t, err, ErrJobNotRunning)
}

// TestFailEmitsTerminalEvent covers the failure path: the terminal event
// carries the reason and the last observed percent, the job ends failed.
func TestFailEmitsTerminalEvent(t *testing.T) {
	t.Parallel()

	pub, reg, job := newFixture(t)
	ch, err := reg.GetChannel(job.ID)
	require.NoError(t, err)
	reader := ch.Subscribe()

	require.NoError(t, pub.Start(job.ID))
	require.NoError(t, pub.Emit(ctxShort(t), job.ID, "converting", 65))
	require.NoError(t, pub.Fail(ctxShort(t), job.ID, "corrupt input"))

	got, err := reg.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StateFailed, got.State)
	require.Equal(t, "corrupt input", got.ErrorText)
	require.True(t, ch.Closed())

	_, err = reader.Next(ctxShort(t))
	require.NoError(t, err)
	evt, err := reader.Next(ctxShort(t))
	require.NoError(t, err)
	require.Equal(t, "corrupt input", evt.Err)
	require.Equal(t, 65, evt.Percent)
	require.True(t, evt.Terminal())
	_, err = reader.Next(ctxShort(t))
	require.ErrorIs(t, err, progress.ErrClosed)

	err = pub.Fail(ctxShort(t), job.ID, "again")
	require.ErrorIs(t, err, ErrJobNotRunning)
}

// TestFailTerminatesWhenChannelFull covers a worker failing while the
// channel's holding buffer is full and no subscriber is draining it: the
// terminal event may be dropped, but the job still ends failed and the
// channel still closes so a later subscriber observes end-of-stream.
func TestFailTerminatesWhenChannelFull(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.Config{ChannelCapacity: 1}, idgen.NewUUIDGenerator(), system.New(), nil)
	pub := New(reg, system.New(), nil)
	job, err := reg.CreateJob()
	require.NoError(t, err)

	require.NoError(t, pub.Start(job.ID))
	// With no subscriber attached this fills the holding buffer.
	require.NoError(t, pub.Emit(ctxShort(t), job.ID, "working", 10))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, pub.Fail(ctx, job.ID, "worker canceled"))

	got, err := reg.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StateFailed, got.State)
	require.Equal(t, "worker canceled", got.ErrorText)

	ch, err := reg.GetChannel(job.ID)
	require.NoError(t, err)
	require.True(t, ch.Closed())

	reader := ch.Subscribe()
	evt, err := reader.Next(ctxShort(t))
	require.NoError(t, err)
	require.Equal(t, "working", evt.Step)
	_, err = reader.Next(ctxShort(t))
	require.ErrorIs(t, err, progress.ErrClosed)
}

// TestEmitSequenceNumbers confirms seq assignment survives the publisher
// round trip.
func TestEmitSequenceNumbers(t *testing.T) {
	t.Parallel()

	pub, reg, job := newFixture(t)
	ch, err := reg.GetChannel(job.ID)
	require.NoError(t, err)
	reader := ch.Subscribe()

	require.NoError(t, pub.Start(job.ID))
	steps := []struct {
		label   string
		percent int
	}{
		{"Separando documentos", 10},
		{"Validando", 35},
		{"Convertendo", 65},
		{"Finalizando", 100},
	}
	for _, st := range steps {
		require.NoError(t, pub.Emit(ctxShort(t), job.ID, st.label, st.percent))
	}

	for i, st := range steps {
		evt, err := reader.Next(ctxShort(t))
		require.NoError(t, err)
		require.Equal(t, uint64(i), evt.Seq)
		require.Equal(t, st.label, evt.Step)
		require.Equal(t, st.percent, evt.Percent)
	}
	_, err = reader.Next(ctxShort(t))
	require.ErrorIs(t, err, progress.ErrClosed)
}
