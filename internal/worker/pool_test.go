package worker

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/queue"
	"github.com/lumenlead/prospector/internal/resilience"
	"github.com/lumenlead/prospector/internal/store"
)

func newTestQueue(t *testing.T, cfg config.QueueConfig) *queue.Queue {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return queue.New(st, cfg)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPoolProcessesJobs(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	var jobs []*model.Job
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	var processed, completed atomic.Int64
	pool := NewPool(PoolConfig{
		Family: model.JobFamilyEnrichProspect,
		Queue:  q,
		Processor: func(ctx context.Context, job *model.Job, report ProgressReporter) error {
			processed.Add(1)
			return nil
		},
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		Hooks: Hooks{
			OnCompleted: func(job *model.Job) { completed.Add(1) },
		},
	})
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool { return completed.Load() == 3 }, "jobs not completed")
	assert.Equal(t, int64(3), processed.Load())

	for _, job := range jobs {
		got, err := q.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateCompleted, got.State)
	}
}

func TestPoolRetriesFailedJob(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{BackoffMs: 1})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)

	var attempts atomic.Int64
	var failures atomic.Int64
	pool := NewPool(PoolConfig{
		Family: model.JobFamilyEnrichProspect,
		Queue:  q,
		Processor: func(ctx context.Context, j *model.Job, report ProgressReporter) error {
			if attempts.Add(1) == 1 {
				return resilience.NewTransientError(assert.AnError, 503)
			}
			return nil
		},
		PollInterval: 5 * time.Millisecond,
		Hooks: Hooks{
			OnFailed: func(job *model.Job, err error) { failures.Add(1) },
		},
	})
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool {
		got, err := q.Get(ctx, job.ID)
		return err == nil && got.State == model.JobStateCompleted
	}, "job never completed after retry")

	assert.Equal(t, int64(2), attempts.Load())
	assert.Equal(t, int64(1), failures.Load())
}

func TestPoolTerminalFailure(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)

	pool := NewPool(PoolConfig{
		Family: model.JobFamilyEnrichProspect,
		Queue:  q,
		Processor: func(ctx context.Context, j *model.Job, report ProgressReporter) error {
			return queue.Terminal(assert.AnError)
		},
		PollInterval: 5 * time.Millisecond,
	})
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool {
		got, err := q.Get(ctx, job.ID)
		return err == nil && got.State == model.JobStateFailed
	}, "job never failed")

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestPoolPauseAndResume(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	var completed atomic.Int64
	pool := NewPool(PoolConfig{
		Family: model.JobFamilyEnrichProspect,
		Queue:  q,
		Processor: func(ctx context.Context, j *model.Job, report ProgressReporter) error {
			return nil
		},
		PollInterval: 5 * time.Millisecond,
		Hooks: Hooks{
			OnCompleted: func(job *model.Job) { completed.Add(1) },
		},
	})
	pool.Start(ctx)
	defer pool.Stop()

	pool.Pause()
	assert.True(t, pool.Paused())

	job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateWaiting, got.State, "paused pool must not claim")

	pool.Resume()
	assert.False(t, pool.Paused())
	waitFor(t, func() bool { return completed.Load() == 1 }, "job not processed after resume")
}

func TestPoolConcurrencyCap(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
		require.NoError(t, err)
	}

	release := make(chan struct{})
	pool := NewPool(PoolConfig{
		Family: model.JobFamilyEnrichProspect,
		Queue:  q,
		Processor: func(ctx context.Context, j *model.Job, report ProgressReporter) error {
			<-release
			return nil
		},
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
	})
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool { return pool.Active() == 2 }, "pool never reached its cap")
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, 2, pool.Active(), "cap exceeded")

	close(release)
	waitFor(t, func() bool { return pool.Active() == 0 }, "jobs never drained")
}

func TestPoolStartIsIdempotent(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{})
	pool := NewPool(PoolConfig{
		Family:       model.JobFamilyEnrichProspect,
		Queue:        q,
		Processor:    func(context.Context, *model.Job, ProgressReporter) error { return nil },
		PollInterval: 5 * time.Millisecond,
	})

	ctx := context.Background()
	pool.Start(ctx)
	pool.Start(ctx)
	assert.True(t, pool.Running())
	pool.Stop()
	pool.Stop()
	assert.False(t, pool.Running())
}
