package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/resilience"
	"github.com/lumenlead/prospector/internal/store"
)

func newTestQueue(t *testing.T, cfg config.QueueConfig) (*Queue, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, cfg), st
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateWaiting, job.State)
	assert.Equal(t, defaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, "user-1", job.UserID)

	claimed, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobStateActive, claimed.State)
	assert.Equal(t, 1, claimed.Attempts)

	payload, err := model.DecodePayload(claimed.Family, claimed.Payload)
	require.NoError(t, err)
	assert.Equal(t, "p1", payload.(*model.EnrichProspectPayload).ProspectID)

	require.NoError(t, q.Complete(ctx, claimed))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)
}

func TestEnqueue_InvalidPayloadRejected(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{})
	_, err := q.Enqueue(context.Background(), &model.EnrichProspectPayload{}, "")
	require.Error(t, err)

	// Nothing was inserted.
	counts, statErr := q.Stats(context.Background(), model.JobFamilyEnrichProspect)
	require.NoError(t, statErr)
	assert.Equal(t, 0, counts[model.JobStateWaiting])
}

func TestClaim_EmptyFamily(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{})
	job, err := q.Claim(context.Background(), model.JobFamilyImportRecords)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFail_RetryableDelaysJob(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{BackoffMs: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)

	cause := resilience.NewTransientError(assert.AnError, 503)
	require.NoError(t, q.Fail(ctx, claimed, cause))

	got, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDelayed, got.State)
	assert.Contains(t, got.LastError, assert.AnError.Error())

	// Reclaimable once the backoff elapses.
	time.Sleep(5 * time.Millisecond)
	again, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, claimed.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestFail_AuthErrorIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, claimed, resilience.NewAuthError(assert.AnError, 401)))

	got, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
}

func TestFail_TerminalMarker(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, claimed, Terminal(assert.AnError)))

	got, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
}

func TestFail_ShutdownCancellationRequeuesJob(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{BackoffMs: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &model.EnrichBatchPayload{ProspectIDs: []string{"p1", "p2"}}, "")
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, model.JobFamilyEnrichBatch)
	require.NoError(t, err)
	require.Equal(t, 1, claimed.Attempts)

	// A worker interrupted mid-run settles with the run context's error.
	// The job must come back, not fail for good with budget remaining.
	require.NoError(t, q.Fail(ctx, claimed, context.Canceled))

	got, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDelayed, got.State)

	time.Sleep(5 * time.Millisecond)
	again, err := q.Claim(ctx, model.JobFamilyEnrichBatch)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, claimed.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestFail_WrappedDeadlineRequeuesJob(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{BackoffMs: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)

	cause := eris.Wrap(context.DeadlineExceeded, "enrich: run interrupted")
	require.NoError(t, q.Fail(ctx, claimed, cause))

	got, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDelayed, got.State)
}

func TestFail_AttemptBudgetExhausted(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{MaxAttempts: 2, BackoffMs: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
	require.NoError(t, err)

	cause := resilience.NewTransientError(assert.AnError, 503)

	claimed, err := q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, claimed, cause))

	time.Sleep(5 * time.Millisecond)
	claimed, err = q.Claim(ctx, model.JobFamilyEnrichProspect)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 2, claimed.Attempts)
	require.NoError(t, q.Fail(ctx, claimed, cause))

	got, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
}

func TestBackoffCapped(t *testing.T) {
	q := New(nil, config.QueueConfig{BackoffMs: 1000})
	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, maxBackoff, q.backoff(30))
}

func TestPurgeExpiredTrimsFinishedJobs(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{KeepCompleted: 2, KeepFailed: 1})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
	}
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(ctx, &model.EnrichProspectPayload{ProspectID: "p1"}, "")
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, job, Terminal(assert.AnError)))
	}

	n, err := q.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	counts, err := q.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.JobStateCompleted])
	assert.Equal(t, 1, counts[model.JobStateFailed])
}
