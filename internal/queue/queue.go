// Package queue is a durable named job queue over the store: typed payloads
// validated at enqueue, claim-based dequeue, retry with exponential backoff,
// and retention of finished jobs.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/resilience"
	"github.com/lumenlead/prospector/internal/store"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 5 * time.Second
	maxBackoff         = 10 * time.Minute

	// Retention windows for PurgeExpired. Finished jobs older than these are
	// deleted regardless of the keep counts.
	completedRetention = time.Hour
	failedRetention    = 24 * time.Hour

	defaultKeepCompleted = 100
	defaultKeepFailed    = 500
)

// terminalError marks a job failure that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so Fail moves the job straight to failed instead of
// scheduling another attempt.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err carries a Terminal marker.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Queue enqueues, claims and settles jobs for all families.
type Queue struct {
	store store.Store
	cfg   config.QueueConfig
}

// New creates a Queue over the store.
func New(st store.Store, cfg config.QueueConfig) *Queue {
	return &Queue{store: st, cfg: cfg}
}

// Enqueue validates the payload and inserts a waiting job. The returned job
// carries the generated id for progress tracking.
func (q *Queue) Enqueue(ctx context.Context, payload model.Payload, userID string) (*model.Job, error) {
	raw, err := model.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	maxAttempts := q.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.New().String(),
		Family:      payload.Family(),
		Payload:     raw,
		State:       model.JobStateWaiting,
		MaxAttempts: maxAttempts,
		UserID:      userID,
		NextRunAt:   now,
		CreatedAt:   now,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return nil, eris.Wrapf(err, "queue: enqueue %s", job.Family)
	}

	zap.L().Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("family", string(job.Family)),
	)
	return job, nil
}

// Claim dequeues the oldest runnable job of the family, or (nil, nil) when
// none is due.
func (q *Queue) Claim(ctx context.Context, family model.JobFamily) (*model.Job, error) {
	return q.store.ClaimJob(ctx, family)
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*model.Job, error) {
	return q.store.GetJob(ctx, id)
}

// Complete marks the job done.
func (q *Queue) Complete(ctx context.Context, job *model.Job) error {
	return q.store.CompleteJob(ctx, job.ID)
}

// Fail settles a failed attempt. Retryable errors within the attempt budget
// delay the job with exponential backoff; terminal errors and exhausted
// budgets fail it for good.
func (q *Queue) Fail(ctx context.Context, job *model.Job, cause error) error {
	// A cancelled or deadline-hit run says nothing about the job itself;
	// shutdown interruptions requeue so the work survives a restart.
	interrupted := errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	retryable := !IsTerminal(cause) && (interrupted || resilience.IsRetryable(cause))

	if !retryable || job.Attempts >= job.MaxAttempts {
		zap.L().Warn("job failed terminally",
			zap.String("job_id", job.ID),
			zap.String("family", string(job.Family)),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause),
		)
		return q.store.FailJob(ctx, job.ID, cause.Error(), nil)
	}

	delay := q.backoff(job.Attempts)
	retryAt := time.Now().UTC().Add(delay)
	zap.L().Info("job delayed for retry",
		zap.String("job_id", job.ID),
		zap.String("family", string(job.Family)),
		zap.Int("attempts", job.Attempts),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return q.store.FailJob(ctx, job.ID, cause.Error(), &retryAt)
}

// backoff doubles per completed attempt, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	base := time.Duration(q.cfg.BackoffMs) * time.Millisecond
	if base <= 0 {
		base = defaultBackoff
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Stats returns job counts by state, for one family or all with "".
func (q *Queue) Stats(ctx context.Context, family model.JobFamily) (map[model.JobState]int, error) {
	return q.store.CountJobsByState(ctx, family)
}

// PurgeExpired enforces retention: age windows first, then bounded counts of
// finished jobs. Returns the number of rows deleted.
func (q *Queue) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	purged, err := q.store.PurgeJobs(ctx, now.Add(-completedRetention), now.Add(-failedRetention))
	if err != nil {
		return 0, err
	}

	keepCompleted := q.cfg.KeepCompleted
	if keepCompleted <= 0 {
		keepCompleted = defaultKeepCompleted
	}
	keepFailed := q.cfg.KeepFailed
	if keepFailed <= 0 {
		keepFailed = defaultKeepFailed
	}

	trimmed, err := q.store.TrimJobs(ctx, model.JobStateCompleted, keepCompleted)
	if err != nil {
		return purged, err
	}
	purged += trimmed
	trimmed, err = q.store.TrimJobs(ctx, model.JobStateFailed, keepFailed)
	if err != nil {
		return purged, err
	}
	return purged + trimmed, nil
}
