// Package store provides persistence for prospects, enrichment records and
// the durable job queue, with PostgreSQL and SQLite backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ProspectFilter specifies criteria for listing prospects.
type ProspectFilter struct {
	Status  model.ProspectStatus `json:"status,omitempty"`
	Company string               `json:"company,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
	Offset  int                  `json:"offset,omitempty"`
}

// UnlockFunc releases a per-prospect lock.
type UnlockFunc func(ctx context.Context) error

// Store defines the persistence interface shared by both backends.
type Store interface {
	// Prospects
	CreateProspects(ctx context.Context, prospects []model.Prospect) (int64, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error)
	UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus, statusErr string) error

	// Enrichment records. GetEnrichment returns an empty PENDING record when
	// no row exists yet; SetEnrichmentField upserts one summary column.
	GetEnrichment(ctx context.Context, prospectID string) (*model.EnrichmentRecord, error)
	SetEnrichmentField(ctx context.Context, prospectID string, stage model.Stage, value, provider, modelID string) error
	SetOutreachMessage(ctx context.Context, prospectID, message, provider, modelID string) error
	SetEnrichmentStatus(ctx context.Context, prospectID string, status model.EnrichmentStatus) error

	// Jobs
	InsertJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ClaimJob atomically moves the oldest runnable job of the family to
	// active and increments its attempt counter. Returns (nil, nil) when no
	// job is runnable.
	ClaimJob(ctx context.Context, family model.JobFamily) (*model.Job, error)
	CompleteJob(ctx context.Context, id string) error
	// FailJob records the error. With a non-nil retryAt the job is delayed
	// for another attempt; otherwise it is terminally failed.
	FailJob(ctx context.Context, id, errMsg string, retryAt *time.Time) error
	CountJobsByState(ctx context.Context, family model.JobFamily) (map[model.JobState]int, error)
	// PurgeJobs deletes completed jobs finished before completedBefore and
	// failed jobs finished before failedBefore.
	PurgeJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
	// TrimJobs deletes the oldest jobs in a finished state beyond the newest
	// keep rows.
	TrimJobs(ctx context.Context, state model.JobState, keep int) (int64, error)

	// TryLockProspect takes an advisory lock so two workers never enrich the
	// same prospect concurrently. Returns ok=false without error when the
	// lock is already held.
	TryLockProspect(ctx context.Context, prospectID string) (unlock UnlockFunc, ok bool, err error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// stageColumns maps enrichment stages to their record columns. Serves as a
// whitelist when building upsert SQL.
var stageColumns = map[model.Stage]string{
	model.StageProfile:   "profile_summary",
	model.StageCompany:   "company_summary",
	model.StageTechStack: "tech_stack_summary",
	model.StageAnalysis:  "combined_analysis",
}
