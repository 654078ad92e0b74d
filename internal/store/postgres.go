package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/db"
	"github.com/lumenlead/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	pgxPool *pgxpool.Pool // nil under pgxmock; enables session advisory locks
	locks   *keyedMutex
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hottest store operations, the worker claim loop above all.
var preparedStatements = map[string]string{
	"claim_job": `UPDATE jobs SET state = 'active', attempts = attempts + 1, started_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE family = $1 AND state IN ('waiting', 'delayed') AND next_run_at <= now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at, started_at, finished_at`,
	"get_job": `SELECT id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at, started_at, finished_at
		FROM jobs WHERE id = $1`,
	"complete_job":   `UPDATE jobs SET state = 'completed', finished_at = now() WHERE id = $1`,
	"get_prospect":   `SELECT id, email, first_name, last_name, company, title, profile_url, attributes, status, status_error, created_at, updated_at FROM prospects WHERE id = $1`,
	"get_enrichment": `SELECT prospect_id, profile_summary, company_summary, tech_stack_summary, combined_analysis, outreach_message, status, provider, model, last_enriched_at FROM enrichment_records WHERE prospect_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{
		pool:    pool,
		pgxPool: pool,
		locks:   newKeyedMutex(),
		closeFn: pool.Close,
	}, nil
}

// NewPostgresWithPool wraps an existing pool-compatible handle. Used by tests
// with pgxmock; advisory locks degrade to in-process locking.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, locks: newKeyedMutex()}
}

// Pool returns the underlying database pool for bulk helpers.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	profile_url  TEXT NOT NULL DEFAULT '',
	attributes   JSONB,
	status       TEXT NOT NULL DEFAULT 'pending',
	status_error TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prospects_status ON prospects(status);
CREATE INDEX IF NOT EXISTS idx_prospects_company ON prospects(company);

CREATE TABLE IF NOT EXISTS enrichment_records (
	prospect_id        TEXT PRIMARY KEY REFERENCES prospects(id),
	profile_summary    TEXT,
	company_summary    TEXT,
	tech_stack_summary TEXT,
	combined_analysis  TEXT,
	outreach_message   TEXT,
	status             TEXT NOT NULL DEFAULT 'PENDING',
	provider           TEXT NOT NULL DEFAULT '',
	model              TEXT NOT NULL DEFAULT '',
	last_enriched_at   TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	family       TEXT NOT NULL,
	payload      JSONB NOT NULL,
	state        TEXT NOT NULL DEFAULT 'waiting',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error   TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	next_run_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(family, state, next_run_at, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// prospectColumns is the column order used for bulk upserts.
var prospectColumns = []string{
	"id", "email", "first_name", "last_name", "company", "title",
	"profile_url", "attributes", "status", "status_error", "created_at", "updated_at",
}

func (s *PostgresStore) CreateProspects(ctx context.Context, prospects []model.Prospect) (int64, error) {
	rows := make([][]any, 0, len(prospects))
	now := time.Now().UTC()
	for i := range prospects {
		p := &prospects[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.Status == "" {
			p.Status = model.ProspectStatusPending
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now

		attrs, err := json.Marshal(p.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal attributes for %s", p.Email)
		}
		rows = append(rows, []any{
			p.ID, p.Email, p.FirstName, p.LastName, p.Company, p.Title,
			p.ProfileURL, attrs, string(p.Status), p.StatusError, p.CreatedAt, p.UpdatedAt,
		})
	}

	// Re-imported prospects refresh contact fields but keep their id,
	// status and enrichment history.
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "prospects",
		Columns:      prospectColumns,
		ConflictKeys: []string{"email"},
		UpdateCols: []string{
			"first_name", "last_name", "company", "title",
			"profile_url", "attributes", "updated_at",
		},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: create prospects")
	}
	return n, nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, company, title, profile_url, attributes, status, status_error, created_at, updated_at
		 FROM prospects WHERE id = $1`, id)
	p, err := scanProspect(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT id, email, first_name, last_name, company, title, profile_url, attributes, status, status_error, created_at, updated_at FROM prospects WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Company != "" {
		query += fmt.Sprintf(` AND company = $%d`, argIdx)
		args = append(args, filter.Company)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list prospects")
}

func (s *PostgresStore) UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus, statusErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET status = $1, status_error = $2, updated_at = now() WHERE id = $3`,
		string(status), statusErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update prospect status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, prospectID string) (*model.EnrichmentRecord, error) {
	var r model.EnrichmentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT prospect_id, profile_summary, company_summary, tech_stack_summary, combined_analysis, outreach_message, status, provider, model, last_enriched_at
		 FROM enrichment_records WHERE prospect_id = $1`, prospectID,
	).Scan(&r.ProspectID, &r.ProfileSummary, &r.CompanySummary, &r.TechStackSummary,
		&r.CombinedAnalysis, &r.OutreachMessage, &r.Status, &r.Provider, &r.Model, &r.LastEnrichedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.EnrichmentRecord{ProspectID: prospectID, Status: model.EnrichmentStatusPending}, nil
		}
		return nil, eris.Wrapf(err, "postgres: get enrichment %s", prospectID)
	}
	return &r, nil
}

func (s *PostgresStore) SetEnrichmentField(ctx context.Context, prospectID string, stage model.Stage, value, provider, modelID string) error {
	col, ok := stageColumns[stage]
	if !ok {
		return eris.Errorf("postgres: unknown enrichment stage %q", stage)
	}

	query := fmt.Sprintf(`INSERT INTO enrichment_records (prospect_id, %s, status, provider, model, last_enriched_at, updated_at)
		VALUES ($1, $2, 'PARTIAL', $3, $4, now(), now())
		ON CONFLICT (prospect_id) DO UPDATE SET
			%s = EXCLUDED.%s,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			last_enriched_at = now(),
			updated_at = now()`, col, col, col)

	_, err := s.pool.Exec(ctx, query, prospectID, value, provider, modelID)
	return eris.Wrapf(err, "postgres: set %s for %s", col, prospectID)
}

func (s *PostgresStore) SetOutreachMessage(ctx context.Context, prospectID, message, provider, modelID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_records (prospect_id, outreach_message, status, provider, model, last_enriched_at, updated_at)
		 VALUES ($1, $2, 'PARTIAL', $3, $4, now(), now())
		 ON CONFLICT (prospect_id) DO UPDATE SET
			outreach_message = EXCLUDED.outreach_message,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			last_enriched_at = now(),
			updated_at = now()`,
		prospectID, message, provider, modelID,
	)
	return eris.Wrapf(err, "postgres: set outreach message for %s", prospectID)
}

func (s *PostgresStore) SetEnrichmentStatus(ctx context.Context, prospectID string, status model.EnrichmentStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_records (prospect_id, status, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (prospect_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		prospectID, string(status),
	)
	return eris.Wrapf(err, "postgres: set enrichment status for %s", prospectID)
}

func (s *PostgresStore) InsertJob(ctx context.Context, job *model.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, string(job.Family), []byte(job.Payload), string(job.State),
		job.Attempts, job.MaxAttempts, job.LastError, job.UserID, job.NextRunAt, job.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at, started_at, finished_at
		 FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, family model.JobFamily) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET state = 'active', attempts = attempts + 1, started_at = now()
		 WHERE id = (
			SELECT id FROM jobs
			WHERE family = $1 AND state IN ('waiting', 'delayed') AND next_run_at <= now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at, started_at, finished_at`,
		string(family))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: claim job for %s", family)
	}
	return job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = 'completed', finished_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, errMsg string, retryAt *time.Time) error {
	var tag pgconn.CommandTag
	var err error
	if retryAt != nil {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET state = 'delayed', last_error = $1, next_run_at = $2 WHERE id = $3`,
			errMsg, *retryAt, id)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET state = 'failed', last_error = $1, finished_at = now() WHERE id = $2`,
			errMsg, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountJobsByState(ctx context.Context, family model.JobFamily) (map[model.JobState]int, error) {
	query := `SELECT state, count(*) FROM jobs`
	args := []any{}
	if family != "" {
		query += ` WHERE family = $1`
		args = append(args, string(family))
	}
	query += ` GROUP BY state`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		counts[model.JobState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count jobs")
}

func (s *PostgresStore) PurgeJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE (state = 'completed' AND finished_at < $1)
			OR (state = 'failed' AND finished_at < $2)`,
		completedBefore, failedBefore)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge jobs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) TrimJobs(ctx context.Context, state model.JobState, keep int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE state = $1 AND id NOT IN (
			SELECT id FROM jobs WHERE state = $1
			ORDER BY finished_at DESC NULLS LAST LIMIT $2
		 )`,
		string(state), keep)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: trim jobs")
	}
	return tag.RowsAffected(), nil
}

// TryLockProspect takes a session-scoped advisory lock on a dedicated
// connection, so the lock survives for the life of the enrichment run and is
// released on the same session. Falls back to in-process locking when no
// dedicated connection source exists (pgxmock).
func (s *PostgresStore) TryLockProspect(ctx context.Context, prospectID string) (UnlockFunc, bool, error) {
	if s.pgxPool == nil {
		unlock, ok := s.locks.tryLock(prospectID)
		return unlock, ok, nil
	}

	conn, err := s.pgxPool.Acquire(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: acquire lock connection")
	}

	key := lockKey(prospectID)
	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Release()
		return nil, false, eris.Wrapf(err, "postgres: try advisory lock for %s", prospectID)
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
		return eris.Wrapf(err, "postgres: advisory unlock for %s", prospectID)
	}
	return unlock, true, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProspect(row rowScanner) (*model.Prospect, error) {
	var p model.Prospect
	var attrs []byte
	if err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Company, &p.Title,
		&p.ProfileURL, &attrs, &p.Status, &p.StatusError, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, eris.Wrap(err, "unmarshal attributes")
		}
	}
	return &p, nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var payload []byte
	if err := row.Scan(&j.ID, &j.Family, &payload, &j.State, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.UserID, &j.NextRunAt, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return &j, nil
}
