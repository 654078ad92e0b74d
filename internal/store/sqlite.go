package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lumenlead/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// single-process runs; prospect locking is in-process.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyedMutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, locks: newKeyedMutex()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	profile_url  TEXT NOT NULL DEFAULT '',
	attributes   TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	status_error TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
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
	last_enriched_at   DATETIME,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	family       TEXT NOT NULL,
	payload      TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'waiting',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error   TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	next_run_at  DATETIME NOT NULL,
	created_at   DATETIME NOT NULL,
	started_at   DATETIME,
	finished_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(family, state, next_run_at, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProspects(ctx context.Context, prospects []model.Prospect) (int64, error) {
	if len(prospects) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO prospects (id, email, first_name, last_name, company, title, profile_url, attributes, status, status_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			company = excluded.company,
			title = excluded.title,
			profile_url = excluded.profile_url,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
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
			return 0, eris.Wrapf(err, "sqlite: marshal attributes for %s", p.Email)
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Email, p.FirstName, p.LastName, p.Company, p.Title,
			p.ProfileURL, string(attrs), string(p.Status), p.StatusError, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert prospect %s", p.Email)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, company, title, profile_url, attributes, status, status_error, created_at, updated_at
		 FROM prospects WHERE id = ?`, id)
	p, err := scanSQLiteProspect(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get prospect %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT id, email, first_name, last_name, company, title, profile_url, attributes, status, status_error, created_at, updated_at FROM prospects WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Company != "" {
		query += ` AND company = ?`
		args = append(args, filter.Company)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prospects")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Prospect
	for rows.Next() {
		p, err := scanSQLiteProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list prospects")
}

func (s *SQLiteStore) UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus, statusErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET status = ?, status_error = ?, updated_at = ? WHERE id = ?`,
		string(status), statusErr, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update prospect status %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, prospectID string) (*model.EnrichmentRecord, error) {
	var r model.EnrichmentRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT prospect_id, profile_summary, company_summary, tech_stack_summary, combined_analysis, outreach_message, status, provider, model, last_enriched_at
		 FROM enrichment_records WHERE prospect_id = ?`, prospectID,
	).Scan(&r.ProspectID, &r.ProfileSummary, &r.CompanySummary, &r.TechStackSummary,
		&r.CombinedAnalysis, &r.OutreachMessage, &r.Status, &r.Provider, &r.Model, &r.LastEnrichedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.EnrichmentRecord{ProspectID: prospectID, Status: model.EnrichmentStatusPending}, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get enrichment %s", prospectID)
	}
	return &r, nil
}

func (s *SQLiteStore) SetEnrichmentField(ctx context.Context, prospectID string, stage model.Stage, value, provider, modelID string) error {
	col, ok := stageColumns[stage]
	if !ok {
		return eris.Errorf("sqlite: unknown enrichment stage %q", stage)
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO enrichment_records (prospect_id, %s, status, provider, model, last_enriched_at, updated_at)
		VALUES (?, ?, 'PARTIAL', ?, ?, ?, ?)
		ON CONFLICT (prospect_id) DO UPDATE SET
			%s = excluded.%s,
			provider = excluded.provider,
			model = excluded.model,
			last_enriched_at = excluded.last_enriched_at,
			updated_at = excluded.updated_at`, col, col, col)

	_, err := s.db.ExecContext(ctx, query, prospectID, value, provider, modelID, now, now)
	return eris.Wrapf(err, "sqlite: set %s for %s", col, prospectID)
}

func (s *SQLiteStore) SetOutreachMessage(ctx context.Context, prospectID, message, provider, modelID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_records (prospect_id, outreach_message, status, provider, model, last_enriched_at, updated_at)
		 VALUES (?, ?, 'PARTIAL', ?, ?, ?, ?)
		 ON CONFLICT (prospect_id) DO UPDATE SET
			outreach_message = excluded.outreach_message,
			provider = excluded.provider,
			model = excluded.model,
			last_enriched_at = excluded.last_enriched_at,
			updated_at = excluded.updated_at`,
		prospectID, message, provider, modelID, now, now)
	return eris.Wrapf(err, "sqlite: set outreach message for %s", prospectID)
}

func (s *SQLiteStore) SetEnrichmentStatus(ctx context.Context, prospectID string, status model.EnrichmentStatus) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_records (prospect_id, status, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (prospect_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		prospectID, string(status), now)
	return eris.Wrapf(err, "sqlite: set enrichment status for %s", prospectID)
}

func (s *SQLiteStore) InsertJob(ctx context.Context, job *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Family), string(job.Payload), string(job.State),
		job.Attempts, job.MaxAttempts, job.LastError, job.UserID, job.NextRunAt, job.CreatedAt)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at, started_at, finished_at
		 FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

// ClaimJob selects and activates the oldest runnable job inside a single
// transaction. WAL mode plus busy_timeout keeps concurrent claimers safe.
func (s *SQLiteStore) ClaimJob(ctx context.Context, family model.JobFamily) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		`SELECT id, family, payload, state, attempts, max_attempts, last_error, user_id, next_run_at, created_at, started_at, finished_at
		 FROM jobs
		 WHERE family = ? AND state IN ('waiting', 'delayed') AND next_run_at <= ?
		 ORDER BY created_at
		 LIMIT 1`, string(family), now)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: select claimable job for %s", family)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = 'active', attempts = attempts + 1, started_at = ?
		 WHERE id = ? AND state IN ('waiting', 'delayed')`,
		now, job.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: activate job %s", job.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		// Another claimer won the race.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}

	job.State = model.JobStateActive
	job.Attempts++
	job.StartedAt = &now
	return job, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'completed', finished_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string, retryAt *time.Time) error {
	var res sql.Result
	var err error
	if retryAt != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET state = 'delayed', last_error = ?, next_run_at = ? WHERE id = ?`,
			errMsg, *retryAt, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET state = 'failed', last_error = ?, finished_at = ? WHERE id = ?`,
			errMsg, time.Now().UTC(), id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) CountJobsByState(ctx context.Context, family model.JobFamily) (map[model.JobState]int, error) {
	query := `SELECT state, count(*) FROM jobs`
	args := []any{}
	if family != "" {
		query += ` WHERE family = ?`
		args = append(args, string(family))
	}
	query += ` GROUP BY state`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		counts[model.JobState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count jobs")
}

func (s *SQLiteStore) PurgeJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs
		 WHERE (state = 'completed' AND finished_at < ?)
			OR (state = 'failed' AND finished_at < ?)`,
		completedBefore, failedBefore)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) TrimJobs(ctx context.Context, state model.JobState, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs
		 WHERE state = ? AND id NOT IN (
			SELECT id FROM jobs WHERE state = ?
			ORDER BY finished_at DESC LIMIT ?
		 )`,
		string(state), string(state), keep)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: trim jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) TryLockProspect(_ context.Context, prospectID string) (UnlockFunc, bool, error) {
	unlock, ok := s.locks.tryLock(prospectID)
	return unlock, ok, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProspect(row sqlScanner) (*model.Prospect, error) {
	var p model.Prospect
	var attrs sql.NullString
	var status, statusErr string
	if err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Company, &p.Title,
		&p.ProfileURL, &attrs, &status, &statusErr, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.ProspectStatus(status)
	p.StatusError = statusErr
	if attrs.Valid && attrs.String != "" && attrs.String != "null" {
		if err := json.Unmarshal([]byte(attrs.String), &p.Attributes); err != nil {
			return nil, eris.Wrap(err, "unmarshal attributes")
		}
	}
	return &p, nil
}

func scanSQLiteJob(row sqlScanner) (*model.Job, error) {
	var j model.Job
	var family, state, payload string
	if err := row.Scan(&j.ID, &family, &payload, &state, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.UserID, &j.NextRunAt, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
		return nil, err
	}
	j.Family = model.JobFamily(family)
	j.State = model.JobState(state)
	j.Payload = json.RawMessage(payload)
	return &j, nil
}
