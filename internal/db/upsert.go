package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk upsert into a single table.
type UpsertConfig struct {
	Table        string   // target table, e.g. "prospects"
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to overwrite on conflict; nil = every non-key column
}

// BulkUpsert loads rows through a temp table and merges them into the target
// with INSERT ... ON CONFLICT. Duplicate conflict keys within the batch are
// collapsed first (last occurrence wins) so the merge never touches the same
// row twice. When every column is a conflict key the merge degrades to
// ON CONFLICT DO NOTHING.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		keySet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keySet[k] = true
		}
		for _, c := range cfg.Columns {
			if !keySet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := "_staging_" + cfg.Table
	tempIdent := pgx.Identifier{temp}.Sanitize()
	targetIdent := pgx.Identifier{cfg.Table}.Sanitize()

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		tempIdent, targetIdent,
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}

	if _, err := CopyFrom(ctx, tx, temp, cfg.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: staging load for %s", cfg.Table)
	}

	keyList := quoteAndJoin(cfg.ConflictKeys)

	// Collapse in-batch duplicates, keeping the row COPYed last.
	dedupSQL := fmt.Sprintf(
		"DELETE FROM %s a USING %s b WHERE (%s) = (%s) AND a.ctid < b.ctid",
		tempIdent, tempIdent,
		prefixAndJoin("a", cfg.ConflictKeys), prefixAndJoin("b", cfg.ConflictKeys),
	)
	if _, err := tx.Exec(ctx, dedupSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: dedup staging rows for %s", cfg.Table)
	}

	action := "DO NOTHING"
	if len(updateCols) > 0 {
		sets := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pgx.Identifier{col}.Sanitize()
			sets[i] = q + " = EXCLUDED." + q
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	colList := quoteAndJoin(cfg.Columns)
	mergeSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		targetIdent, colList, colList, tempIdent, keyList, action,
	)

	tag, err := tx.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func prefixAndJoin(alias string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = alias + "." + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
