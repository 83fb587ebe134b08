package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sitewatch-cli/internal/db"
	"github.com/sells-group/sitewatch-cli/internal/model"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore over an established pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	place_id         TEXT PRIMARY KEY,
	cid              TEXT,
	name             TEXT NOT NULL,
	website          TEXT,
	address          TEXT,
	phone            TEXT,
	city             TEXT,
	category         TEXT,
	score            INTEGER NOT NULL,
	reasons          JSONB NOT NULL DEFAULT '[]',
	tier             TEXT NOT NULL,
	first_seen       TIMESTAMPTZ NOT NULL,
	last_seen        TIMESTAMPTZ NOT NULL,
	times_seen       INTEGER NOT NULL DEFAULT 1,
	exported_count   INTEGER NOT NULL DEFAULT 0,
	last_exported_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
CREATE INDEX IF NOT EXISTS idx_leads_last_seen ON leads(last_seen);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	phase         TEXT NOT NULL DEFAULT 'scraping',
	status        TEXT NOT NULL DEFAULT 'running',
	attempted     BIGINT NOT NULL DEFAULT 0,
	evaluated     BIGINT NOT NULL DEFAULT 0,
	qualified     BIGINT NOT NULL DEFAULT 0,
	exported      BIGINT NOT NULL DEFAULT 0,
	errors        BIGINT NOT NULL DEFAULT 0,
	error_summary TEXT,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies connectivity, for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) UpsertLead(ctx context.Context, lead model.Lead, now time.Time) (*model.Lead, bool, error) {
	now = now.UTC()
	reasonsJSON, err := marshalReasons(lead.Reasons)
	if err != nil {
		return nil, false, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads (
			place_id, cid, name, website, address, phone, city, category,
			score, reasons, tier, first_seen, last_seen, exported_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0)
		ON CONFLICT (place_id) DO UPDATE SET
			cid      = excluded.cid,
			name     = excluded.name,
			website  = excluded.website,
			address  = excluded.address,
			phone    = excluded.phone,
			city     = excluded.city,
			category = excluded.category,
			score    = excluded.score,
			reasons  = excluded.reasons,
			tier     = excluded.tier,
			last_seen  = excluded.last_seen,
			times_seen = leads.times_seen + 1
		RETURNING `+leadColumns,
		lead.PlaceID, lead.CID, lead.Name, lead.Website, lead.Address, lead.Phone,
		lead.City, lead.Category, lead.Score, reasonsJSON, string(lead.Tier), now, now,
	)

	stored, err := scanLead(row)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: upsert lead %s", lead.PlaceID)
	}
	return stored, stored.TimesSeen == 1, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, placeID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE place_id = $1`, placeID)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", placeID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", placeID)
	}
	return lead, nil
}

func (s *PostgresStore) QueryQualified(ctx context.Context, f QualifiedFilter) ([]model.Lead, error) {
	cutoff, limit := f.resolve()

	query := `SELECT ` + leadColumns + ` FROM leads WHERE score >= $1`
	args := []any{f.Threshold}

	if !cutoff.IsZero() {
		args = append(args, cutoff)
		query += ` AND last_seen >= $2`
		if f.ExcludeRecentlyExported {
			query += ` AND (last_exported_at IS NULL OR last_exported_at < $2)`
		}
	} else if f.ExcludeRecentlyExported {
		query += ` AND last_exported_at IS NULL`
	}

	args = append(args, limit)
	query += ` ORDER BY score DESC, place_id ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query qualified")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan qualified lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate qualified")
}

func (s *PostgresStore) MarkExported(ctx context.Context, placeIDs []string, now time.Time) error {
	if len(placeIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET exported_count = exported_count + 1, last_exported_at = $1 WHERE place_id = ANY($2)`,
		now.UTC(), placeIDs)
	return eris.Wrap(err, "postgres: mark exported")
}

func (s *PostgresStore) BeginRun(ctx context.Context, now time.Time) (string, error) {
	id := uuid.New().String()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, phase, status, started_at)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (SELECT 1 FROM runs WHERE status = $3)`,
		id, string(model.PhaseScraping), string(model.RunStatusRunning), now.UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin run")
	}
	if tag.RowsAffected() == 0 {
		return "", ErrRunActive
	}
	return id, nil
}

func (s *PostgresStore) SetPhase(ctx context.Context, runID string, phase model.Phase) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET phase = $1 WHERE id = $2 AND status = $3`,
		string(phase), runID, string(model.RunStatusRunning))
	if err != nil {
		return eris.Wrapf(err, "postgres: set phase for run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunTerminal, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) RecordProgress(ctx context.Context, runID string, delta model.Counters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			attempted = attempted + $1,
			evaluated = evaluated + $2,
			qualified = qualified + $3,
			exported  = exported + $4,
			errors    = errors + $5
		WHERE id = $6 AND status = $7`,
		delta.Attempted, delta.Evaluated, delta.Qualified, delta.Exported, delta.Errors,
		runID, string(model.RunStatusRunning))
	if err != nil {
		return eris.Wrapf(err, "postgres: record progress for run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunTerminal, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, final model.Counters, now time.Time) error {
	return s.finishRun(ctx, runID, model.RunStatusCompleted, "", final, now)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errSummary string, final model.Counters, now time.Time) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, errSummary, final, now)
}

func (s *PostgresStore) AbortRun(ctx context.Context, runID string, errSummary string, final model.Counters, now time.Time) error {
	return s.finishRun(ctx, runID, model.RunStatusAborted, errSummary, final, now)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, errSummary string, final model.Counters, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			status = $1,
			phase = $2,
			attempted = $3,
			evaluated = $4,
			qualified = $5,
			exported = $6,
			errors = $7,
			error_summary = $8,
			completed_at = $9
		WHERE id = $10 AND status = $11`,
		string(status), string(model.PhaseTerminal),
		final.Attempted, final.Evaluated, final.Qualified, final.Exported, final.Errors,
		nullString(errSummary), now.UTC(),
		runID, string(model.RunStatusRunning))
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunTerminal, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) LastCompletedRun(ctx context.Context) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY completed_at DESC LIMIT 1`,
		string(model.RunStatusCompleted))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "no completed runs")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last completed run")
	}
	return run, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads`).Scan(&stats.TotalLeads); err != nil {
		return nil, eris.Wrap(err, "postgres: count leads")
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`).Scan(&stats.TotalRuns); err != nil {
		return nil, eris.Wrap(err, "postgres: count runs")
	}

	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		stats.LastRun = &runs[0]
	}
	return stats, nil
}

