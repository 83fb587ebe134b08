package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. One *sql.DB
// handle is opened per store and reused for the life of the run.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode. SQLite serializes writers, which is what makes the
// conditional run insert and the lead upsert atomic.
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	reasons          TEXT NOT NULL DEFAULT '[]',
	tier             TEXT NOT NULL,
	first_seen       DATETIME NOT NULL,
	last_seen        DATETIME NOT NULL,
	times_seen       INTEGER NOT NULL DEFAULT 1,
	exported_count   INTEGER NOT NULL DEFAULT 0,
	last_exported_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
CREATE INDEX IF NOT EXISTS idx_leads_last_seen ON leads(last_seen);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	phase         TEXT NOT NULL DEFAULT 'scraping',
	status        TEXT NOT NULL DEFAULT 'running',
	attempted     INTEGER NOT NULL DEFAULT 0,
	evaluated     INTEGER NOT NULL DEFAULT 0,
	qualified     INTEGER NOT NULL DEFAULT 0,
	exported      INTEGER NOT NULL DEFAULT 0,
	errors        INTEGER NOT NULL DEFAULT 0,
	error_summary TEXT,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the handle is still usable, for health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

const leadColumns = `place_id, cid, name, website, address, phone, city, category,
	score, reasons, tier, first_seen, last_seen, times_seen, exported_count, last_exported_at`

// UpsertLead inserts or refreshes a lead in a single statement. First
// sight sets first_seen = last_seen = now; a refresh rewrites the
// descriptive attributes, score, reasons, tier, and last_seen while
// leaving first_seen and export bookkeeping untouched. The conflict
// branch increments times_seen, which is how wasNew is derived without
// a separate existence check.
func (s *SQLiteStore) UpsertLead(ctx context.Context, lead model.Lead, now time.Time) (*model.Lead, bool, error) {
	now = now.UTC()
	reasonsJSON, err := marshalReasons(lead.Reasons)
	if err != nil {
		return nil, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO leads (
			place_id, cid, name, website, address, phone, city, category,
			score, reasons, tier, first_seen, last_seen, exported_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(place_id) DO UPDATE SET
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
			times_seen = times_seen + 1
		RETURNING `+leadColumns,
		lead.PlaceID, lead.CID, lead.Name, lead.Website, lead.Address, lead.Phone,
		lead.City, lead.Category, lead.Score, reasonsJSON, string(lead.Tier), now, now,
	)

	stored, err := scanLead(row)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: upsert lead %s", lead.PlaceID)
	}
	return stored, stored.TimesSeen == 1, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, placeID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE place_id = ?`, placeID)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", placeID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", placeID)
	}
	return lead, nil
}

// QueryQualified returns leads at or above the threshold seen within
// the freshness window, ordered by descending score with place_id as
// the deterministic tiebreak. It never touches export bookkeeping.
func (s *SQLiteStore) QueryQualified(ctx context.Context, f QualifiedFilter) ([]model.Lead, error) {
	cutoff, limit := f.resolve()

	query := `SELECT ` + leadColumns + ` FROM leads WHERE score >= ?`
	args := []any{f.Threshold}

	if !cutoff.IsZero() {
		query += ` AND last_seen >= ?`
		args = append(args, cutoff)
	}
	if f.ExcludeRecentlyExported && !cutoff.IsZero() {
		query += ` AND (last_exported_at IS NULL OR last_exported_at < ?)`
		args = append(args, cutoff)
	} else if f.ExcludeRecentlyExported {
		query += ` AND last_exported_at IS NULL`
	}

	query += ` ORDER BY score DESC, place_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query qualified")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan qualified lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate qualified")
}

// MarkExported bumps export bookkeeping for the given identities. The
// caller invokes this only for leads a destination actually received.
func (s *SQLiteStore) MarkExported(ctx context.Context, placeIDs []string, now time.Time) error {
	if len(placeIDs) == 0 {
		return nil
	}
	now = now.UTC()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(placeIDs)), ", ")
	args := make([]any, 0, len(placeIDs)+1)
	args = append(args, now)
	for _, id := range placeIDs {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE leads SET exported_count = exported_count + 1, last_exported_at = ? WHERE place_id IN (%s)`,
		placeholders), args...)
	return eris.Wrap(err, "sqlite: mark exported")
}

// BeginRun claims the single-active-run slot with a conditional insert.
// The existence check and the insert are one statement, so two
// concurrent callers cannot both see "no active run" and proceed.
func (s *SQLiteStore) BeginRun(ctx context.Context, now time.Time) (string, error) {
	id := uuid.New().String()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, phase, status, started_at)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM runs WHERE status = ?)`,
		id, string(model.PhaseScraping), string(model.RunStatusRunning), now.UTC(),
		string(model.RunStatusRunning),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin run rows affected")
	}
	if n == 0 {
		return "", ErrRunActive
	}
	return id, nil
}

func (s *SQLiteStore) SetPhase(ctx context.Context, runID string, phase model.Phase) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET phase = ? WHERE id = ? AND status = ?`,
		string(phase), runID, string(model.RunStatusRunning))
	if err != nil {
		return eris.Wrapf(err, "sqlite: set phase for run %s", runID)
	}
	return runningRowAffected(res, runID)
}

// RecordProgress applies a monotonic counter increment to a running run.
func (s *SQLiteStore) RecordProgress(ctx context.Context, runID string, delta model.Counters) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			attempted = attempted + ?,
			evaluated = evaluated + ?,
			qualified = qualified + ?,
			exported  = exported + ?,
			errors    = errors + ?
		WHERE id = ? AND status = ?`,
		delta.Attempted, delta.Evaluated, delta.Qualified, delta.Exported, delta.Errors,
		runID, string(model.RunStatusRunning))
	if err != nil {
		return eris.Wrapf(err, "sqlite: record progress for run %s", runID)
	}
	return runningRowAffected(res, runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, final model.Counters, now time.Time) error {
	return s.finishRun(ctx, runID, model.RunStatusCompleted, "", final, now)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errSummary string, final model.Counters, now time.Time) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, errSummary, final, now)
}

func (s *SQLiteStore) AbortRun(ctx context.Context, runID string, errSummary string, final model.Counters, now time.Time) error {
	return s.finishRun(ctx, runID, model.RunStatusAborted, errSummary, final, now)
}

// finishRun moves a running run to a terminal status. The WHERE clause
// rejects transitions out of a terminal state.
func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, errSummary string, final model.Counters, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			phase = ?,
			attempted = ?,
			evaluated = ?,
			qualified = ?,
			exported = ?,
			errors = ?,
			error_summary = ?,
			completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), string(model.PhaseTerminal),
		final.Attempted, final.Evaluated, final.Qualified, final.Exported, final.Errors,
		nullString(errSummary), now.UTC(),
		runID, string(model.RunStatusRunning))
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return runningRowAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) LastCompletedRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY completed_at DESC LIMIT 1`,
		string(model.RunStatusCompleted))
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "no completed runs")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last completed run")
	}
	return run, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&stats.TotalLeads); err != nil {
		return nil, eris.Wrap(err, "sqlite: count leads")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&stats.TotalRuns); err != nil {
		return nil, eris.Wrap(err, "sqlite: count runs")
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

const runColumns = `id, phase, status, attempted, evaluated, qualified, exported, errors,
	error_summary, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var cid, website, address, phone, city, category sql.NullString
	var reasonsJSON string
	var tier string
	var lastExported sql.NullTime

	err := row.Scan(
		&l.PlaceID, &cid, &l.Name, &website, &address, &phone, &city, &category,
		&l.Score, &reasonsJSON, &tier, &l.FirstSeen, &l.LastSeen,
		&l.TimesSeen, &l.ExportedCount, &lastExported,
	)
	if err != nil {
		return nil, err
	}

	l.CID = cid.String
	l.Website = website.String
	l.Address = address.String
	l.Phone = phone.String
	l.City = city.String
	l.Category = category.String
	l.Tier = model.Tier(tier)
	if err := json.Unmarshal([]byte(reasonsJSON), &l.Reasons); err != nil {
		return nil, eris.Wrapf(err, "decode reasons for %s", l.PlaceID)
	}
	if lastExported.Valid {
		t := lastExported.Time
		l.LastExportedAt = &t
	}
	return &l, nil
}

func scanRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var phase, status string
	var errSummary sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&r.ID, &phase, &status,
		&r.Counters.Attempted, &r.Counters.Evaluated, &r.Counters.Qualified,
		&r.Counters.Exported, &r.Counters.Errors,
		&errSummary, &r.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Phase = model.Phase(phase)
	r.Status = model.RunStatus(status)
	r.ErrorSummary = errSummary.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// marshalReasons serializes the in-memory reason set at the storage
// boundary. The store never treats reasons as text to parse.
func marshalReasons(reasons []string) (string, error) {
	if reasons == nil {
		reasons = []string{}
	}
	data, err := json.Marshal(reasons)
	if err != nil {
		return "", eris.Wrap(err, "encode reasons")
	}
	return string(data), nil
}

func runningRowAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunTerminal, "run %s", runID)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
