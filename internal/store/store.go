// Package store persists leads and run history behind a single
// interface with SQLite and Postgres drivers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

// ErrRunActive is returned by BeginRun while another run holds the
// single-active-run slot. Nothing is mutated for the loser.
var ErrRunActive = eris.New("store: another run is already running")

// ErrRunTerminal is returned when a lifecycle update targets a run that
// has already reached a terminal status.
var ErrRunTerminal = eris.New("store: run is not running")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// QualifiedFilter selects leads for qualification and export.
type QualifiedFilter struct {
	// Threshold is the minimum score. Required (the caller resolves any
	// override against the scoring config).
	Threshold int

	// WindowDays bounds last_seen: only leads seen within the freshness
	// window qualify. Zero disables the bound.
	WindowDays int

	// ExcludeRecentlyExported drops leads already exported within the
	// freshness window. The delivery path sets this; ad-hoc listing
	// does not.
	ExcludeRecentlyExported bool

	// Limit caps the result size. Zero means the store default (500).
	Limit int

	// AsOf anchors the freshness window, for tests. Zero means now.
	AsOf time.Time
}

// Stats summarizes store contents for health checks and the status
// command.
type Stats struct {
	TotalLeads int64      `json:"total_leads"`
	TotalRuns  int64      `json:"total_runs"`
	LastRun    *model.Run `json:"last_run,omitempty"`
}

// Store is the persistence interface for the pipeline. Lead writes are
// atomic per identity; run lifecycle transitions are monotonic.
type Store interface {
	// Leads
	UpsertLead(ctx context.Context, lead model.Lead, now time.Time) (*model.Lead, bool, error)
	GetLead(ctx context.Context, placeID string) (*model.Lead, error)
	QueryQualified(ctx context.Context, f QualifiedFilter) ([]model.Lead, error)
	MarkExported(ctx context.Context, placeIDs []string, now time.Time) error

	// Run ledger
	BeginRun(ctx context.Context, now time.Time) (string, error)
	SetPhase(ctx context.Context, runID string, phase model.Phase) error
	RecordProgress(ctx context.Context, runID string, delta model.Counters) error
	CompleteRun(ctx context.Context, runID string, final model.Counters, now time.Time) error
	FailRun(ctx context.Context, runID string, errSummary string, final model.Counters, now time.Time) error
	AbortRun(ctx context.Context, runID string, errSummary string, final model.Counters, now time.Time) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	LastCompletedRun(ctx context.Context) (*model.Run, error)

	// Lifecycle
	Stats(ctx context.Context) (*Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}

func (f QualifiedFilter) resolve() (cutoff time.Time, limit int) {
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	if f.WindowDays > 0 {
		cutoff = asOf.AddDate(0, 0, -f.WindowDays)
	}
	limit = f.Limit
	if limit <= 0 {
		limit = 500
	}
	return cutoff, limit
}
