package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testLead(placeID string, score int) model.Lead {
	return model.Lead{
		PlaceID:  placeID,
		Name:     "Biz " + placeID,
		Website:  "http://" + placeID + ".example",
		City:     "Springfield",
		Category: "plumber",
		Score:    score,
		Reasons:  []string{"unreachable"},
		Tier:     model.TierFor(score, model.DefaultTierBreakpoints()),
	}
}

func TestSQLiteUpsertLead_InsertThenRefresh(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	stored, wasNew, err := s.UpsertLead(ctx, testLead("p1", 85), t0)
	require.NoError(t, err)
	assert.True(t, wasNew)
	assert.Equal(t, 85, stored.Score)
	assert.Equal(t, t0, stored.FirstSeen.UTC())
	assert.Equal(t, t0, stored.LastSeen.UTC())
	assert.Equal(t, 1, stored.TimesSeen)

	// Refresh a week later with a new score.
	t1 := t0.AddDate(0, 0, 7)
	refresh := testLead("p1", 60)
	refresh.Reasons = []string{"no_https", "old_copyright"}
	refresh.Tier = model.TierWarm

	stored, wasNew, err = s.UpsertLead(ctx, refresh, t1)
	require.NoError(t, err)
	assert.False(t, wasNew)
	assert.Equal(t, 60, stored.Score)
	assert.Equal(t, []string{"no_https", "old_copyright"}, stored.Reasons)
	assert.Equal(t, t0, stored.FirstSeen.UTC(), "first_seen never changes on refresh")
	assert.Equal(t, t1, stored.LastSeen.UTC())
	assert.Equal(t, 2, stored.TimesSeen)
}

func TestSQLiteUpsertLead_IdempotentSameInstant(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, wasNew, err := s.UpsertLead(ctx, testLead("p1", 85), now)
	require.NoError(t, err)
	assert.True(t, wasNew)

	// Same record, same instant: one row, reported as existing.
	stored, wasNew, err := s.UpsertLead(ctx, testLead("p1", 85), now)
	require.NoError(t, err)
	assert.False(t, wasNew)
	assert.Equal(t, 2, stored.TimesSeen)
}

func TestSQLiteUpsertLead_PreservesExportBookkeeping(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := s.UpsertLead(ctx, testLead("p1", 85), now)
	require.NoError(t, err)
	require.NoError(t, s.MarkExported(ctx, []string{"p1"}, now))

	stored, _, err := s.UpsertLead(ctx, testLead("p1", 90), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExportedCount, "refresh leaves export bookkeeping alone")
	require.NotNil(t, stored.LastExportedAt)
}

func TestSQLiteGetLead_NotFound(t *testing.T) {
	s := newSQLite(t)
	_, err := s.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteQueryQualified(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	asOf := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// Three leads: hot fresh, warm fresh, hot stale.
	_, _, err := s.UpsertLead(ctx, testLead("fresh-hot", 90), asOf.AddDate(0, 0, -5))
	require.NoError(t, err)
	_, _, err = s.UpsertLead(ctx, testLead("fresh-warm", 60), asOf.AddDate(0, 0, -5))
	require.NoError(t, err)
	_, _, err = s.UpsertLead(ctx, testLead("stale-hot", 95), asOf.AddDate(0, 0, -120))
	require.NoError(t, err)
	_, _, err = s.UpsertLead(ctx, testLead("below", 20), asOf.AddDate(0, 0, -5))
	require.NoError(t, err)

	leads, err := s.QueryQualified(ctx, QualifiedFilter{Threshold: 40, WindowDays: 90, AsOf: asOf})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "fresh-hot", leads[0].PlaceID, "descending score order")
	assert.Equal(t, "fresh-warm", leads[1].PlaceID)

	// No window bound includes the stale lead.
	leads, err = s.QueryQualified(ctx, QualifiedFilter{Threshold: 40, AsOf: asOf})
	require.NoError(t, err)
	assert.Len(t, leads, 3)
}

func TestSQLiteQueryQualified_DeterministicTiebreak(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"c", "a", "b"} {
		_, _, err := s.UpsertLead(ctx, testLead(id, 80), now)
		require.NoError(t, err)
	}

	leads, err := s.QueryQualified(ctx, QualifiedFilter{Threshold: 40})
	require.NoError(t, err)
	require.Len(t, leads, 3)
	assert.Equal(t, "a", leads[0].PlaceID)
	assert.Equal(t, "b", leads[1].PlaceID)
	assert.Equal(t, "c", leads[2].PlaceID)
}

func TestSQLiteQueryQualified_ExcludesRecentlyExported(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	asOf := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, _, err := s.UpsertLead(ctx, testLead("sent", 90), asOf.AddDate(0, 0, -3))
	require.NoError(t, err)
	_, _, err = s.UpsertLead(ctx, testLead("unsent", 85), asOf.AddDate(0, 0, -3))
	require.NoError(t, err)
	require.NoError(t, s.MarkExported(ctx, []string{"sent"}, asOf.AddDate(0, 0, -2)))

	leads, err := s.QueryQualified(ctx, QualifiedFilter{
		Threshold: 40, WindowDays: 90, ExcludeRecentlyExported: true, AsOf: asOf,
	})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "unsent", leads[0].PlaceID)

	// Plain listing still shows both.
	leads, err = s.QueryQualified(ctx, QualifiedFilter{Threshold: 40, WindowDays: 90, AsOf: asOf})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}

func TestSQLiteQueryQualified_Limit(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 5 {
		_, _, err := s.UpsertLead(ctx, testLead(fmt.Sprintf("p%d", i), 50+i), now)
		require.NoError(t, err)
	}

	leads, err := s.QueryQualified(ctx, QualifiedFilter{Threshold: 40, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}

func TestSQLiteMarkExported(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, _, err := s.UpsertLead(ctx, testLead("p1", 85), now)
	require.NoError(t, err)

	require.NoError(t, s.MarkExported(ctx, []string{"p1"}, now))
	require.NoError(t, s.MarkExported(ctx, []string{"p1"}, now.AddDate(0, 0, 7)))
	require.NoError(t, s.MarkExported(ctx, nil, now))

	lead, err := s.GetLead(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, lead.ExportedCount)
	require.NotNil(t, lead.LastExportedAt)
	assert.Equal(t, now.AddDate(0, 0, 7), lead.LastExportedAt.UTC())
}

func TestSQLiteBeginRun_SingleActive(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id1, err := s.BeginRun(ctx, now)
	require.NoError(t, err)

	_, err = s.BeginRun(ctx, now)
	assert.ErrorIs(t, err, ErrRunActive)

	// Finishing the run frees the slot.
	require.NoError(t, s.CompleteRun(ctx, id1, model.Counters{}, now))
	id2, err := s.BeginRun(ctx, now)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	id, err := s.BeginRun(ctx, now)
	require.NoError(t, err)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, model.PhaseScraping, run.Phase)

	require.NoError(t, s.SetPhase(ctx, id, model.PhaseEvaluating))
	require.NoError(t, s.RecordProgress(ctx, id, model.Counters{Attempted: 10, Evaluated: 8, Errors: 2}))
	require.NoError(t, s.RecordProgress(ctx, id, model.Counters{Attempted: 5, Evaluated: 5, Qualified: 3}))

	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseEvaluating, run.Phase)
	assert.Equal(t, int64(15), run.Counters.Attempted, "progress increments accumulate")
	assert.Equal(t, int64(13), run.Counters.Evaluated)

	final := model.Counters{Attempted: 15, Evaluated: 13, Qualified: 3, Exported: 3, Errors: 2}
	require.NoError(t, s.CompleteRun(ctx, id, final, now.Add(time.Hour)))

	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.PhaseTerminal, run.Phase)
	assert.Equal(t, final, run.Counters)
	require.NotNil(t, run.CompletedAt)
}

func TestSQLiteRun_NoTransitionOutOfTerminal(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := s.BeginRun(ctx, now)
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, id, "store exploded", model.Counters{Errors: 1}, now))

	assert.ErrorIs(t, s.SetPhase(ctx, id, model.PhaseExporting), ErrRunTerminal)
	assert.ErrorIs(t, s.RecordProgress(ctx, id, model.Counters{Attempted: 1}), ErrRunTerminal)
	assert.ErrorIs(t, s.CompleteRun(ctx, id, model.Counters{}, now), ErrRunTerminal)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "store exploded", run.ErrorSummary)
}

func TestSQLiteAbortRun_KeepsPartialCounters(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := s.BeginRun(ctx, now)
	require.NoError(t, err)
	require.NoError(t, s.RecordProgress(ctx, id, model.Counters{Attempted: 4, Evaluated: 3}))
	require.NoError(t, s.AbortRun(ctx, id, "context canceled", model.Counters{Attempted: 4, Evaluated: 3}, now))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAborted, run.Status)
	assert.Equal(t, int64(4), run.Counters.Attempted)
	assert.Equal(t, "context canceled", run.ErrorSummary)
}

func TestSQLiteListRunsAndLastCompleted(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, err := s.LastCompletedRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	var ids []string
	for i := range 3 {
		id, err := s.BeginRun(ctx, base.AddDate(0, 0, i))
		require.NoError(t, err)
		require.NoError(t, s.CompleteRun(ctx, id, model.Counters{}, base.AddDate(0, 0, i).Add(time.Hour)))
		ids = append(ids, id)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")

	last, err := s.LastCompletedRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], last.ID)
}

func TestSQLiteStats(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := s.UpsertLead(ctx, testLead("p1", 85), now)
	require.NoError(t, err)
	id, err := s.BeginRun(ctx, now)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, id, model.Counters{Attempted: 1}, now))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalLeads)
	assert.Equal(t, int64(1), stats.TotalRuns)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, id, stats.LastRun.ID)
}
