package model

import (
	"time"
)

// RunStatus is the lifecycle state of a pipeline run. Transitions are
// monotonic: running moves to exactly one terminal status and never back.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// Terminal reports whether the status is one of the end states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusAborted:
		return true
	}
	return false
}

// Phase names the stage a run is currently executing.
type Phase string

const (
	PhaseScraping   Phase = "scraping"
	PhaseEvaluating Phase = "evaluating"
	PhasePersisting Phase = "persisting"
	PhaseExporting  Phase = "exporting"
	PhaseTerminal   Phase = "terminal"
)

// Counters summarize per-run progress. All updates are increments;
// nothing ever decrements a counter.
type Counters struct {
	Attempted int64 `json:"attempted" db:"attempted"`
	Evaluated int64 `json:"evaluated" db:"evaluated"`
	Qualified int64 `json:"qualified" db:"qualified"`
	Exported  int64 `json:"exported" db:"exported"`
	Errors    int64 `json:"errors" db:"errors"`
}

// Add returns the element-wise sum of two counter sets.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		Attempted: c.Attempted + d.Attempted,
		Evaluated: c.Evaluated + d.Evaluated,
		Qualified: c.Qualified + d.Qualified,
		Exported:  c.Exported + d.Exported,
		Errors:    c.Errors + d.Errors,
	}
}

// Run records one execution of the pipeline.
type Run struct {
	ID           string     `json:"id" db:"id"`
	Phase        Phase      `json:"phase" db:"phase"`
	Status       RunStatus  `json:"status" db:"status"`
	Counters     Counters   `json:"counters"`
	ErrorSummary string     `json:"error_summary,omitempty" db:"error_summary"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
