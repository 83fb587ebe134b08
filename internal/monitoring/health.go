// Package monitoring implements the health checks behind the status
// command and the /health endpoint.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitewatch-cli/internal/scoring"
	"github.com/sells-group/sitewatch-cli/internal/store"
)

// Check is one named health probe outcome.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates all checks. Healthy is the conjunction.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker evaluates store connectivity, run recency, and scoring
// config validity.
type Checker struct {
	Store   store.Store
	Scoring scoring.Config

	// MaxRunAge is how stale the last completed run may be before the
	// cadence check fails. Zero means 8 days (weekly cadence plus slack).
	MaxRunAge time.Duration

	Now func() time.Time
}

// Run executes every check. It never returns an error; failures are
// reported inside the checks.
func (c *Checker) Run(ctx context.Context) Report {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	maxAge := c.MaxRunAge
	if maxAge <= 0 {
		maxAge = 8 * 24 * time.Hour
	}

	checks := []Check{
		c.checkStore(ctx),
		c.checkLastRun(ctx, now(), maxAge),
		c.checkConfig(),
	}

	healthy := true
	for _, ch := range checks {
		if !ch.OK {
			healthy = false
			zap.L().Warn("monitoring: check failed",
				zap.String("check", ch.Name), zap.String("detail", ch.Detail))
		}
	}

	return Report{Healthy: healthy, Checks: checks, CheckedAt: now().UTC()}
}

func (c *Checker) checkStore(ctx context.Context) Check {
	stats, err := c.Store.Stats(ctx)
	if err != nil {
		return Check{Name: "store", Detail: err.Error()}
	}
	return Check{
		Name:   "store",
		OK:     true,
		Detail: fmt.Sprintf("%d leads, %d runs", stats.TotalLeads, stats.TotalRuns),
	}
}

func (c *Checker) checkLastRun(ctx context.Context, now time.Time, maxAge time.Duration) Check {
	run, err := c.Store.LastCompletedRun(ctx)
	if eris.Is(err, store.ErrNotFound) {
		return Check{Name: "last_run", Detail: "no completed runs yet"}
	}
	if err != nil {
		return Check{Name: "last_run", Detail: err.Error()}
	}

	completed := run.StartedAt
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}
	age := now.Sub(completed)
	detail := fmt.Sprintf("last completed %s ago", age.Round(time.Minute))
	return Check{Name: "last_run", OK: age <= maxAge, Detail: detail}
}

func (c *Checker) checkConfig() Check {
	if err := scoring.Validate(c.Scoring); err != nil {
		return Check{Name: "config", Detail: err.Error()}
	}
	return Check{Name: "config", OK: true}
}
