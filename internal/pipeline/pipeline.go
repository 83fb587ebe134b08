// Package pipeline orchestrates one end-to-end run: discover
// candidates, evaluate and score their websites, persist leads, and
// export qualified ones to delivery destinations.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sitewatch-cli/internal/config"
	"github.com/sells-group/sitewatch-cli/internal/delivery"
	"github.com/sells-group/sitewatch-cli/internal/discovery"
	"github.com/sells-group/sitewatch-cli/internal/model"
	"github.com/sells-group/sitewatch-cli/internal/probe"
	"github.com/sells-group/sitewatch-cli/internal/resilience"
	"github.com/sells-group/sitewatch-cli/internal/scoring"
	"github.com/sells-group/sitewatch-cli/internal/store"
)

// Evaluator probes one website. Satisfied by *probe.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, website string) ([]model.Finding, error)
}

// Pipeline wires the run's collaborators. Zero-value fields fall back
// to sane defaults where noted.
type Pipeline struct {
	Store       store.Store
	Source      discovery.Source
	Evaluator   Evaluator
	Deliverer   delivery.Deliverer
	Subscribers delivery.SubscriberSource

	Scoring     scoring.Config
	Export      config.ExportConfig
	Concurrency int // worker pool size, default 8
	Limit       int // max candidates per run, 0 = unlimited
	DryRun      bool

	Now func() time.Time
}

// New builds a Pipeline from configuration with a live probe evaluator
// sharing one retry budget across the run.
func New(cfg *config.Config, st store.Store, src discovery.Source, del delivery.Deliverer, subs delivery.SubscriberSource) *Pipeline {
	var budget *resilience.Budget
	if cfg.Retry.RunBudget > 0 {
		budget = resilience.NewBudget(cfg.Retry.RunBudget)
	}
	return &Pipeline{
		Store:       st,
		Source:      src,
		Evaluator:   probe.NewEvaluator(cfg.Probe, cfg.Retry, cfg.Scoring.SocialOnlyPolicy, budget),
		Deliverer:   del,
		Subscribers: subs,
		Scoring:     cfg.Scoring,
		Export:      cfg.Export,
		Concurrency: cfg.Pipeline.Concurrency,
	}
}

// progress accumulates counters and flushes deltas to the run ledger.
// Workers add under the mutex; flush is called at phase boundaries and
// before any terminal transition so partial progress survives an abort.
type progress struct {
	mu      sync.Mutex
	total   model.Counters
	flushed model.Counters
}

func (p *progress) add(d model.Counters) {
	p.mu.Lock()
	p.total = p.total.Add(d)
	p.mu.Unlock()
}

func (p *progress) snapshot() model.Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// flush writes the unflushed delta to the ledger. Ledger write failures
// are logged, not fatal: the in-memory totals remain authoritative for
// the terminal transition.
func (p *progress) flush(ctx context.Context, st store.Store, runID string) {
	p.mu.Lock()
	delta := model.Counters{
		Attempted: p.total.Attempted - p.flushed.Attempted,
		Evaluated: p.total.Evaluated - p.flushed.Evaluated,
		Qualified: p.total.Qualified - p.flushed.Qualified,
		Exported:  p.total.Exported - p.flushed.Exported,
		Errors:    p.total.Errors - p.flushed.Errors,
	}
	p.flushed = p.total
	p.mu.Unlock()

	if delta == (model.Counters{}) {
		return
	}
	if err := st.RecordProgress(ctx, runID, delta); err != nil {
		zap.L().Warn("pipeline: progress flush failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// Run executes one pipeline run. Exactly one run may be active per
// store; a second concurrent call fails with store.ErrRunActive before
// any work happens. Cancellation finishes the in-flight records, marks
// the run aborted, and keeps all progress durable.
func (p *Pipeline) Run(ctx context.Context) (*model.Run, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	runID, err := p.Store.BeginRun(ctx, now())
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: run started")

	prog := &progress{}

	if err := p.evaluatePhase(ctx, runID, prog, concurrency, log); err != nil {
		return p.finish(ctx, runID, prog, err, now, log)
	}
	if ctx.Err() != nil {
		return p.finish(ctx, runID, prog, ctx.Err(), now, log)
	}

	if err := p.Store.SetPhase(ctx, runID, model.PhasePersisting); err != nil {
		return p.finish(ctx, runID, prog, err, now, log)
	}
	prog.flush(ctx, p.Store, runID)

	if err := p.Store.SetPhase(ctx, runID, model.PhaseExporting); err != nil {
		return p.finish(ctx, runID, prog, err, now, log)
	}
	if err := p.exportPhase(ctx, runID, prog, now, log); err != nil {
		return p.finish(ctx, runID, prog, err, now, log)
	}

	return p.finish(ctx, runID, prog, ctx.Err(), now, log)
}

// evaluatePhase consumes source batches and fans records out to the
// worker pool. Record failures are isolated: logged, counted, and the
// run moves on. Only a dead store stops the phase.
func (p *Pipeline) evaluatePhase(ctx context.Context, runID string, prog *progress, concurrency int, log *zap.Logger) error {
	if err := p.Store.SetPhase(ctx, runID, model.PhaseEvaluating); err != nil {
		return err
	}

	g := &errgroup.Group{}
	g.SetLimit(concurrency)

	var (
		seenMu    sync.Mutex
		seen      = map[string]bool{}
		scheduled int
	)

	for result := range p.Source.Discover(ctx) {
		if result.Err != nil {
			log.Warn("pipeline: discovery error", zap.String("query", result.Query), zap.Error(result.Err))
			prog.add(model.Counters{Errors: 1})
			continue
		}
		for _, cand := range result.Candidates {
			if ctx.Err() != nil {
				break
			}
			if p.Limit > 0 && scheduled >= p.Limit {
				continue
			}

			seenMu.Lock()
			dup := seen[cand.PlaceID]
			seen[cand.PlaceID] = true
			seenMu.Unlock()
			if dup {
				continue
			}

			scheduled++
			g.Go(func() error {
				p.processRecord(ctx, cand, prog, log)
				return nil
			})
		}
		prog.flush(ctx, p.Store, runID)
		if ctx.Err() != nil {
			break
		}
	}

	_ = g.Wait()
	prog.flush(ctx, p.Store, runID)
	return nil
}

// processRecord evaluates, scores, and persists one candidate. Panics
// are contained here so one poisoned record cannot take down the run.
func (p *Pipeline) processRecord(ctx context.Context, cand discovery.Candidate, prog *progress, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: record panicked",
				zap.String("place_id", cand.PlaceID), zap.Any("panic", r))
			prog.add(model.Counters{Attempted: 1, Errors: 1})
		}
	}()

	if ctx.Err() != nil {
		return
	}

	findings, err := p.evaluateCandidate(ctx, cand)
	switch {
	case err == nil:
	case eris.Is(err, probe.ErrNotEvaluable):
		log.Debug("pipeline: candidate not evaluable",
			zap.String("place_id", cand.PlaceID), zap.Error(err))
		prog.add(model.Counters{Attempted: 1})
		return
	case ctx.Err() != nil:
		// Canceled mid-record; not a record failure.
		return
	default:
		log.Warn("pipeline: evaluation failed",
			zap.String("place_id", cand.PlaceID), zap.Error(err))
		prog.add(model.Counters{Attempted: 1, Errors: 1})
		return
	}

	result := scoring.Score(findings, p.Scoring)

	lead := model.Lead{
		PlaceID:  cand.PlaceID,
		CID:      cand.CID,
		Name:     cand.Name,
		Website:  cand.Website,
		Address:  cand.Address,
		Phone:    cand.Phone,
		City:     cand.City,
		Category: cand.Category,
		Score:    result.Score,
		Reasons:  result.Reasons,
		Tier:     result.Tier,
	}

	nowFn := p.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	stored, wasNew, err := p.Store.UpsertLead(ctx, lead, nowFn())
	if err != nil {
		log.Warn("pipeline: upsert failed",
			zap.String("place_id", cand.PlaceID), zap.Error(err))
		prog.add(model.Counters{Attempted: 1, Errors: 1})
		return
	}

	delta := model.Counters{Attempted: 1, Evaluated: 1}
	if p.Scoring.Qualifies(stored.Score) {
		delta.Qualified = 1
	}
	prog.add(delta)

	log.Debug("pipeline: record persisted",
		zap.String("place_id", stored.PlaceID),
		zap.Int("score", stored.Score),
		zap.String("tier", string(stored.Tier)),
		zap.Bool("new", wasNew))
}

// evaluateCandidate runs the probe, substituting the synthetic
// no_website finding when the candidate has no site and the config
// includes such businesses.
func (p *Pipeline) evaluateCandidate(ctx context.Context, cand discovery.Candidate) ([]model.Finding, error) {
	if cand.Website == "" {
		if p.Scoring.IncludeNoWebsite {
			return []model.Finding{{Code: model.CodeNoWebsite}}, nil
		}
		return nil, probe.ErrNotEvaluable
	}
	return p.Evaluator.Evaluate(ctx, cand.Website)
}

// exportPhase queries fresh qualified leads and delivers them. Each
// destination is isolated; leads are marked exported only when at
// least one destination actually received them.
func (p *Pipeline) exportPhase(ctx context.Context, runID string, prog *progress, now func() time.Time, log *zap.Logger) error {
	if p.DryRun || p.Deliverer == nil || p.Subscribers == nil {
		log.Info("pipeline: export skipped", zap.Bool("dry_run", p.DryRun))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	leads, err := p.Store.QueryQualified(ctx, store.QualifiedFilter{
		Threshold:               p.Scoring.Threshold,
		WindowDays:              p.Export.FreshnessWindowDays,
		ExcludeRecentlyExported: true,
		Limit:                   p.Export.Limit,
	})
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		log.Info("pipeline: nothing to export")
		return nil
	}

	dests, err := p.Subscribers.Subscribers(ctx)
	if err != nil {
		return err
	}

	delivered := map[string]bool{}
	for _, dest := range dests {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		subset := delivery.FilterForDestination(dest, leads)
		if len(subset) == 0 {
			continue
		}
		if err := p.Deliverer.Deliver(ctx, dest, subset); err != nil {
			log.Warn("pipeline: delivery failed",
				zap.String("destination", dest.Email), zap.Error(err))
			prog.add(model.Counters{Errors: 1})
			continue
		}
		for _, l := range subset {
			delivered[l.PlaceID] = true
		}
	}

	if len(delivered) == 0 {
		return nil
	}

	ids := make([]string, 0, len(delivered))
	for id := range delivered {
		ids = append(ids, id)
	}
	if err := p.Store.MarkExported(ctx, ids, now()); err != nil {
		return err
	}
	prog.add(model.Counters{Exported: int64(len(ids))})
	prog.flush(ctx, p.Store, runID)
	return nil
}

// finish moves the run to its terminal status based on how the phases
// ended: clean → completed, canceled → aborted, anything else →
// failed. Counter totals are written with the terminal transition.
func (p *Pipeline) finish(ctx context.Context, runID string, prog *progress, cause error, now func() time.Time, log *zap.Logger) (*model.Run, error) {
	final := prog.snapshot()

	// The run context may already be dead; terminal writes use a fresh
	// deadline so the ledger always records the outcome.
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var termErr error
	switch {
	case cause == nil:
		termErr = p.Store.CompleteRun(termCtx, runID, final, now())
		log.Info("pipeline: run completed",
			zap.Int64("attempted", final.Attempted),
			zap.Int64("evaluated", final.Evaluated),
			zap.Int64("qualified", final.Qualified),
			zap.Int64("exported", final.Exported),
			zap.Int64("errors", final.Errors))
	case eris.Is(cause, context.Canceled) || eris.Is(cause, context.DeadlineExceeded):
		termErr = p.Store.AbortRun(termCtx, runID, cause.Error(), final, now())
		log.Warn("pipeline: run aborted", zap.Int64("attempted", final.Attempted))
		cause = nil
	default:
		summary := fmt.Sprintf("%v", cause)
		termErr = p.Store.FailRun(termCtx, runID, summary, final, now())
		log.Error("pipeline: run failed", zap.Error(cause))
	}
	if termErr != nil {
		log.Error("pipeline: terminal transition failed", zap.Error(termErr))
		if cause == nil {
			cause = termErr
		}
	}

	run, getErr := p.Store.GetRun(termCtx, runID)
	if getErr != nil {
		return nil, eris.Wrap(getErr, "pipeline: load finished run")
	}
	return run, cause
}
