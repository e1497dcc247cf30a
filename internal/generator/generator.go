package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/promptlab/backend/internal/metrics"
	"github.com/promptlab/backend/internal/models"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonNoBackend    = "no_backend"
	ReasonBackendError = "backend_error"
)

// CellOutcome is how a grid cell got its texts: either LiveSuccess or
// FallbackSubstituted.
type CellOutcome interface {
	cellOutcome()
}

// LiveSuccess carries the candidates returned by the live backend, in
// backend order.
type LiveSuccess struct {
	Texts []string
}

// FallbackSubstituted means the cell is filled by the fallback synthesizer.
// Err is set when a live call failed.
type FallbackSubstituted struct {
	Reason string
	Err    error
}

func (LiveSuccess) cellOutcome()         {}
func (FallbackSubstituted) cellOutcome() {}

type Options struct {
	// Backend is the live generation service; nil means every cell uses
	// the fallback synthesizer.
	Backend  Backend
	Fallback *Fallback
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// Concurrency bounds how many cells are resolved at once.
	Concurrency int

	Now   func() time.Time
	NewID func() string
}

// Generator produces scored responses for every cell and variation of a
// parameter grid. It holds no per-run state and is safe for concurrent use.
type Generator struct {
	backend     Backend
	fallback    *Fallback
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
	newID       func() string
}

func New(opts Options) *Generator {
	g := &Generator{
		backend:     opts.Backend,
		fallback:    opts.Fallback,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if g.fallback == nil {
		g.fallback = NewTimeSeededFallback()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.concurrency <= 0 {
		g.concurrency = 1
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	if g.newID == nil {
		g.newID = uuid.NewString
	}
	return g
}

// Live reports whether a live backend is configured.
func (g *Generator) Live() bool {
	return g.backend != nil
}

// BackendName returns the live backend's name, or "fallback".
func (g *Generator) BackendName() string {
	if g.backend == nil {
		return "fallback"
	}
	return g.backend.Name()
}

// Generate resolves every cell of grid and returns the scored responses
// grouped by cell in grid order, then by variation index. Live failures are
// absorbed per cell; the only error is a context already done on entry.
func (g *Generator) Generate(ctx context.Context, prompt, model string, grid []models.ParameterSet) ([]models.ScoredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	cells := make([][]models.ScoredResponse, len(grid))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, ps := range grid {
		eg.Go(func() error {
			outcome := g.resolveCell(ctx, prompt, model, ps)
			cells[i] = g.materialize(prompt, ps, outcome)
			return nil
		})
	}
	_ = eg.Wait()

	total := 0
	for _, cell := range cells {
		total += len(cell)
	}

	// Timestamps follow grid order, not completion order, so reads sorted
	// by created_at see the same order.
	responses := make([]models.ScoredResponse, 0, total)
	var last time.Time
	for _, cell := range cells {
		for _, r := range cell {
			ts := g.now()
			if ts.Before(last) {
				ts = last
			}
			last = ts
			r.CreatedAt = ts
			responses = append(responses, r)
		}
	}

	g.metrics.GenerationRun(g.Live())
	return responses, nil
}

func (g *Generator) resolveCell(ctx context.Context, prompt, model string, ps models.ParameterSet) CellOutcome {
	if g.backend == nil {
		return FallbackSubstituted{Reason: ReasonNoBackend}
	}

	start := time.Now()
	texts, err := g.backend.Complete(ctx, CompletionRequest{
		Model:             model,
		Prompt:            prompt,
		SystemInstruction: SystemInstruction,
		Temperature:       ps.Temperature,
		TopP:              ps.TopP,
		CandidateCount:    min(ps.Variations, MaxCandidatesPerCall),
	})
	g.metrics.BackendCall(g.backend.Name(), time.Since(start), err)
	if err != nil {
		g.logger.Error("live generation failed, using fallback responses",
			"backend", g.backend.Name(),
			"temperature", ps.Temperature,
			"top_p", ps.TopP,
			"error", err,
		)
		return FallbackSubstituted{Reason: ReasonBackendError, Err: err}
	}
	return LiveSuccess{Texts: texts}
}

func (g *Generator) materialize(prompt string, ps models.ParameterSet, outcome CellOutcome) []models.ScoredResponse {
	var texts []string
	switch o := outcome.(type) {
	case LiveSuccess:
		texts = o.Texts
		// Shortfalls are not backfilled; see DESIGN.md.
		if len(texts) < ps.Variations {
			g.metrics.LiveShortfall()
			g.logger.Warn("live backend returned fewer candidates than requested variations",
				"temperature", ps.Temperature,
				"top_p", ps.TopP,
				"returned", len(texts),
				"variations", ps.Variations,
			)
		}
	case FallbackSubstituted:
		g.metrics.FallbackCell(o.Reason)
		texts = g.fallback.Texts(prompt, ps)
	}

	responses := make([]models.ScoredResponse, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			text = fmt.Sprintf("No text returned from model for temperature %v and top_p %v.", ps.Temperature, ps.TopP)
		}
		m := Score(text, prompt)
		g.metrics.ObserveScore(m.Score)
		responses = append(responses, models.ScoredResponse{
			ID:             g.newID(),
			ParameterSet:   ps,
			VariationIndex: i,
			Text:           text,
			Metrics:        m,
		})
	}
	return responses
}
