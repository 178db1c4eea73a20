package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scholaragent/core/pkg/config"
	"github.com/scholaragent/core/pkg/llm"
	"github.com/scholaragent/core/pkg/ranker"
	"github.com/scholaragent/core/pkg/scheduler"
	"github.com/scholaragent/core/pkg/source"
	"github.com/scholaragent/core/pkg/store"
)

// Pipeline runs one full research cycle: Strategy, Retrieval, Ranking,
// Analysis, and Decision (spec.md §4.5). It implements
// scheduler.CycleExecutor.
type Pipeline struct {
	registry *source.Registry
	gateway  *llm.Gateway
	store    *store.Store
	cfg      config.PipelineConfig
	llmCfg   config.LLMConfig
	pacing   time.Duration
	dryRun   bool
	cache    *analysisCache
	logger   *slog.Logger
}

// New builds a Pipeline. gateway may be nil, in which case every stage uses
// its heuristic fallback path (spec.md §7 "LLM unavailable").
func New(registry *source.Registry, gateway *llm.Gateway, st *store.Store, cfg config.PipelineConfig, llmCfg config.LLMConfig, pacing time.Duration, dryRun bool) *Pipeline {
	return &Pipeline{
		registry: registry,
		gateway:  gateway,
		store:    st,
		cfg:      cfg,
		llmCfg:   llmCfg,
		pacing:   pacing,
		dryRun:   dryRun,
		cache:    newAnalysisCache(cfg.AnalysisCacheSize),
		logger:   slog.Default().With("component", "pipeline"),
	}
}

// Run executes one cycle against t and returns the full pipeline output,
// without touching durable storage beyond the Analysis-stage's persisted
// skip-duplicate lookup. Persistence of selected findings is the caller's
// responsibility (spec.md §4.6 step 7), kept outside Run so the REST façade
// can run a cycle synchronously without side effects.
func (p *Pipeline) Run(ctx context.Context, t Task) (*Result, error) {
	queries := p.strategize(ctx, t)
	if len(queries) == 0 {
		return &Result{GeneratedQueries: queries}, fmt.Errorf("strategy produced no queries")
	}

	candidates := p.retrieve(ctx, queries, t.PerQueryLimit)

	docs := make([]ranker.Document, len(candidates))
	byID := make(map[string]source.Candidate, len(candidates))
	for i, c := range candidates {
		docs[i] = ranker.Document{SourceID: c.SourceID, Title: c.Title, Abstract: c.Abstract, UpdatedAt: c.UpdatedAt}
		byID[c.SourceID] = c
	}
	ranked := ranker.TopK(ranker.Rank(t.Description, docs), t.BM25TopK)

	analyzed := p.analyze(ctx, t, t.Description, ranked, byID)

	result := p.decide(ctx, t.Description, t.MinRelevance, analyzed)
	result.GeneratedQueries = queries
	return &result, nil
}

// Execute implements scheduler.CycleExecutor. It composes a pipeline Task
// from the durable task plus per-user settings and persisted suggested
// queries, runs one cycle, persists selected findings unless DryRun is set,
// and reports the outcome for the worker's completion bookkeeping.
func (p *Pipeline) Execute(ctx context.Context, task *store.Task) *scheduler.CycleResult {
	pt, err := p.composeTask(ctx, task)
	if err != nil {
		return &scheduler.CycleResult{Err: fmt.Errorf("compose pipeline task: %w", err)}
	}

	result, err := p.Run(ctx, pt)
	if err != nil {
		return &scheduler.CycleResult{Err: err}
	}

	if !pt.DryRun {
		if err := p.persistSelected(ctx, task.ID, result.Selected); err != nil {
			return &scheduler.CycleResult{Err: fmt.Errorf("persist findings: %w", err)}
		}
	}

	cr := &scheduler.CycleResult{FindingCount: len(result.Selected)}
	if result.ShouldNotify {
		cr.ReportText = result.ReportText
	}
	return cr
}

func (p *Pipeline) composeTask(ctx context.Context, task *store.Task) (Task, error) {
	settings, err := p.store.UserSettings(ctx, task.UserID)
	if err != nil {
		return Task{}, fmt.Errorf("load user settings: %w", err)
	}
	suggested, err := p.store.SuggestedQueries(ctx, task.ID)
	if err != nil {
		return Task{}, fmt.Errorf("load suggested queries: %w", err)
	}

	return Task{
		TaskID:           task.ID,
		Description:      task.Description,
		MinRelevance:     settings.MinRelevance,
		SuggestedQueries: suggested,
		MaxQueries:       p.cfg.MaxQueries,
		PerQueryLimit:    p.cfg.PerQueryLimit,
		BM25TopK:         p.cfg.BM25TopK,
		MaxAnalyze:       p.cfg.MaxAnalyze,
		DryRun:           p.dryRun,
	}, nil
}

// persistSelected implements spec.md §4.6 step 7: upsert the paper, record
// the analysis, and create a finding for every selected item.
func (p *Pipeline) persistSelected(ctx context.Context, taskID int64, selected []Selected) error {
	for _, s := range selected {
		paper, err := p.store.UpsertPaper(ctx, store.PaperRecord{
			SourceID:    s.Candidate.SourceID,
			Title:       s.Candidate.Title,
			Abstract:    s.Candidate.Abstract,
			Categories:  s.Candidate.Categories,
			UpdatedAt:   s.Candidate.UpdatedAt,
			AbstractURL: s.Candidate.AbstractURL,
			PDFURL:      s.Candidate.PDFURL,
		})
		if err != nil {
			return fmt.Errorf("upsert paper %s: %w", s.Candidate.SourceID, err)
		}

		var keyFragments *string
		if len(s.KeyFragments) > 0 {
			joined := joinFragments(s.KeyFragments)
			keyFragments = &joined
		}
		var reasoning *string
		if s.Reasoning != "" {
			reasoning = &s.Reasoning
		}

		if _, err := p.store.RecordAnalysis(ctx, store.Analysis{
			PaperID:      paper.ID,
			TaskID:       taskID,
			Relevance:    s.Relevance,
			Summary:      s.Summary,
			KeyFragments: keyFragments,
			Reasoning:    reasoning,
			Status:       store.AnalysisAnalyzed,
		}); err != nil {
			return fmt.Errorf("record analysis for paper %d: %w", paper.ID, err)
		}

		if _, err := p.store.CreateFinding(ctx, taskID, paper.ID, s.Score, s.Summary); err != nil {
			return fmt.Errorf("create finding for paper %d: %w", paper.ID, err)
		}
	}
	return nil
}

func joinFragments(fragments []string) string {
	out := fragments[0]
	for _, f := range fragments[1:] {
		out += "|" + f
	}
	return out
}
