package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scholaragent/core/pkg/llm"
	"github.com/scholaragent/core/pkg/ranker"
	"github.com/scholaragent/core/pkg/source"
)

// analyze runs the Analysis stage over the top maxAnalyze ranked candidates:
// LLM calls fan out under the gateway's semaphore, each preceded by a
// per-dispatch pacing delay to respect provider rate limits (spec.md §4.5,
// §5). A persisted cross-cycle lookup and a process-local cache both
// shortcut recomputation before any LLM call is attempted. byID recovers
// each ranked document's full source.Candidate (the ranker only carries the
// text fields it scores against).
func (p *Pipeline) analyze(ctx context.Context, t Task, description string, ranked []ranker.Scored, byID map[string]source.Candidate) []Analyzed {
	top := ranker.TopK(ranked, t.MaxAnalyze)

	results := make([]Analyzed, len(top))
	var wg sync.WaitGroup
	for i, scored := range top {
		i, scored := i, scored
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.analyzeOne(ctx, t, description, scored, byID[scored.Document.SourceID])
		}()
		if p.pacing > 0 && i < len(top)-1 {
			time.Sleep(p.pacing)
		}
	}
	wg.Wait()
	return results
}

func (p *Pipeline) analyzeOne(ctx context.Context, t Task, description string, scored ranker.Scored, candidate source.Candidate) Analyzed {
	base := Analyzed{
		Candidate: candidate,
		BM25Score: scored.Score,
	}

	if existing, ok := p.reusePersistedAnalysis(ctx, t.TaskID, candidate.SourceID); ok {
		base.Relevance, base.Summary, base.KeyFragments, base.Reasoning = existing.relevance, existing.summary, existing.keyFragments, existing.reasoning
		return base
	}

	key := cacheKey(description, candidate.SourceID)
	if entry, ok := p.cache.get(key); ok {
		base.Relevance, base.Summary, base.KeyFragments, base.Reasoning = entry.relevance, entry.summary, entry.keyFragments, entry.reasoning
		return base
	}

	if p.llmCfg.UseAgentAnalyze && p.gateway != nil {
		if out, err := p.analyzeWithAgent(ctx, description, candidate); err == nil {
			base.Relevance, base.Summary, base.KeyFragments, base.Reasoning = out.Relevance, out.Summary, out.KeyFragments, out.Reasoning
			p.cache.put(key, cacheEntry{relevance: base.Relevance, summary: base.Summary, keyFragments: base.KeyFragments, reasoning: base.Reasoning})
			return base
		} else {
			p.logger.Warn("analysis agent failed, falling back to heuristic", "source_id", candidate.SourceID, "error", err)
		}
	}

	base.Relevance, base.Summary = p.analyzeHeuristic(description, candidate, scored.Score)
	p.cache.put(key, cacheEntry{relevance: base.Relevance, summary: base.Summary})
	return base
}

// reusePersistedAnalysis checks whether this source id was already analyzed
// for this task in an earlier cycle, per the Open Question decision to skip
// duplicate LLM analysis for the same (paper, task) pair.
func (p *Pipeline) reusePersistedAnalysis(ctx context.Context, taskID int64, sourceID string) (cacheEntry, bool) {
	paper, err := p.store.PaperBySourceID(ctx, sourceID)
	if err != nil || paper == nil {
		return cacheEntry{}, false
	}
	existing, err := p.store.ExistingAnalysis(ctx, paper.ID, taskID)
	if err != nil || existing == nil {
		return cacheEntry{}, false
	}
	entry := cacheEntry{relevance: existing.Relevance, summary: existing.Summary}
	if existing.KeyFragments != nil {
		entry.keyFragments = strings.Split(*existing.KeyFragments, "|")
	}
	if existing.Reasoning != nil {
		entry.reasoning = *existing.Reasoning
	}
	return entry, true
}

func (p *Pipeline) analyzeWithAgent(ctx context.Context, description string, c source.Candidate) (llm.AnalysisAgentOutput, error) {
	system := "You judge how relevant a candidate paper or repository is to a research task. " +
		"Score relevance from 0 (irrelevant) to 100 (perfectly on-topic)."
	user := fmt.Sprintf("Task: %s\n\nCandidate title: %s\nCandidate abstract: %s", description, c.Title, c.Abstract)

	var out llm.AnalysisAgentOutput
	err := p.gateway.Run(ctx, system, user, &out)
	return out, err
}

// analyzeHeuristic implements spec.md §4.5's fallback: relevance =
// 0.7*token-overlap + 0.3*clamp(bm25, 0, 100).
func (p *Pipeline) analyzeHeuristic(description string, c source.Candidate, bm25Score float64) (float64, string) {
	overlap := tokenOverlap(description, c.Title+" "+c.Abstract)
	clamped := bm25Score
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 100 {
		clamped = 100
	}
	relevance := 0.7*overlap*100 + 0.3*clamped

	summary := c.Abstract
	if summary == "" {
		summary = c.Title
	}
	if len(summary) > 280 {
		summary = summary[:280]
	}
	return relevance, summary
}

// tokenOverlap returns the Jaccard overlap in [0,1] between the lowercase
// word tokens of a and b.
func tokenOverlap(a, b string) float64 {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	var intersection int
	for t := range aTokens {
		if bTokens[t] {
			intersection++
		}
	}
	union := len(aTokens) + len(bTokens) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, ".,;:()[]{}\"'")] = true
	}
	return set
}
