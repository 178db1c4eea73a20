package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/scholaragent/core/pkg/llm"
	"github.com/scholaragent/core/pkg/source"
)

// biomedicalKeywords, codeKeywords, and surveyKeywords drive the heuristic
// source-tag inference used when the LLM strategy agent is unavailable
// (spec.md §4.5 Strategy).
var biomedicalKeywords = []string{"clinical", "biomedical", "patient", "disease", "clinical trial", "gene", "protein"}
var codeKeywords = []string{"code", "github", "stars", "repository", "implementation"}
var surveyKeywords = []string{"survey", "review"}

// strategize produces the ordered list of (query_text, source_tag,
// categories) items for one cycle. User-suggested queries (persisted on the
// task) are consulted first; the LLM agent or heuristic fallback fills any
// remaining budget up to MaxQueries.
func (p *Pipeline) strategize(ctx context.Context, t Task) []GeneratedQuery {
	queries := make([]GeneratedQuery, 0, t.MaxQueries)
	for _, sq := range t.SuggestedQueries {
		if len(queries) >= t.MaxQueries {
			return queries
		}
		queries = append(queries, GeneratedQuery{Text: sq.QueryText, SourceTag: sq.SourceTag, Categories: sq.Categories})
	}
	remaining := t.MaxQueries - len(queries)
	if remaining <= 0 {
		return queries
	}

	if p.llmCfg.UseAgentStrategy && p.gateway != nil {
		if generated, err := p.strategizeWithAgent(ctx, t, remaining); err == nil {
			return append(queries, generated...)
		} else {
			p.logger.Warn("strategy agent failed, falling back to heuristic", "task_id", t.TaskID, "error", err)
		}
	}

	return append(queries, p.strategizeHeuristic(t.Description, t.Categories, remaining)...)
}

func (p *Pipeline) strategizeWithAgent(ctx context.Context, t Task, remaining int) ([]GeneratedQuery, error) {
	system := "You plan literature-search queries for an autonomous research assistant. " +
		"Propose concrete, high-signal queries across arxiv, scholar, pubmed, and github as appropriate."
	user := fmt.Sprintf("Task: %s\nCategory constraints: %s\nMaximum queries: %d", t.Description, t.Categories, remaining)

	var plan llm.QueryPlan
	if err := p.gateway.Run(ctx, system, user, &plan); err != nil {
		return nil, err
	}

	out := make([]GeneratedQuery, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		if len(out) >= remaining {
			break
		}
		out = append(out, GeneratedQuery{Text: q.Text, SourceTag: q.SourceTag, Categories: q.Categories})
	}
	return out, nil
}

// strategizeHeuristic implements the deterministic four-variant fallback
// (spec.md §4.5): direct; survey/review; benchmark/dataset/code; NOT
// theory-only, with source tags inferred from keyword heuristics.
func (p *Pipeline) strategizeHeuristic(description, categories string, remaining int) []GeneratedQuery {
	variants := []string{
		description,
		fmt.Sprintf("%s AND (survey OR review)", description),
		fmt.Sprintf("%s AND (benchmark OR dataset OR code)", description),
		fmt.Sprintf("%s NOT theory-only", description),
	}

	out := make([]GeneratedQuery, 0, len(variants))
	for _, v := range variants {
		if len(out) >= remaining {
			break
		}
		out = append(out, GeneratedQuery{Text: v, SourceTag: inferSourceTag(description), Categories: categories})
	}
	return out
}

// inferSourceTag applies the keyword heuristics from spec.md §4.5:
// clinical/biomedical -> pubmed; code/github/stars -> github;
// survey/review -> scholar; else arxiv.
func inferSourceTag(description string) string {
	lower := strings.ToLower(description)
	if containsAny(lower, biomedicalKeywords) {
		return source.TagPubMed
	}
	if containsAny(lower, codeKeywords) {
		return source.TagGitHub
	}
	if containsAny(lower, surveyKeywords) {
		return source.TagScholar
	}
	return source.TagArxiv
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
