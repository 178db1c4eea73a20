package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/scholaragent/core/pkg/source"
)

// retrieve calls the matching adapter for each generated query and merges
// the results, deduplicating by source id with first-occurrence-wins
// (spec.md §4.5 Retrieval). A source adapter error is logged and that
// source contributes zero candidates; retrieval otherwise continues.
func (p *Pipeline) retrieve(ctx context.Context, queries []GeneratedQuery, perQueryLimit int) []source.Candidate {
	merged := p.retrieveOnce(ctx, queries, perQueryLimit)
	if len(merged) > 0 {
		return merged
	}

	p.logger.Warn("retrieval returned no candidates, retrying with broadened queries")
	broadened := make([]GeneratedQuery, 0, len(queries))
	for _, q := range queries {
		broadened = append(broadened, GeneratedQuery{
			Text:       broadenQuery(q.Text),
			SourceTag:  q.SourceTag,
			Categories: q.Categories,
		})
	}
	return p.retrieveOnce(ctx, broadened, perQueryLimit)
}

func (p *Pipeline) retrieveOnce(ctx context.Context, queries []GeneratedQuery, perQueryLimit int) []source.Candidate {
	seen := make(map[string]bool)
	var merged []source.Candidate

	for _, q := range queries {
		adapter, ok := p.registry.Get(q.SourceTag)
		if !ok {
			p.logger.Warn("no adapter registered for source tag, skipping query", "source_tag", q.SourceTag)
			continue
		}

		text := q.Text
		if q.Categories != "" {
			text = text + " (" + q.Categories + ")"
		}

		candidates, err := adapter.Search(ctx, text, perQueryLimit, 0)
		if err != nil {
			p.logger.Error("source adapter failed, contributing zero candidates", "source_tag", q.SourceTag, "error", err)
			continue
		}

		for _, c := range candidates {
			if seen[c.SourceID] {
				continue
			}
			seen[c.SourceID] = true
			merged = append(merged, c)
		}
	}
	return merged
}

var andClausePattern = regexp.MustCompile(`(?i)^(.*\S)\s+(?:AND|NOT)\s+\S.*$`)

// broadenQuery drops the query's trailing AND/NOT clause; if nothing
// changes, it falls back to the raw token stream (spec.md §4.5 Retrieval:
// "regenerate broader variants... by dropping the last AND-clause and by
// falling back to the raw token stream").
func broadenQuery(q string) string {
	stripped := andClausePattern.ReplaceAllString(q, "$1")
	stripped = strings.TrimSpace(stripped)
	if stripped != "" && stripped != strings.TrimSpace(q) {
		return stripped
	}
	return strings.Join(strings.Fields(q), " ")
}
