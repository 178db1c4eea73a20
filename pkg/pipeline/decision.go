package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scholaragent/core/pkg/llm"
)

const maxReportChars = 3000

var boostKeywords = []string{"code", "dataset", "benchmark"}

// decide scores each analyzed candidate, selects the qualifying top 3, and
// produces the human-facing report (spec.md §4.5 Decision).
func (p *Pipeline) decide(ctx context.Context, description string, minRelevance int, analyzed []Analyzed) Result {
	var selected []Selected
	for _, a := range analyzed {
		score := a.Relevance
		if containsAny(strings.ToLower(a.Summary), boostKeywords) {
			score += 5
			if score > 100 {
				score = 100
			}
		}
		if score >= float64(minRelevance) {
			selected = append(selected, Selected{Analyzed: a, Score: score})
		}
	}

	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Score > selected[j].Score })
	if len(selected) > 3 {
		selected = selected[:3]
	}

	result := Result{Analyzed: analyzed, Selected: selected}
	if len(selected) == 0 {
		result.ShouldNotify = false
		return result
	}

	result.ShouldNotify = true
	if p.gateway != nil {
		if report, err := p.generateReportWithAgent(ctx, description, selected); err == nil {
			result.ReportText = truncateReport(report)
			return result
		} else {
			p.logger.Warn("decision agent failed, assembling report locally", "error", err)
		}
	}
	result.ReportText = assembleReportLocally(description, selected)
	return result
}

func (p *Pipeline) generateReportWithAgent(ctx context.Context, description string, selected []Selected) (string, error) {
	system := "You write a concise, plain-text research update for a user, summarizing why each finding matters. " +
		"Keep the entire report under 3000 characters."
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nFindings:\n", description)
	for _, s := range selected {
		fmt.Fprintf(&b, "- %s (score %.0f): %s\n", s.Candidate.Title, s.Score, s.Summary)
	}

	var out llm.DecisionReport
	if err := p.gateway.Run(ctx, system, b.String(), &out); err != nil {
		return "", err
	}
	return out.ReportText, nil
}

// assembleReportLocally builds the fixed fallback template: a header line
// plus per-item title/why/link (spec.md §4.5).
func assembleReportLocally(description string, selected []Selected) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New findings for: %s\n\n", description)
	for _, s := range selected {
		fmt.Fprintf(&b, "%s\nWhy: %s\nLink: %s\n\n", s.Candidate.Title, s.Summary, linkFor(s))
	}
	return truncateReport(b.String())
}

func linkFor(s Selected) string {
	if s.Candidate.AbstractURL != "" {
		return s.Candidate.AbstractURL
	}
	return s.Candidate.PDFURL
}

func truncateReport(s string) string {
	if len(s) <= maxReportChars {
		return s
	}
	return s[:maxReportChars]
}
