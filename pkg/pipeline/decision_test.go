package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/scholaragent/core/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzedFixture(sourceID string, relevance float64, summary string) Analyzed {
	return Analyzed{
		Candidate: source.Candidate{SourceID: sourceID, Title: "title-" + sourceID, AbstractURL: "https://example.com/" + sourceID},
		Relevance: relevance,
		Summary:   summary,
	}
}

func TestDecideSelectsOnlyItemsAtOrAboveMinRelevance(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	analyzed := []Analyzed{
		analyzedFixture("a", 90, "great fit"),
		analyzedFixture("b", 40, "poor fit"),
	}
	result := p.decide(context.Background(), "task", 50, analyzed)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, "a", result.Selected[0].Candidate.SourceID)
	assert.True(t, result.ShouldNotify)
}

func TestDecideReturnsNoNotificationWhenNothingQualifies(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	analyzed := []Analyzed{analyzedFixture("a", 10, "weak")}
	result := p.decide(context.Background(), "task", 50, analyzed)

	assert.False(t, result.ShouldNotify)
	assert.Empty(t, result.Selected)
	assert.Empty(t, result.ReportText)
}

func TestDecideBoostsScoreForCodeDatasetBenchmarkMentions(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	analyzed := []Analyzed{analyzedFixture("a", 90, "includes code and a public dataset")}
	result := p.decide(context.Background(), "task", 50, analyzed)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, 95.0, result.Selected[0].Score)
}

func TestDecideBoostClampsAtHundred(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	analyzed := []Analyzed{analyzedFixture("a", 98, "benchmark included")}
	result := p.decide(context.Background(), "task", 50, analyzed)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, 100.0, result.Selected[0].Score)
}

func TestDecideSelectsTopThreeByScore(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	analyzed := []Analyzed{
		analyzedFixture("a", 60, ""),
		analyzedFixture("b", 95, ""),
		analyzedFixture("c", 80, ""),
		analyzedFixture("d", 70, ""),
	}
	result := p.decide(context.Background(), "task", 50, analyzed)

	require.Len(t, result.Selected, 3)
	assert.Equal(t, "b", result.Selected[0].Candidate.SourceID)
	assert.Equal(t, "c", result.Selected[1].Candidate.SourceID)
	assert.Equal(t, "d", result.Selected[2].Candidate.SourceID)
}

func TestDecideUsesLocalTemplateWhenGatewayNil(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	analyzed := []Analyzed{analyzedFixture("a", 90, "a good match")}
	result := p.decide(context.Background(), "graph learning", 50, analyzed)

	assert.Contains(t, result.ReportText, "graph learning")
	assert.Contains(t, result.ReportText, "title-a")
	assert.Contains(t, result.ReportText, "a good match")
	assert.Contains(t, result.ReportText, "https://example.com/a")
}

func TestAssembleReportLocallyTruncatesToMaxChars(t *testing.T) {
	selected := []Selected{{Analyzed: analyzedFixture("a", 90, strings.Repeat("x", 4000))}}
	report := assembleReportLocally("task", selected)
	assert.LessOrEqual(t, len(report), maxReportChars)
}

func TestLinkForPrefersAbstractURLOverPDFURL(t *testing.T) {
	s := Selected{Analyzed: Analyzed{Candidate: source.Candidate{AbstractURL: "https://abs", PDFURL: "https://pdf"}}}
	assert.Equal(t, "https://abs", linkFor(s))
}

func TestLinkForFallsBackToPDFURL(t *testing.T) {
	s := Selected{Analyzed: Analyzed{Candidate: source.Candidate{PDFURL: "https://pdf"}}}
	assert.Equal(t, "https://pdf", linkFor(s))
}
