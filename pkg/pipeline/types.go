// Package pipeline runs one research cycle against one task: Strategy,
// Retrieval, Ranking, Analysis, and Decision (spec.md §4.5). It implements
// scheduler.CycleExecutor so the worker pool can drive it without knowing
// anything about sources, ranking, or the LLM gateway.
package pipeline

import (
	"github.com/scholaragent/core/pkg/source"
	"github.com/scholaragent/core/pkg/store"
)

// Task is the pipeline's view of one cycle's input, composed by the caller
// from the durable Task plus per-user settings and any persisted
// user-suggested queries (spec.md §4.6 step 4).
type Task struct {
	TaskID           int64
	Description      string
	MinRelevance     int
	Categories       string
	SuggestedQueries []store.SearchQuery
	MaxQueries       int
	PerQueryLimit    int
	BM25TopK         int
	MaxAnalyze       int
	DryRun           bool
}

// GeneratedQuery is one Strategy-stage output item.
type GeneratedQuery struct {
	Text       string
	SourceTag  string
	Categories string
}

// Analyzed pairs a retrieved candidate with its ranking and analysis output.
type Analyzed struct {
	Candidate    source.Candidate
	BM25Score    float64
	Relevance    float64
	Summary      string
	KeyFragments []string
	Reasoning    string
}

// Selected is an Analyzed item that passed Decision-stage scoring.
type Selected struct {
	Analyzed
	Score float64
}

// Result is the pipeline's full output for one cycle (spec.md §4.5).
type Result struct {
	GeneratedQueries []GeneratedQuery
	Analyzed         []Analyzed
	Selected         []Selected
	ShouldNotify     bool
	ReportText       string
}
