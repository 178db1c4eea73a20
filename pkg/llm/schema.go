package llm

// QueryPlan is the Strategy stage's structured output: a set of search
// queries to run against one or more sources (spec.md §4.2).
type QueryPlan struct {
	Queries []PlannedQuery `json:"queries" validate:"required,min=1,max=10,dive"`
}

// PlannedQuery is one query within a QueryPlan.
type PlannedQuery struct {
	Text       string `json:"text" validate:"required,min=1"`
	SourceTag  string `json:"source_tag" validate:"required,oneof=arxiv scholar pubmed github"`
	Categories string `json:"categories,omitempty"`
}

// AnalysisAgentOutput is the Analysis stage's structured output for one
// paper against one task (spec.md §4.4).
type AnalysisAgentOutput struct {
	Relevance    float64  `json:"relevance" validate:"min=0,max=100"`
	Summary      string   `json:"summary" validate:"required"`
	KeyFragments []string `json:"key_fragments,omitempty" validate:"omitempty,max=10,dive,required"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

// TopicAnalysis is the per-paper breakdown embedded in a DecisionReport.
type TopicAnalysis struct {
	Title     string  `json:"title" validate:"required"`
	Relevance float64 `json:"relevance" validate:"min=0,max=100"`
	Summary   string  `json:"summary" validate:"required"`
}

// DecisionReport is the Decision stage's structured output: the final,
// human-readable report text plus the topics selected for findings
// (spec.md §4.5).
type DecisionReport struct {
	ReportText string          `json:"report_text" validate:"required"`
	Topics     []TopicAnalysis `json:"topics" validate:"omitempty,max=3,dive"`
}
