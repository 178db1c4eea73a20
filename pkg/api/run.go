package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scholaragent/core/pkg/pipeline"
	"github.com/scholaragent/core/pkg/source"
	"github.com/scholaragent/core/pkg/store"
)

// runRequest is the POST /v1/run body (spec.md §6). gin's default binding
// validator (go-playground/validator, the same package the LLM schema structs
// in pkg/llm validate with) enforces the field constraints; a violation
// yields 422.
type runRequest struct {
	Query        string   `json:"query" binding:"required"`
	Categories   string   `json:"categories"`
	MaxQueries   int      `json:"max_queries" binding:"required,min=1,max=20"`
	BM25TopK     int      `json:"bm25_top_k" binding:"required,min=5,max=100"`
	MaxAnalyze   int      `json:"max_analyze" binding:"required,min=1,max=50"`
	MinRelevance int      `json:"min_relevance" binding:"min=0,max=100"`
	Queries      []string `json:"queries"`
}

// runResponse mirrors pipeline.Result, shaped for JSON rather than internal
// struct field names.
type runResponse struct {
	Task             string                    `json:"task"`
	GeneratedQueries []pipeline.GeneratedQuery `json:"generated_queries"`
	Analyzed         []pipeline.Analyzed       `json:"analyzed"`
	Selected         []pipeline.Selected       `json:"selected"`
	ShouldNotify     bool                      `json:"should_notify"`
	ReportText       string                    `json:"report_text,omitempty"`
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	t := pipeline.Task{
		Description:   req.Query,
		Categories:    req.Categories,
		MinRelevance:  req.MinRelevance,
		MaxQueries:    req.MaxQueries,
		PerQueryLimit: 50,
		BM25TopK:      req.BM25TopK,
		MaxAnalyze:    req.MaxAnalyze,
		DryRun:        true,
	}
	for _, q := range req.Queries {
		t.SuggestedQueries = append(t.SuggestedQueries, store.SearchQuery{
			QueryText: q,
			SourceTag: source.TagArxiv,
		})
	}

	result, err := s.pipeline.Run(c.Request.Context(), t)
	if err != nil {
		s.logger.Error("pipeline run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, runResponse{
		Task:             req.Query,
		GeneratedQueries: result.GeneratedQueries,
		Analyzed:         result.Analyzed,
		Selected:         result.Selected,
		ShouldNotify:     result.ShouldNotify,
		ReportText:       result.ReportText,
	})
}
