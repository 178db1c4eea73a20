package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const arxivBaseURL = "http://export.arxiv.org/api/query"

// arxivFeed is the Atom response shape from export.arxiv.org/api/query.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string         `xml:"id"`
	Title     string         `xml:"title"`
	Summary   string         `xml:"summary"`
	Updated   string         `xml:"updated"`
	Links     []arxivLink    `xml:"link"`
	Categories []arxivCategory `xml:"category"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type arxivCategory struct {
	Term string `xml:"term,attr"`
}

// noiseTokens are stripped from a raw query before it is sent to arXiv
// (spec.md §4.2: "strips proximity operators and noise tokens").
var noiseTokens = []string{"pdf", "document", "doc"}

var proximityOperatorPattern = regexp.MustCompile(`(?i)\bNEAR/\d+\b|\bONEAR/\d+\b`)
var emptyParensPattern = regexp.MustCompile(`\(\s*\)`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeArxivQuery strips proximity operators and noise tokens, removes
// stray empty parentheses, and collapses whitespace (spec.md §4.2).
func normalizeArxivQuery(raw string) string {
	q := proximityOperatorPattern.ReplaceAllString(raw, " ")
	words := strings.Fields(q)
	filtered := words[:0]
	for _, w := range words {
		lower := strings.ToLower(strings.Trim(w, "()"))
		noise := false
		for _, n := range noiseTokens {
			if lower == n {
				noise = true
				break
			}
		}
		if !noise {
			filtered = append(filtered, w)
		}
	}
	q = strings.Join(filtered, " ")
	q = emptyParensPattern.ReplaceAllString(q, " ")
	q = whitespacePattern.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// ArxivAdapter queries the arXiv Atom API.
type ArxivAdapter struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewArxivAdapter builds an arXiv adapter with the given request timeout.
func NewArxivAdapter(timeout time.Duration) *ArxivAdapter {
	return &ArxivAdapter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    arxivBaseURL,
		logger:     slog.Default().With("component", "source-arxiv"),
	}
}

// Tag implements Adapter.
func (a *ArxivAdapter) Tag() string { return TagArxiv }

// Search implements Adapter. categories, if any were joined into the query
// by the caller, are expected to already be OR-joined search terms.
func (a *ArxivAdapter) Search(ctx context.Context, query string, maxResults, start int) ([]Candidate, error) {
	normalized := normalizeArxivQuery(query)
	if normalized == "" {
		return nil, fmt.Errorf("arxiv: empty query after normalization")
	}

	q := url.Values{}
	q.Set("search_query", "all:"+normalized)
	q.Set("start", strconv.Itoa(start))
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("sortBy", "relevance")

	reqURL := a.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: build request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("arxiv: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv: decode atom feed: %w", err)
	}

	candidates := make([]Candidate, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		candidates = append(candidates, entryToCandidate(e))
	}
	return candidates, nil
}

// IterAll implements Adapter.
func (a *ArxivAdapter) IterAll(ctx context.Context, query string, chunkSize, limit int) <-chan Item {
	return iterAllChunked(ctx, chunkSize, limit, func(ctx context.Context, start, size int) ([]Candidate, error) {
		return a.Search(ctx, query, size, start)
	})
}

func entryToCandidate(e arxivEntry) Candidate {
	var updated *time.Time
	if t, err := time.Parse(time.RFC3339, e.Updated); err == nil {
		updated = &t
	}

	var pdfURL, abstractURL string
	for _, l := range e.Links {
		switch {
		case l.Type == "application/pdf":
			pdfURL = l.Href
		case l.Rel == "alternate":
			abstractURL = l.Href
		}
	}

	cats := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		cats = append(cats, c.Term)
	}

	return Candidate{
		SourceID:    strings.TrimSpace(e.ID),
		SourceTag:   TagArxiv,
		Title:       strings.Join(strings.Fields(e.Title), " "),
		Abstract:    strings.Join(strings.Fields(e.Summary), " "),
		Categories:  strings.Join(cats, ","),
		UpdatedAt:   updated,
		AbstractURL: abstractURL,
		PDFURL:      pdfURL,
	}
}
