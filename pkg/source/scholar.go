package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ScholarAdapter emits a site-restricted web query against a search proxy
// standing in for Google Scholar (spec.md §4.2) and parses the result list
// with goquery, since no native Scholar API is publicly available. Only
// title, url, and snippet are recoverable this way — no abstract, category,
// or timestamp data.
type ScholarAdapter struct {
	httpClient *http.Client
	proxyBase  string
	logger     *slog.Logger
}

// NewScholarAdapter builds a Scholar adapter against the given proxy base
// URL (e.g. DuckDuckGo's HTML endpoint).
func NewScholarAdapter(timeout time.Duration, proxyBase string) *ScholarAdapter {
	return &ScholarAdapter{
		httpClient: &http.Client{Timeout: timeout},
		proxyBase:  proxyBase,
		logger:     slog.Default().With("component", "source-scholar"),
	}
}

// Tag implements Adapter.
func (s *ScholarAdapter) Tag() string { return TagScholar }

// Search implements Adapter. Pagination is client-side: the proxy is
// over-fetched for start+maxResults results and the window is sliced out,
// since the underlying HTML proxy has no native offset parameter (spec.md
// §4.2).
func (s *ScholarAdapter) Search(ctx context.Context, query string, maxResults, start int) ([]Candidate, error) {
	fetchCount := start + maxResults
	all, err := s.fetch(ctx, query, fetchCount)
	if err != nil {
		return nil, err
	}
	if start >= len(all) {
		return nil, nil
	}
	end := start + maxResults
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// IterAll implements Adapter.
func (s *ScholarAdapter) IterAll(ctx context.Context, query string, chunkSize, limit int) <-chan Item {
	return iterAllChunked(ctx, chunkSize, limit, func(ctx context.Context, start, size int) ([]Candidate, error) {
		return s.Search(ctx, query, size, start)
	})
}

func (s *ScholarAdapter) fetch(ctx context.Context, query string, count int) ([]Candidate, error) {
	siteQuery := fmt.Sprintf("site:scholar.google.com %s", query)
	q := url.Values{}
	q.Set("q", siteQuery)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.proxyBase+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("scholar: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; research-agent/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scholar: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scholar: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scholar: parse html: %w", err)
	}

	var candidates []Candidate
	doc.Find(".result").Each(func(_ int, sel *goquery.Selection) {
		if count > 0 && len(candidates) >= count {
			return
		}
		titleSel := sel.Find(".result__title a").First()
		title := strings.TrimSpace(titleSel.Text())
		href, _ := titleSel.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())
		if title == "" || href == "" {
			return
		}
		candidates = append(candidates, Candidate{
			SourceID:    href,
			SourceTag:   TagScholar,
			Title:       title,
			Abstract:    snippet,
			AbstractURL: href,
		})
	})

	return candidates, nil
}
