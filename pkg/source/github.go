package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const githubSearchURL = "https://api.github.com/search/repositories"

type githubSearchResponse struct {
	Items []githubRepoItem `json:"items"`
}

type githubRepoItem struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
	Topics      []string `json:"topics"`
	UpdatedAt   string `json:"updated_at"`
	Stars       int    `json:"stargazers_count"`
}

// GitHubAdapter searches GitHub repositories sorted by stars descending
// (spec.md §4.2).
type GitHubAdapter struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewGitHubAdapter builds a GitHub repository-search adapter. token may be
// empty (public search, lower rate limits).
func NewGitHubAdapter(timeout time.Duration, token string) *GitHubAdapter {
	return &GitHubAdapter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    githubSearchURL,
		token:      token,
		logger:     slog.Default().With("component", "source-github"),
	}
}

// Tag implements Adapter.
func (g *GitHubAdapter) Tag() string { return TagGitHub }

// Search implements Adapter. GitHub's search API is page/per_page based, so
// a zero-based (start, maxResults) offset is mapped onto page math and any
// excess is trimmed client-side (spec.md §4.2).
func (g *GitHubAdapter) Search(ctx context.Context, query string, maxResults, start int) ([]Candidate, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	perPage := 100
	firstPage := start / perPage
	firstOffset := start % perPage

	var candidates []Candidate
	page := firstPage
	skip := firstOffset
	for len(candidates) < maxResults {
		items, err := g.searchPage(ctx, query, page, perPage)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		for _, it := range items {
			if skip > 0 {
				skip--
				continue
			}
			candidates = append(candidates, it)
			if len(candidates) >= maxResults {
				break
			}
		}
		if len(items) < perPage {
			break
		}
		page++
	}
	return candidates, nil
}

// IterAll implements Adapter.
func (g *GitHubAdapter) IterAll(ctx context.Context, query string, chunkSize, limit int) <-chan Item {
	return iterAllChunked(ctx, chunkSize, limit, func(ctx context.Context, start, size int) ([]Candidate, error) {
		return g.Search(ctx, query, size, start)
	})
}

func (g *GitHubAdapter) searchPage(ctx context.Context, query string, page, perPage int) ([]Candidate, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page+1)) // GitHub pages are 1-indexed

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("github: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed githubSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("github: decode response: %w", err)
	}

	candidates := make([]Candidate, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		var updated *time.Time
		if t, err := time.Parse(time.RFC3339, it.UpdatedAt); err == nil {
			updated = &t
		}
		categories := ""
		for i, t := range it.Topics {
			if i > 0 {
				categories += ","
			}
			categories += t
		}
		candidates = append(candidates, Candidate{
			SourceID:    it.FullName,
			SourceTag:   TagGitHub,
			Title:       it.FullName,
			Abstract:    it.Description,
			Categories:  categories,
			UpdatedAt:   updated,
			AbstractURL: it.HTMLURL,
		})
	}
	return candidates, nil
}
