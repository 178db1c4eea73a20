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
	"strings"
	"time"
)

const (
	pubmedESearchURL  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	pubmedESummaryURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi"
)

type pubmedESearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedESummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type pubmedSummary struct {
	UID     string `json:"uid"`
	Title   string `json:"title"`
	PubDate string `json:"pubdate"`
	Source  string `json:"fulljournalname"`
}

// PubMedAdapter implements the two-step E-utilities call (spec.md §4.2):
// esearch for an id list, then esummary for the article metadata.
type PubMedAdapter struct {
	httpClient  *http.Client
	esearchURL  string
	esummaryURL string
	apiKey      string
	logger      *slog.Logger
}

// NewPubMedAdapter builds a PubMed adapter. apiKey may be empty (lower rate
// limits apply).
func NewPubMedAdapter(timeout time.Duration, apiKey string) *PubMedAdapter {
	return &PubMedAdapter{
		httpClient:  &http.Client{Timeout: timeout},
		esearchURL:  pubmedESearchURL,
		esummaryURL: pubmedESummaryURL,
		apiKey:      apiKey,
		logger:      slog.Default().With("component", "source-pubmed"),
	}
}

// Tag implements Adapter.
func (p *PubMedAdapter) Tag() string { return TagPubMed }

// Search implements Adapter; start maps to esearch's retstart parameter.
func (p *PubMedAdapter) Search(ctx context.Context, query string, maxResults, start int) ([]Candidate, error) {
	ids, err := p.esearch(ctx, query, maxResults, start)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return p.esummary(ctx, ids)
}

// IterAll implements Adapter.
func (p *PubMedAdapter) IterAll(ctx context.Context, query string, chunkSize, limit int) <-chan Item {
	return iterAllChunked(ctx, chunkSize, limit, func(ctx context.Context, start, size int) ([]Candidate, error) {
		return p.Search(ctx, query, size, start)
	})
}

func (p *PubMedAdapter) esearch(ctx context.Context, query string, retmax, retstart int) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(retmax))
	q.Set("retstart", strconv.Itoa(retstart))
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}

	var parsed pubmedESearchResponse
	if err := p.getJSON(ctx, p.esearchURL+"?"+q.Encode(), &parsed); err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}
	return parsed.ESearchResult.IDList, nil
}

func (p *PubMedAdapter) esummary(ctx context.Context, ids []string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("id", strings.Join(ids, ","))
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}

	var parsed pubmedESummaryResponse
	if err := p.getJSON(ctx, p.esummaryURL+"?"+q.Encode(), &parsed); err != nil {
		return nil, fmt.Errorf("pubmed esummary: %w", err)
	}

	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		raw, ok := parsed.Result[id]
		if !ok {
			continue
		}
		var s pubmedSummary
		if err := json.Unmarshal(raw, &s); err != nil {
			p.logger.Warn("pubmed: skipping malformed summary", "uid", id, "error", err)
			continue
		}
		candidates = append(candidates, Candidate{
			SourceID:    "pubmed:" + s.UID,
			SourceTag:   TagPubMed,
			Title:       s.Title,
			Abstract:    "",
			Categories:  s.Source,
			UpdatedAt:   parsePubDate(s.PubDate),
			AbstractURL: "https://pubmed.ncbi.nlm.nih.gov/" + s.UID + "/",
		})
	}
	return candidates, nil
}

func (p *PubMedAdapter) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parsePubDate accepts PubMed's loose pubdate formats ("2023", "2023 Jun",
// "2023 Jun 5"), falling back to nil when nothing parses.
func parsePubDate(s string) *time.Time {
	for _, layout := range []string{"2006 Jan 2", "2006 Jan", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
