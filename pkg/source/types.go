// Package source implements the four external scholarly-source adapters
// (spec.md §4.2): arXiv, Google Scholar (via a web-search proxy), PubMed,
// and GitHub repositories. Each adapter speaks the same interface so the
// Retrieval pipeline stage never special-cases a source.
package source

import (
	"context"
	"time"
)

// Candidate is the source-agnostic record an adapter returns: a stable id
// (arXiv id, PubMed id, repo id, or canonical URL), title, abstract/snippet,
// optional categories and timestamp, and link fields.
type Candidate struct {
	SourceID    string
	SourceTag   string
	Title       string
	Abstract    string
	Categories  string
	UpdatedAt   *time.Time
	AbstractURL string
	PDFURL      string
}

// Item pairs a Candidate with an error, used by IterAll to surface a
// mid-stream failure without killing the channel silently.
type Item struct {
	Candidate Candidate
	Err       error
}

// Adapter is the uniform interface every source implements (spec.md §4.2).
// The adapter set is closed: new sources are added by implementing this
// interface and registering a Tag in {arxiv, scholar, pubmed, github}.
type Adapter interface {
	Tag() string

	// Search returns up to maxResults candidates starting at the
	// source-native offset start.
	Search(ctx context.Context, query string, maxResults, start int) ([]Candidate, error)

	// IterAll lazily walks the full result set in chunkSize pages, stopping
	// when the source reports no further results or limit items have been
	// produced (limit <= 0 means unbounded). The returned channel is closed
	// when iteration ends; each call starts a fresh sequence from start=0.
	IterAll(ctx context.Context, query string, chunkSize, limit int) <-chan Item
}

// Source tags, the closed set referenced throughout the pipeline.
const (
	TagArxiv   = "arxiv"
	TagScholar = "scholar"
	TagPubMed  = "pubmed"
	TagGitHub  = "github"
)

// Registry resolves a source tag to its Adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from a set of adapters, keyed by their Tag.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Tag()] = a
	}
	return r
}

// Get resolves a tag to its Adapter; ok is false for an unregistered tag.
func (r *Registry) Get(tag string) (Adapter, bool) {
	a, ok := r.adapters[tag]
	return a, ok
}

// Tags returns every registered source tag.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		tags = append(tags, t)
	}
	return tags
}

// iterAllChunked is the shared lazy-pagination loop used by every adapter:
// it repeatedly calls search for successive chunkSize pages, starting at
// offset 0, until the source returns fewer than chunkSize results (end of
// data) or limit items have been emitted.
func iterAllChunked(ctx context.Context, chunkSize, limit int, search func(ctx context.Context, start, size int) ([]Candidate, error)) <-chan Item {
	out := make(chan Item)
	if chunkSize <= 0 {
		chunkSize = 20
	}
	go func() {
		defer close(out)
		start := 0
		emitted := 0
		for {
			if ctx.Err() != nil {
				return
			}
			page, err := search(ctx, start, chunkSize)
			if err != nil {
				select {
				case out <- Item{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			for _, c := range page {
				if limit > 0 && emitted >= limit {
					return
				}
				select {
				case out <- Item{Candidate: c}:
					emitted++
				case <-ctx.Done():
					return
				}
			}
			if len(page) < chunkSize {
				return
			}
			start += chunkSize
		}
	}()
	return out
}
