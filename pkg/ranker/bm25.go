// Package ranker scores retrieved papers against a task's search terms
// using BM25 (spec.md §4.3 "Ranking"). No ranking library exists anywhere
// in the retrieval corpus consulted for this project, so this is a
// deliberate, self-contained standard-library implementation rather than a
// gap in dependency coverage — see DESIGN.md.
package ranker

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// BM25 parameters (spec.md §4.3): k1 controls term-frequency saturation, b
// controls document-length normalization.
const (
	k1 = 1.5
	b  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Document is one paper's text to be scored, identified by SourceID.
type Document struct {
	SourceID  string
	Title     string
	Abstract  string
	UpdatedAt *time.Time
}

// Scored pairs a Document with its BM25 score.
type Scored struct {
	Document Document
	Score    float64
}

// tokenize lowercases and splits on runs of non-alphanumeric characters.
func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

// corpusDoc is the internal tokenized representation used while scoring.
type corpusDoc struct {
	doc    Document
	tokens []string
	freq   map[string]int
}

// Rank scores every document against the query terms and returns them
// ordered by descending score. Ties break by most-recently-updated first,
// then by SourceID for full determinism (spec.md §8 "stable ranking").
func Rank(query string, docs []Document) []Scored {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(docs) == 0 {
		out := make([]Scored, len(docs))
		for i, d := range docs {
			out[i] = Scored{Document: d}
		}
		return out
	}

	corpus := make([]corpusDoc, len(docs))
	var totalLen float64
	df := make(map[string]int) // document frequency per term

	seenTerms := make(map[string]bool, len(queryTerms))
	uniqueTerms := make([]string, 0, len(queryTerms))
	for _, t := range queryTerms {
		if !seenTerms[t] {
			seenTerms[t] = true
			uniqueTerms = append(uniqueTerms, t)
		}
	}

	for i, d := range docs {
		text := d.Title + " " + d.Abstract
		tokens := tokenize(text)
		freq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		corpus[i] = corpusDoc{doc: d, tokens: tokens, freq: freq}
		totalLen += float64(len(tokens))

		for _, term := range uniqueTerms {
			if freq[term] > 0 {
				df[term]++
			}
		}
	}

	n := float64(len(docs))
	avgLen := totalLen / n

	idf := make(map[string]float64, len(uniqueTerms))
	for _, term := range uniqueTerms {
		// BM25 idf with +1 smoothing, which keeps the value positive even for
		// terms appearing in more than half the corpus; the clamp at 0 is
		// only a guard.
		v := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
		if v < 0 {
			v = 0
		}
		idf[term] = v
	}

	results := make([]Scored, len(docs))
	for i, cd := range corpus {
		docLen := float64(len(cd.tokens))
		var score float64
		for _, term := range uniqueTerms {
			tf := float64(cd.freq[term])
			if tf == 0 {
				continue
			}
			numerator := tf * (k1 + 1)
			denominator := tf + k1*(1-b+b*(docLen/avgLen))
			score += idf[term] * (numerator / denominator)
		}
		results[i] = Scored{Document: cd.doc, Score: score}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := results[i].Document.UpdatedAt, results[j].Document.UpdatedAt
		switch {
		case ti != nil && tj != nil && !ti.Equal(*tj):
			return ti.After(*tj)
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		default:
			return results[i].Document.SourceID < results[j].Document.SourceID
		}
	})

	return results
}

// TopK returns at most k highest-scoring documents from an already-ranked
// slice, useful for bounding the Analysis stage's concurrency fan-out.
func TopK(ranked []Scored, k int) []Scored {
	if k <= 0 || k >= len(ranked) {
		return ranked
	}
	return ranked[:k]
}
