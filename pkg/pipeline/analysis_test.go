package pipeline

import (
	"testing"

	"github.com/scholaragent/core/pkg/source"
	"github.com/stretchr/testify/assert"
)

func TestTokenOverlapIdenticalStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, tokenOverlap("graph neural networks", "graph neural networks"))
}

func TestTokenOverlapDisjointStringsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, tokenOverlap("graph neural networks", "protein folding structures"))
}

func TestTokenOverlapEmptyInputIsZero(t *testing.T) {
	assert.Equal(t, 0.0, tokenOverlap("", "graph neural networks"))
	assert.Equal(t, 0.0, tokenOverlap("graph neural networks", ""))
}

func TestTokenOverlapIgnoresCaseAndPunctuation(t *testing.T) {
	got := tokenOverlap("Graph Neural Networks.", "graph, neural, networks")
	assert.Equal(t, 1.0, got)
}

func TestAnalyzeHeuristicBlendsOverlapAndBM25(t *testing.T) {
	p := &Pipeline{}
	c := source.Candidate{Title: "graph neural networks", Abstract: "a survey of graph neural networks"}
	relevance, summary := p.analyzeHeuristic("graph neural networks", c, 50)

	overlap := tokenOverlap("graph neural networks", c.Title+" "+c.Abstract)
	want := 0.7*overlap*100 + 0.3*50
	assert.InDelta(t, want, relevance, 0.001)
	assert.Equal(t, c.Abstract, summary)
}

func TestAnalyzeHeuristicClampsBM25ScoreToHundred(t *testing.T) {
	p := &Pipeline{}
	c := source.Candidate{Title: "x", Abstract: "y"}
	relevance, _ := p.analyzeHeuristic("x", c, 500)
	withoutClamp := 0.7*tokenOverlap("x", "x y")*100 + 0.3*500
	assert.Less(t, relevance, withoutClamp)
}

func TestAnalyzeHeuristicFallsBackToTitleWhenAbstractEmpty(t *testing.T) {
	p := &Pipeline{}
	c := source.Candidate{Title: "just a title"}
	_, summary := p.analyzeHeuristic("query", c, 0)
	assert.Equal(t, "just a title", summary)
}

func TestAnalyzeHeuristicTruncatesLongSummary(t *testing.T) {
	p := &Pipeline{}
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	c := source.Candidate{Abstract: string(long)}
	_, summary := p.analyzeHeuristic("query", c, 0)
	assert.Len(t, summary, 280)
}

func TestAnalysisCacheGetSetRoundTrip(t *testing.T) {
	c := newAnalysisCache(10)
	key := cacheKey("task", "src-1")

	_, ok := c.get(key)
	assert.False(t, ok)

	c.put(key, cacheEntry{relevance: 42, summary: "s"})
	entry, ok := c.get(key)
	assert.True(t, ok)
	assert.Equal(t, 42.0, entry.relevance)
	assert.Equal(t, "s", entry.summary)
}

func TestAnalysisCacheEvictsOldestTenPercentWhenFull(t *testing.T) {
	c := newAnalysisCache(10)
	for i := 0; i < 10; i++ {
		c.put(cacheKey("task", string(rune('a'+i))), cacheEntry{relevance: float64(i)})
	}
	// capacity reached exactly; one more insert should trigger eviction of the oldest entry.
	c.put(cacheKey("task", "k"), cacheEntry{relevance: 99})

	_, ok := c.get(cacheKey("task", "a"))
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.get(cacheKey("task", "k"))
	assert.True(t, ok)
}

func TestAnalysisCacheKeyDependsOnBothDescriptionAndSourceID(t *testing.T) {
	k1 := cacheKey("task one", "src")
	k2 := cacheKey("task two", "src")
	assert.NotEqual(t, k1, k2)
}
