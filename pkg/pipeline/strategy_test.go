package pipeline

import (
	"testing"

	"github.com/scholaragent/core/pkg/source"
	"github.com/stretchr/testify/assert"
)

func TestInferSourceTagBiomedical(t *testing.T) {
	assert.Equal(t, source.TagPubMed, inferSourceTag("clinical trial outcomes for diabetes"))
}

func TestInferSourceTagGitHub(t *testing.T) {
	assert.Equal(t, source.TagGitHub, inferSourceTag("popular github repository implementation with stars"))
}

func TestInferSourceTagScholar(t *testing.T) {
	assert.Equal(t, source.TagScholar, inferSourceTag("a survey of distributed systems"))
}

func TestInferSourceTagDefaultsToArxiv(t *testing.T) {
	assert.Equal(t, source.TagArxiv, inferSourceTag("transformer attention mechanisms"))
}

func TestStrategizeHeuristicProducesFourVariants(t *testing.T) {
	p := &Pipeline{}
	got := p.strategizeHeuristic("graph neural networks", "", 10)
	assert.Len(t, got, 4)
	assert.Equal(t, "graph neural networks", got[0].Text)
	assert.Contains(t, got[1].Text, "survey OR review")
	assert.Contains(t, got[2].Text, "benchmark OR dataset OR code")
	assert.Contains(t, got[3].Text, "NOT theory-only")
}

func TestStrategizeHeuristicRespectsRemainingBudget(t *testing.T) {
	p := &Pipeline{}
	got := p.strategizeHeuristic("graph neural networks", "", 2)
	assert.Len(t, got, 2)
}
