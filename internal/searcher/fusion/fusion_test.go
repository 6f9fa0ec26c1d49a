package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
)

func lookup(m map[uint64]float64) Lookup {
	return func(id uint64) (float64, bool) {
		v, ok := m[id]
		return v, ok
	}
}

func TestCombineWeightedSumWithoutTransforms(t *testing.T) {
	f := New(Options{Weights: Weights{Body: 2, Title: 1, PageRank: 0.5}})
	hits := f.Combine(Signals{
		Body:     []ranker.ScoredDoc{{DocID: 1, Score: 1}, {DocID: 2, Score: 3}},
		Title:    []ranker.ScoredDoc{{DocID: 3, Score: 4}},
		PageRank: lookup(map[uint64]float64{1: 10}),
	}, 0)

	assert.Equal(t, []ranker.ScoredDoc{
		{DocID: 1, Score: 7},
		{DocID: 2, Score: 6},
		{DocID: 3, Score: 4},
	}, hits)
}

func TestCombineNormalizedAndLogScaled(t *testing.T) {
	f := New(Options{
		Weights:   Weights{Body: 1, PageViews: 1},
		LogScale:  true,
		Normalize: true,
	})
	views := map[uint64]float64{2: math.E*math.E - 1}
	hits := f.Combine(Signals{
		Body:      []ranker.ScoredDoc{{DocID: 1, Score: 10}, {DocID: 2, Score: 5}, {DocID: 3, Score: 0}},
		PageViews: lookup(views),
	}, 0)

	// body normalises to 1, 0.5, 0 and views to 0, 1, 0
	require.Len(t, hits, 3)
	assert.Equal(t, uint64(2), hits[0].DocID)
	assert.InDelta(t, 1.5, hits[0].Score, 1e-9)
	assert.Equal(t, uint64(1), hits[1].DocID)
	assert.InDelta(t, 1.0, hits[1].Score, 1e-9)
	assert.Equal(t, uint64(3), hits[2].DocID)
}

func TestCombineTieBreaksOnDocIDAndTruncates(t *testing.T) {
	f := New(Options{Weights: DefaultWeights(), Normalize: true})
	hits := f.Combine(Signals{
		Title:  []ranker.ScoredDoc{{DocID: 9, Score: 2}, {DocID: 4, Score: 2}, {DocID: 5, Score: 1}},
		Anchor: []ranker.ScoredDoc{{DocID: 6, Score: 1}},
	}, 2)
	// docs 4 and 9 tie on the title column; a single anchor hit normalises to 0
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 4, Score: 0.6}, {DocID: 9, Score: 0.6}}, hits)
}

func TestCombineNormalizesResultSetsOverTheirOwnDocs(t *testing.T) {
	f := New(Options{Weights: Weights{Body: 1.5, Title: 0.6}, Normalize: true})
	hits := f.Combine(Signals{
		Body:  []ranker.ScoredDoc{{DocID: 1, Score: 10}, {DocID: 2, Score: 5}},
		Title: []ranker.ScoredDoc{{DocID: 3, Score: 2}, {DocID: 4, Score: 1}},
	}, 0)

	// the weakest hit of each set normalises to 0, not to a share of the
	// candidate-wide range
	assert.Equal(t, []ranker.ScoredDoc{
		{DocID: 1, Score: 1.5},
		{DocID: 3, Score: 0.6},
		{DocID: 2, Score: 0},
		{DocID: 4, Score: 0},
	}, hits)
}

func TestCombineNormalizesDenseSignalsOverCandidates(t *testing.T) {
	f := New(Options{Weights: Weights{PageRank: 1}, Normalize: true})
	hits := f.Combine(Signals{
		Body:     []ranker.ScoredDoc{{DocID: 1, Score: 1}, {DocID: 2, Score: 1}, {DocID: 3, Score: 1}},
		PageRank: lookup(map[uint64]float64{1: 4, 2: 2}),
	}, 0)

	// doc 3 has no PageRank and sets the column minimum
	assert.Equal(t, []ranker.ScoredDoc{
		{DocID: 1, Score: 1},
		{DocID: 2, Score: 0.5},
		{DocID: 3, Score: 0},
	}, hits)
}

func TestCombineEmpty(t *testing.T) {
	hits := New(Options{Weights: DefaultWeights()}).Combine(Signals{PageRank: lookup(nil)}, 10)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestMinMax(t *testing.T) {
	v := []float64{2, 4, 3}
	MinMax(v)
	assert.Equal(t, []float64{0, 1, 0.5}, v)

	c := []float64{7, 7}
	MinMax(c)
	assert.Equal(t, []float64{0, 0}, c)
}

func TestDefaultWeights(t *testing.T) {
	assert.Equal(t, Weights{Body: 1.5, Title: 0.6, Anchor: 0.25, PageRank: 0.1, PageViews: 0.5}, DefaultWeights())
}
