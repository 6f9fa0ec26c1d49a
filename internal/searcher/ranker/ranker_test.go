package ranker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

type docStats struct {
	pos    map[uint64]uint32
	norm   []float32
	invLen []float32
	avg    float64
}

func (d docStats) PosOf(id uint64) (uint32, error) {
	p, ok := d.pos[id]
	if !ok {
		return 0, apperrors.ErrUnknownDocument
	}
	return p, nil
}
func (d docStats) BodyNorm(pos uint32) float32          { return d.norm[pos] }
func (d docStats) InverseBodyLength(pos uint32) float32 { return d.invLen[pos] }
func (d docStats) AvgBodyLength() float64               { return d.avg }

func twoDocs() docStats {
	return docStats{
		pos:    map[uint64]uint32{5: 0, 9: 1},
		norm:   []float32{2, 2},
		invLen: []float32{0.1, 0.1},
		avg:    10,
	}
}

func TestTFIDFPrefersHigherTermFrequency(t *testing.T) {
	s := NewTFIDF(twoDocs(), false)
	postings := index.PostingList{{DocID: 5, TF: 3}, {DocID: 9, TF: 1}}
	scores := s.ScoreTerm(TermContext{Term: "cat", QueryTF: 1, DF: 2, N: 10}, postings)
	s.Finalize(scores)

	idf := math.Log(5)
	assert.InDelta(t, 3*idf/2, scores[5], 1e-9)
	assert.InDelta(t, idf/2, scores[9], 1e-9)
	assert.Greater(t, scores[5], scores[9])
}

func TestTFIDFQueryTermFrequencyAndLengthNormalisation(t *testing.T) {
	postings := index.PostingList{{DocID: 5, TF: 3}}
	tc := TermContext{Term: "cat", QueryTF: 2, DF: 2, N: 10}

	plain := NewTFIDF(twoDocs(), false).ScoreTerm(tc, postings)
	assert.InDelta(t, 2*3*math.Log(5), plain[5], 1e-9)

	scaled := NewTFIDF(twoDocs(), true).ScoreTerm(tc, postings)
	assert.InDelta(t, 2*3*0.1*math.Log(5), scaled[5], 1e-6)
}

func TestTFIDFFinalizeDropsUnscorableDocs(t *testing.T) {
	docs := twoDocs()
	docs.norm = []float32{0, 1}
	s := NewTFIDF(docs, false)
	scores := map[uint64]float64{5: 1, 9: 1, 42: 1}
	s.Finalize(scores)
	assert.Equal(t, map[uint64]float64{9: 1}, scores)
}

func TestTFIDFIgnoresZeroDF(t *testing.T) {
	s := NewTFIDF(twoDocs(), false)
	assert.Empty(t, s.ScoreTerm(TermContext{Term: "x", QueryTF: 1, N: 10}, nil))
}

func TestBM25(t *testing.T) {
	docs := twoDocs()
	// doc 5 has length 10 (the average), doc 9 length 20
	docs.invLen = []float32{0.1, 0.05}
	s := &BM25{Docs: docs, K1: 1.2, B: 0.75}
	tc := TermContext{Term: "cat", QueryTF: 1, DF: 2, N: 10}
	scores := s.ScoreTerm(tc, index.PostingList{{DocID: 5, TF: 2}, {DocID: 9, TF: 2}, {DocID: 77, TF: 9}})

	idf := math.Log(1 + (10-2+0.5)/(2+0.5))
	assert.InDelta(t, idf*2*2.2/(2+1.2), scores[5], 1e-6)
	assert.Greater(t, scores[5], scores[9], "longer document should score lower")
	assert.NotContains(t, scores, uint64(77))

	s.Plus, s.Delta = true, 1
	plus := s.ScoreTerm(tc, index.PostingList{{DocID: 5, TF: 2}})
	assert.InDelta(t, scores[5]+idf, plus[5], 1e-6)
}

func TestBM25IgnoresQueryTermFrequency(t *testing.T) {
	s := &BM25{Docs: twoDocs(), K1: 1.2, B: 0.75}
	postings := index.PostingList{{DocID: 5, TF: 2}}
	once := s.ScoreTerm(TermContext{Term: "cat", QueryTF: 1, DF: 2, N: 10}, postings)
	twice := s.ScoreTerm(TermContext{Term: "cat", QueryTF: 2, DF: 2, N: 10}, postings)
	assert.InDelta(t, once[5], twice[5], 1e-12)
}

func TestBM25SkipsDocsWithoutLength(t *testing.T) {
	docs := twoDocs()
	docs.invLen = []float32{0, 0.1}
	s := &BM25{Docs: docs, K1: 1.2, B: 0.75}
	tc := TermContext{Term: "cat", QueryTF: 1, DF: 2, N: 10}
	postings := index.PostingList{{DocID: 5, TF: 2}, {DocID: 9, TF: 2}}

	scores := s.ScoreTerm(tc, postings)
	assert.NotContains(t, scores, uint64(5))
	assert.Contains(t, scores, uint64(9))

	docs.avg = 0
	s.Docs = docs
	assert.Empty(t, s.ScoreTerm(tc, postings))
}

func TestMatchCount(t *testing.T) {
	var s MatchCount
	scores := s.ScoreTerm(TermContext{Term: "a", QueryTF: 3}, index.PostingList{{DocID: 1, TF: 7}, {DocID: 2, TF: 1}})
	assert.Equal(t, map[uint64]float64{1: 1, 2: 1}, scores)
	assert.Nil(t, s.ScoreTerm(TermContext{}, nil))
}
