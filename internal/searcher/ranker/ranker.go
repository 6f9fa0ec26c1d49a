// Package ranker holds the per-term scoring functions used by the query
// engine. A Scorer turns one term's posting list into sparse partial scores;
// the engine sums partials across terms and calls Finalize once.
package ranker

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
)

type ScoredDoc struct {
	DocID uint64  `json:"doc_id"`
	Score float64 `json:"score"`
}

// TermContext carries the statistics a scorer needs for one distinct query
// term. QueryTF is how often the term occurred in the query.
type TermContext struct {
	Term    string
	QueryTF int
	DF      uint64
	N       uint64
}

// Scorer must not retain or mutate postings. ScoreTerm runs on worker
// goroutines and must only read shared state.
type Scorer interface {
	Name() string
	ScoreTerm(tc TermContext, postings index.PostingList) map[uint64]float64
	Finalize(scores map[uint64]float64)
}

// DocStats is the slice of the doc metadata store used by body scorers.
type DocStats interface {
	PosOf(docID uint64) (uint32, error)
	BodyNorm(pos uint32) float32
	InverseBodyLength(pos uint32) float32
	AvgBodyLength() float64
}

// TFIDF scores qtf * tf * ln(N/df) and divides the summed score by the
// document's body norm. With LengthNormalize set, tf is scaled by the
// inverse body length first.
type TFIDF struct {
	Docs            DocStats
	LengthNormalize bool
}

func NewTFIDF(docs DocStats, lengthNormalize bool) *TFIDF {
	return &TFIDF{Docs: docs, LengthNormalize: lengthNormalize}
}

func (s *TFIDF) Name() string { return "tfidf" }

func (s *TFIDF) ScoreTerm(tc TermContext, postings index.PostingList) map[uint64]float64 {
	if tc.DF == 0 || tc.N == 0 || len(postings) == 0 {
		return nil
	}
	idf := math.Log(float64(tc.N) / float64(tc.DF))
	out := make(map[uint64]float64, len(postings))
	for _, p := range postings {
		tf := float64(p.TF)
		if s.LengthNormalize {
			pos, err := s.Docs.PosOf(p.DocID)
			if err != nil {
				continue
			}
			tf *= float64(s.Docs.InverseBodyLength(pos))
		}
		out[p.DocID] = float64(tc.QueryTF) * tf * idf
	}
	return out
}

// Finalize drops documents without a position or with a zero norm.
func (s *TFIDF) Finalize(scores map[uint64]float64) {
	for id, score := range scores {
		pos, err := s.Docs.PosOf(id)
		if err != nil {
			delete(scores, id)
			continue
		}
		norm := s.Docs.BodyNorm(pos)
		if norm == 0 {
			delete(scores, id)
			continue
		}
		scores[id] = score / float64(norm)
	}
}

// BM25 is Okapi BM25 over body text, with the BM25+ lower bound Delta added
// to every matching term when Plus is set. The query factor is always 1, so
// repeating a query term does not change the score. Documents without a
// position or a body length are skipped, and nothing scores when the average
// body length is zero.
type BM25 struct {
	Docs  DocStats
	K1    float64
	B     float64
	Plus  bool
	Delta float64
}

func (s *BM25) Name() string { return "bm25" }

func (s *BM25) ScoreTerm(tc TermContext, postings index.PostingList) map[uint64]float64 {
	if tc.N == 0 || tc.DF == 0 || len(postings) == 0 {
		return nil
	}
	avgdl := s.Docs.AvgBodyLength()
	if avgdl <= 0 {
		return nil
	}
	n, df := float64(tc.N), float64(tc.DF)
	idf := math.Log(1 + (n-df+0.5)/(df+0.5))

	out := make(map[uint64]float64, len(postings))
	for _, p := range postings {
		pos, err := s.Docs.PosOf(p.DocID)
		if err != nil {
			continue
		}
		inv := s.Docs.InverseBodyLength(pos)
		if inv <= 0 {
			continue
		}
		dl := 1 / float64(inv)
		norm := (1 - s.B) + s.B*dl/avgdl
		tf := float64(p.TF)
		denom := tf + s.K1*norm
		if denom <= 0 {
			continue
		}
		base := tf * (s.K1 + 1) / denom
		if s.Plus {
			base += s.Delta
		}
		out[p.DocID] = idf * base
	}
	return out
}

func (s *BM25) Finalize(map[uint64]float64) {}

// MatchCount adds one per distinct query term present in the document. It
// backs title and anchor search.
type MatchCount struct{}

func (MatchCount) Name() string { return "match_count" }

func (MatchCount) ScoreTerm(_ TermContext, postings index.PostingList) map[uint64]float64 {
	if len(postings) == 0 {
		return nil
	}
	out := make(map[uint64]float64, len(postings))
	for _, p := range postings {
		out[p.DocID] = 1
	}
	return out
}

func (MatchCount) Finalize(map[uint64]float64) {}
