// Package fusion combines per-index result sets and per-document signals
// into one ranking with a weighted sum.
package fusion

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
)

type Weights struct {
	Body      float64 `json:"body"`
	Title     float64 `json:"title"`
	Anchor    float64 `json:"anchor"`
	PageRank  float64 `json:"pagerank"`
	PageViews float64 `json:"pageviews"`
}

func DefaultWeights() Weights {
	return WeightsFrom(config.Default().Search.Weights)
}

func WeightsFrom(w config.FusionWeights) Weights {
	return Weights{
		Body:      w.Body,
		Title:     w.Title,
		Anchor:    w.Anchor,
		PageRank:  w.PageRank,
		PageViews: w.PageViews,
	}
}

// Lookup returns a per-document signal. Missing documents report false and
// count as zero.
type Lookup func(docID uint64) (float64, bool)

// Signals holds the sparse result sets that define the candidates and the
// dense lookups evaluated on them. Any field may be nil.
type Signals struct {
	Body      []ranker.ScoredDoc
	Title     []ranker.ScoredDoc
	Anchor    []ranker.ScoredDoc
	PageRank  Lookup
	PageViews Lookup
}

// Options: LogScale applies log1p to PageRank and page views. Normalize
// min-max scales each result set over its own documents and each dense
// signal over the whole candidate set; documents absent from a result set
// score zero in that column.
type Options struct {
	Weights   Weights
	LogScale  bool
	Normalize bool
}

type Fuser struct {
	opts Options
}

func New(opts Options) *Fuser {
	return &Fuser{opts: opts}
}

// Combine scores the union of the sparse result sets and returns the best
// limit documents (all when limit <= 0).
func (f *Fuser) Combine(s Signals, limit int) []ranker.ScoredDoc {
	candidates := roaring64.New()
	for _, set := range [][]ranker.ScoredDoc{s.Body, s.Title, s.Anchor} {
		for _, d := range set {
			candidates.Add(d.DocID)
		}
	}
	if candidates.IsEmpty() {
		return []ranker.ScoredDoc{}
	}
	ids := candidates.ToArray()
	pos := make(map[uint64]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	sparse := func(set []ranker.ScoredDoc) []float64 {
		present := make([]float64, len(set))
		for i, d := range set {
			present[i] = d.Score
		}
		if f.opts.Normalize {
			MinMax(present)
		}
		v := make([]float64, len(ids))
		for i, d := range set {
			v[pos[d.DocID]] = present[i]
		}
		return v
	}
	dense := func(fn Lookup) []float64 {
		v := make([]float64, len(ids))
		if fn != nil {
			for i, id := range ids {
				x, ok := fn(id)
				if !ok {
					continue
				}
				if f.opts.LogScale {
					x = math.Log1p(x)
				}
				v[i] = x
			}
		}
		if f.opts.Normalize {
			MinMax(v)
		}
		return v
	}

	w := f.opts.Weights
	columns := []struct {
		weight float64
		values func() []float64
	}{
		{w.Body, func() []float64 { return sparse(s.Body) }},
		{w.Title, func() []float64 { return sparse(s.Title) }},
		{w.Anchor, func() []float64 { return sparse(s.Anchor) }},
		{w.PageRank, func() []float64 { return dense(s.PageRank) }},
		{w.PageViews, func() []float64 { return dense(s.PageViews) }},
	}

	out := make([]ranker.ScoredDoc, len(ids))
	for i, id := range ids {
		out[i].DocID = id
	}
	for _, col := range columns {
		if col.weight == 0 {
			continue
		}
		for i, v := range col.values() {
			out[i].Score += col.weight * v
		}
	}
	merger.Sort(out)
	return merger.Truncate(out, limit)
}

// MinMax rescales values to [0, 1] in place. A constant column becomes all
// zeros.
func MinMax(values []float64) {
	if len(values) == 0 {
		return
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range values {
		if span == 0 {
			values[i] = 0
			continue
		}
		values[i] = (v - lo) / span
	}
}
