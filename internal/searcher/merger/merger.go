package merger

import (
	"container/heap"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
)

// Less orders by score descending, then doc id ascending.
func Less(a, b ranker.ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Sort orders docs in place by Less.
func Sort(docs []ranker.ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return Less(docs[i], docs[j]) })
}

// TopK returns the k best entries of scores in Less order. k <= 0 returns
// every entry.
func TopK(scores map[uint64]float64, k int) []ranker.ScoredDoc {
	if k <= 0 || k >= len(scores) {
		out := make([]ranker.ScoredDoc, 0, len(scores))
		for id, s := range scores {
			out = append(out, ranker.ScoredDoc{DocID: id, Score: s})
		}
		Sort(out)
		return out
	}
	h := make(scoredDocHeap, 0, k+1)
	for id, s := range scores {
		doc := ranker.ScoredDoc{DocID: id, Score: s}
		if h.Len() < k {
			heap.Push(&h, doc)
			continue
		}
		if Less(doc, h[0]) {
			h[0] = doc
			heap.Fix(&h, 0)
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ranker.ScoredDoc)
	}
	return result
}

// Truncate returns at most k docs of an already ordered slice.
func Truncate(docs []ranker.ScoredDoc, k int) []ranker.ScoredDoc {
	if k > 0 && len(docs) > k {
		return docs[:k]
	}
	return docs
}

// scoredDocHeap keeps the worst retained doc at the root.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return Less(h[j], h[i]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
