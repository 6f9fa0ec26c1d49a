package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
)

var errShard = fmt.Errorf("shard 3: %w", apperrors.ErrShardRange)

type fakeSource struct {
	n     uint64
	lists map[string]index.PostingList
	fail  map[string]error
	delay func(term string) time.Duration

	mu          sync.Mutex
	inflight    int
	maxInflight int
	fetches     atomic.Int32
}

func newFakeSource(lists map[string]index.PostingList) *fakeSource {
	return &fakeSource{n: 100, lists: lists, fail: map[string]error{}}
}

func (f *fakeSource) Name() string     { return "body" }
func (f *fakeSource) DocCount() uint64 { return f.n }

func (f *fakeSource) TermStats(term string) (index.TermStats, bool) {
	if _, ok := f.fail[term]; ok {
		return index.TermStats{DF: 1, CF: 1}, true
	}
	list, ok := f.lists[term]
	if !ok {
		return index.TermStats{}, false
	}
	var cf uint64
	for _, p := range list {
		cf += uint64(p.TF)
	}
	return index.TermStats{DF: uint64(len(list)), CF: cf}, true
}

func (f *fakeSource) PostingList(ctx context.Context, term string) (index.PostingList, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(term)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.fail[term]; ok {
		return nil, err
	}
	return f.lists[term], nil
}

func testConfig() Config {
	return Config{
		MaxWorkers:    4,
		Timeout:       time.Second,
		TimeoutPolicy: config.PolicyPartial,
		FailurePolicy: config.PolicyDegrade,
	}
}

func TestSearchMatchCountOrdering(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{
		"alpha": {{DocID: 3, TF: 1}, {DocID: 7, TF: 1}},
		"beta":  {{DocID: 7, TF: 2}},
	})
	e := New(src, ranker.MatchCount{}, testConfig(), nil)

	res, err := e.Search(context.Background(), []string{"alpha", "beta"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 7, Score: 2}, {DocID: 3, Score: 1}}, res.Hits)
	assert.False(t, res.Partial)
	assert.Empty(t, res.FailedTerms)
}

func TestSearchEmptyQuery(t *testing.T) {
	src := newFakeSource(nil)
	e := New(src, ranker.MatchCount{}, testConfig(), nil)

	for _, terms := range [][]string{nil, {}, {""}} {
		res, err := e.Search(context.Background(), terms, 10)
		require.NoError(t, err)
		assert.NotNil(t, res.Hits)
		assert.Empty(t, res.Hits)
	}
	assert.Zero(t, src.fetches.Load())
}

func TestSearchUnknownTermContributesNothing(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{"alpha": {{DocID: 1, TF: 1}}})
	e := New(src, ranker.MatchCount{}, testConfig(), nil)

	res, err := e.Search(context.Background(), []string{"alpha", "missing"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 1, Score: 1}}, res.Hits)
	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestSearchDeduplicatesTerms(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{"cat": {{DocID: 1, TF: 2}}})
	e := New(src, countingScorer{}, testConfig(), nil)

	res, err := e.Search(context.Background(), []string{"cat", "cat", "cat"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.fetches.Load())
	assert.Equal(t, 6.0, res.Hits[0].Score)
}

// countingScorer scores qtf * tf.
type countingScorer struct{}

func (countingScorer) Name() string { return "counting" }
func (countingScorer) ScoreTerm(tc ranker.TermContext, postings index.PostingList) map[uint64]float64 {
	out := make(map[uint64]float64)
	for _, p := range postings {
		out[p.DocID] = float64(tc.QueryTF) * float64(p.TF)
	}
	return out
}
func (countingScorer) Finalize(map[uint64]float64) {}

func TestSearchDegradePolicy(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{"good": {{DocID: 1, TF: 1}}})
	src.fail["bad"] = errShard
	m := metrics.New()
	e := New(src, ranker.MatchCount{}, testConfig(), m)

	res, err := e.Search(context.Background(), []string{"good", "bad"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, res.FailedTerms)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 1, Score: 1}}, res.Hits)
	assert.False(t, res.Partial)
}

func TestSearchFailPolicy(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{"good": {{DocID: 1, TF: 1}}})
	src.fail["bad"] = errShard
	cfg := testConfig()
	cfg.FailurePolicy = config.PolicyFail
	e := New(src, ranker.MatchCount{}, cfg, nil)

	_, err := e.Search(context.Background(), []string{"good", "bad"}, 0)
	assert.ErrorIs(t, err, apperrors.ErrShardRange)
}

func slowTerm(term string) time.Duration {
	if term == "slow" {
		return 5 * time.Second
	}
	return 0
}

func TestSearchTimeoutPartial(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{
		"fast": {{DocID: 1, TF: 1}},
		"slow": {{DocID: 2, TF: 1}},
	})
	src.delay = slowTerm
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	e := New(src, ranker.MatchCount{}, cfg, nil)

	start := time.Now()
	res, err := e.Search(context.Background(), []string{"fast", "slow"}, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Partial)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 1, Score: 1}}, res.Hits)
}

func TestSearchTimeoutFail(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{"slow": {{DocID: 2, TF: 1}}})
	src.delay = slowTerm
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.TimeoutPolicy = config.PolicyFail
	e := New(src, ranker.MatchCount{}, cfg, nil)

	_, err := e.Search(context.Background(), []string{"slow"}, 0)
	assert.ErrorIs(t, err, apperrors.ErrQueryTimeout)
}

func TestSearchCallerCancellation(t *testing.T) {
	src := newFakeSource(map[string]index.PostingList{"slow": {{DocID: 2, TF: 1}}})
	src.delay = slowTerm
	e := New(src, ranker.MatchCount{}, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := e.Search(ctx, []string{"slow"}, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSearchBoundsWorkers(t *testing.T) {
	lists := make(map[string]index.PostingList)
	terms := make([]string, 12)
	for i := range terms {
		terms[i] = fmt.Sprintf("t%02d", i)
		lists[terms[i]] = index.PostingList{{DocID: uint64(i), TF: 1}}
	}
	src := newFakeSource(lists)
	src.delay = func(string) time.Duration { return 5 * time.Millisecond }
	cfg := testConfig()
	cfg.MaxWorkers = 3
	e := New(src, ranker.MatchCount{}, cfg, nil)

	res, err := e.Search(context.Background(), terms, 0)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 12)
	assert.LessOrEqual(t, src.maxInflight, 3)
}

func TestSearchIndependentOfCompletionOrder(t *testing.T) {
	lists := make(map[string]index.PostingList)
	var terms []string
	for i := 0; i < 8; i++ {
		term := fmt.Sprintf("term%d", i)
		terms = append(terms, term)
		var list index.PostingList
		for d := uint64(i); d < 60; d += uint64(i + 1) {
			list = append(list, index.Posting{DocID: d, TF: uint32(d%5 + 1)})
		}
		lists[term] = list
	}
	docs := &uniformDocs{}
	scorer := ranker.NewTFIDF(docs, false)

	sequential := newFakeSource(lists)
	cfg := testConfig()
	cfg.MaxWorkers = 1
	want, err := New(sequential, scorer, cfg, nil).Search(context.Background(), terms, 0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	var rngMu sync.Mutex
	for run := 0; run < 10; run++ {
		src := newFakeSource(lists)
		src.delay = func(string) time.Duration {
			rngMu.Lock()
			defer rngMu.Unlock()
			return time.Duration(rng.Intn(3000)) * time.Microsecond
		}
		got, err := New(src, scorer, testConfig(), nil).Search(context.Background(), terms, 0)
		require.NoError(t, err)
		assert.Equal(t, want.Hits, got.Hits, "run %d", run)
	}
}

// uniformDocs gives every document id below 100 the same norm.
type uniformDocs struct{}

func (*uniformDocs) PosOf(id uint64) (uint32, error) {
	if id >= 100 {
		return 0, apperrors.ErrUnknownDocument
	}
	return uint32(id), nil
}
func (*uniformDocs) BodyNorm(uint32) float32          { return 1 }
func (*uniformDocs) InverseBodyLength(uint32) float32 { return 0.1 }
func (*uniformDocs) AvgBodyLength() float64           { return 10 }

func BenchmarkSearch(b *testing.B) {
	lists := make(map[string]index.PostingList)
	terms := []string{"a", "b", "c", "d"}
	for i, term := range terms {
		list := make(index.PostingList, 0, 5000)
		for d := uint64(i); d < 20000; d += 4 {
			list = append(list, index.Posting{DocID: d, TF: uint32(d % 7)})
		}
		lists[term] = list
	}
	e := New(newFakeSource(lists), ranker.MatchCount{}, testConfig(), nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(context.Background(), terms, 100); err != nil {
			b.Fatal(err)
		}
	}
}
