package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/redis"
)

type fakeCore struct {
	mu        sync.Mutex
	lastTerms []string
	lastLimit int
	calls     int
	result    *executor.Result
	err       error
}

func (f *fakeCore) record(terms []string, limit int) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastTerms = terms
	f.lastLimit = limit
	return f.result, f.err
}

func (f *fakeCore) ScoreBody(_ context.Context, terms []string) (*executor.Result, error) {
	return f.record(terms, 0)
}

func (f *fakeCore) ScoreTitle(_ context.Context, terms []string) (*executor.Result, error) {
	return f.record(terms, 0)
}

func (f *fakeCore) ScoreAnchor(_ context.Context, terms []string) (*executor.Result, error) {
	return f.record(terms, 0)
}

func (f *fakeCore) CombinedSearch(_ context.Context, terms []string, limit int) (*executor.Result, error) {
	return f.record(terms, limit)
}

func (f *fakeCore) LookupPageRank(ids []uint64) []searcher.SignalValue {
	out := make([]searcher.SignalValue, len(ids))
	for i, id := range ids {
		out[i] = searcher.SignalValue{DocID: id}
		if id == 12 {
			out[i].Value, out[i].Found = 0.5, true
		}
	}
	return out
}

func (f *fakeCore) LookupPageViews(ids []uint64) []searcher.SignalValue {
	out := make([]searcher.SignalValue, len(ids))
	for i, id := range ids {
		out[i] = searcher.SignalValue{DocID: id, Value: 10, Found: true}
	}
	return out
}

func (f *fakeCore) Title(id uint64) (string, error) {
	if id == 12 {
		return "Python", nil
	}
	return "", apperrors.ErrUnknownDocument
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return []byte(v), nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value)
	return nil
}

func (m *memStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func searchCfg() config.SearchConfig {
	return config.SearchConfig{DefaultLimit: 10, MaxResults: 50}
}

func serve(t *testing.T, h *Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSearchTokenizesAndAttachesTitles(t *testing.T) {
	core := &fakeCore{result: &executor.Result{Hits: []ranker.ScoredDoc{{DocID: 12, Score: 2}, {DocID: 99, Score: 1}}}}
	h := New(core, Options{Search: searchCfg(), Metrics: metrics.New()})

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/search?query=The+Python+Language&limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"python", "language"}, core.lastTerms)
	assert.Equal(t, 50, core.lastLimit)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []Hit{{DocID: 12, Title: "Python", Score: 2}, {DocID: 99, Title: "", Score: 1}}, resp.Results)
	assert.False(t, resp.CacheHit)
}

func TestSearchDefaultLimitAndBadLimit(t *testing.T) {
	core := &fakeCore{result: &executor.Result{}}
	h := New(core, Options{Search: searchCfg()})

	serve(t, h, httptest.NewRequest(http.MethodGet, "/search?query=python", nil))
	assert.Equal(t, 10, core.lastLimit)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/search?query=python&limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"limit must be a positive integer"}`, rec.Body.String())
}

func TestEmptyQueryReturnsNoResults(t *testing.T) {
	core := &fakeCore{}
	h := New(core, Options{Search: searchCfg()})

	for _, path := range []string{"/search_body?query=", "/search_title?query=the+and", "/search_anchor"} {
		rec := serve(t, h, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Results)
	}
	assert.Equal(t, 0, core.calls)
}

func TestSearchErrorsMapToStatus(t *testing.T) {
	core := &fakeCore{err: apperrors.ErrQueryTimeout}
	h := New(core, Options{Search: searchCfg()})
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/search_body?query=python", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"error":"Gateway Timeout"}`, rec.Body.String())
}

func TestSearchPartialIsReported(t *testing.T) {
	core := &fakeCore{result: &executor.Result{Hits: []ranker.ScoredDoc{{DocID: 12, Score: 1}}, Partial: true, FailedTerms: []string{"snake"}}}
	h := New(core, Options{Search: searchCfg()})
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/search_title?query=python+snake", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Partial)
	assert.Equal(t, []string{"snake"}, resp.FailedTerms)
}

func TestSearchUsesCacheAndTracksEvents(t *testing.T) {
	core := &fakeCore{result: &executor.Result{Hits: []ranker.ScoredDoc{{DocID: 12, Score: 1}}}}
	agg := analytics.NewAggregator(5)
	collector := analytics.NewCollector(nil, agg, config.KafkaConfig{})
	qc := cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	h := New(core, Options{Search: searchCfg(), Cache: qc, Collector: collector})

	for i := 0; i < 2; i++ {
		rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/search_anchor?query=python", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, core.calls)

	stats := agg.Stats()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, map[string]int64{EndpointAnchor: 2}, stats.ByEndpoint)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	assert.Contains(t, rec.Body.String(), `"hits":1`)

	rec = serve(t, h, httptest.NewRequest(http.MethodPost, "/cache/invalidate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignalLookups(t *testing.T) {
	h := New(&fakeCore{}, Options{Search: searchCfg()})

	rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/get_pagerank", strings.NewReader(`[12, 404]`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var values []searcher.SignalValue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &values))
	assert.Equal(t, []searcher.SignalValue{
		{DocID: 12, Value: 0.5, Found: true},
		{DocID: 404, Value: 0, Found: false},
	}, values)

	rec = serve(t, h, httptest.NewRequest(http.MethodPost, "/get_pageview", strings.NewReader(`[]`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSignalLookupRejectsBadBodies(t *testing.T) {
	h := New(&fakeCore{}, Options{Search: searchCfg()})
	for _, body := range []string{``, `{"ids":[1]}`, `[1, -2]`, `["x"]`} {
		rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/get_pageview", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/get_pagerank", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	h := New(&fakeCore{}, Options{Search: searchCfg()})
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
	rec = serve(t, h, httptest.NewRequest(http.MethodPost, "/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
