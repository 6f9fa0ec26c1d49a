// Package handler exposes the retrieval core over JSON HTTP endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/tracing"
)

// Endpoint names double as route paths, cache key prefixes and metric labels.
const (
	EndpointSearch   = "search"
	EndpointBody     = "search_body"
	EndpointTitle    = "search_title"
	EndpointAnchor   = "search_anchor"
	EndpointPageRank = "get_pagerank"
	EndpointPageView = "get_pageview"
)

// MaxLookupIDs bounds one signal lookup request.
const MaxLookupIDs = 10000

const maxLookupBody = 1 << 20

// Searcher is the part of searcher.Core the handler serves.
type Searcher interface {
	ScoreBody(ctx context.Context, terms []string) (*executor.Result, error)
	ScoreTitle(ctx context.Context, terms []string) (*executor.Result, error)
	ScoreAnchor(ctx context.Context, terms []string) (*executor.Result, error)
	CombinedSearch(ctx context.Context, terms []string, limit int) (*executor.Result, error)
	LookupPageRank(docIDs []uint64) []searcher.SignalValue
	LookupPageViews(docIDs []uint64) []searcher.SignalValue
	Title(docID uint64) (string, error)
}

type Hit struct {
	DocID uint64  `json:"doc_id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

type SearchResponse struct {
	Query       string   `json:"query"`
	Results     []Hit    `json:"results"`
	Partial     bool     `json:"partial,omitempty"`
	FailedTerms []string `json:"failed_terms,omitempty"`
	CacheHit    bool     `json:"cache_hit"`
	LatencyMs   int64    `json:"latency_ms"`
}

// Options configures a Handler. Cache, Collector and Metrics may be nil.
type Options struct {
	Search    config.SearchConfig
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	Trace     bool
}

type Handler struct {
	core      Searcher
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	cfg       config.SearchConfig
	trace     bool
	logger    *slog.Logger
}

func New(core Searcher, opts Options) *Handler {
	return &Handler{
		core:      core,
		cache:     opts.Cache,
		collector: opts.Collector,
		metrics:   opts.Metrics,
		cfg:       opts.Search,
		trace:     opts.Trace,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Routes lists the paths served by Register, for the metrics middleware.
func Routes() []string {
	return []string{
		"/" + EndpointSearch, "/" + EndpointBody, "/" + EndpointTitle, "/" + EndpointAnchor,
		"/" + EndpointPageRank, "/" + EndpointPageView,
		"/cache/stats", "/cache/invalidate",
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /"+EndpointSearch, h.Search)
	mux.HandleFunc("GET /"+EndpointBody, h.SearchBody)
	mux.HandleFunc("GET /"+EndpointTitle, h.SearchTitle)
	mux.HandleFunc("GET /"+EndpointAnchor, h.SearchAnchor)
	mux.HandleFunc("POST /"+EndpointPageRank, h.PageRank)
	mux.HandleFunc("POST /"+EndpointPageView, h.PageViews)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("POST /cache/invalidate", h.CacheInvalidate)
}

// Search serves fused results for ?query= limited by ?limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveQuery(w, r, EndpointSearch, limit, func(ctx context.Context, terms []string) (*executor.Result, error) {
		return h.core.CombinedSearch(ctx, terms, limit)
	})
}

func (h *Handler) SearchBody(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, EndpointBody, 0, h.core.ScoreBody)
}

func (h *Handler) SearchTitle(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, EndpointTitle, 0, h.core.ScoreTitle)
}

func (h *Handler) SearchAnchor(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, EndpointAnchor, 0, h.core.ScoreAnchor)
}

type scoreFunc func(ctx context.Context, terms []string) (*executor.Result, error)

func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request, endpoint string, limit int, fn scoreFunc) {
	start := time.Now()
	requestID := logger.RequestID(r.Context())
	ctx, span := tracing.StartSpan(r.Context(), endpoint, requestID)
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("query")
	terms := tokenizer.Terms(query)
	span.SetAttr("terms", len(terms))

	var (
		result   *executor.Result
		cacheHit bool
		err      error
	)
	switch {
	case len(terms) == 0:
		result = &executor.Result{}
	case h.cache != nil:
		result, cacheHit, err = h.cache.GetOrCompute(ctx, endpoint, terms, limit, func(ctx context.Context) (*executor.Result, error) {
			return fn(ctx, terms)
		})
	default:
		result, err = fn(ctx, terms)
	}
	span.End()
	if h.trace {
		span.Log(log)
	}
	elapsed := time.Since(start)

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	if err != nil {
		h.metrics.ObserveSearch(endpoint, "error", cacheStatus, 0, elapsed)
		log.Error("search failed", "endpoint", endpoint, "query", query, "error", err)
		h.writeError(w, r, err)
		return
	}

	outcome := "ok"
	switch {
	case result.Partial:
		outcome = "partial"
	case len(result.FailedTerms) > 0:
		outcome = "degraded"
	case len(result.Hits) == 0:
		outcome = "zero_result"
	}
	h.metrics.ObserveSearch(endpoint, outcome, cacheStatus, len(result.Hits), elapsed)
	log.Info("search completed",
		"endpoint", endpoint,
		"terms", len(terms),
		"hits", len(result.Hits),
		"outcome", outcome,
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	if h.collector != nil {
		h.collector.Track(analytics.QueryEvent{
			Endpoint:    endpoint,
			Query:       query,
			Terms:       terms,
			Hits:        len(result.Hits),
			Partial:     result.Partial,
			FailedTerms: result.FailedTerms,
			CacheHit:    cacheHit,
			LatencyMs:   elapsed.Milliseconds(),
			Timestamp:   time.Now().UTC(),
			RequestID:   requestID,
		})
	}

	h.writeJSON(w, http.StatusOK, SearchResponse{
		Query:       query,
		Results:     h.hits(result),
		Partial:     result.Partial,
		FailedTerms: result.FailedTerms,
		CacheHit:    cacheHit,
		LatencyMs:   elapsed.Milliseconds(),
	})
}

// hits attaches titles. A document without metadata keeps an empty title.
func (h *Handler) hits(result *executor.Result) []Hit {
	out := make([]Hit, len(result.Hits))
	for i, sd := range result.Hits {
		title, _ := h.core.Title(sd.DocID)
		out[i] = Hit{DocID: sd.DocID, Title: title, Score: sd.Score}
	}
	return out
}

// limit clamps ?limit= into [1, MaxResults]; absent means DefaultLimit.
func (h *Handler) limit(r *http.Request) (int, error) {
	limit := h.cfg.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}
	if h.cfg.MaxResults > 0 && limit > h.cfg.MaxResults {
		limit = h.cfg.MaxResults
	}
	return limit, nil
}

// PageRank answers a JSON array of doc ids with their PageRank values.
func (h *Handler) PageRank(w http.ResponseWriter, r *http.Request) {
	h.serveLookup(w, r, EndpointPageRank, h.core.LookupPageRank)
}

// PageViews answers a JSON array of doc ids with their page view counts.
func (h *Handler) PageViews(w http.ResponseWriter, r *http.Request) {
	h.serveLookup(w, r, EndpointPageView, h.core.LookupPageViews)
}

func (h *Handler) serveLookup(w http.ResponseWriter, r *http.Request, endpoint string, fn func([]uint64) []searcher.SignalValue) {
	start := time.Now()
	ids, err := decodeIDs(r.Body)
	if err != nil {
		h.metrics.ObserveSearch(endpoint, "error", "none", 0, time.Since(start))
		h.writeError(w, r, err)
		return
	}
	values := fn(ids)
	found := 0
	for _, v := range values {
		if v.Found {
			found++
		}
	}
	h.metrics.ObserveSearch(endpoint, "ok", "none", found, time.Since(start))
	h.writeJSON(w, http.StatusOK, values)
}

func decodeIDs(body io.Reader) ([]uint64, error) {
	var ids []uint64
	dec := json.NewDecoder(io.LimitReader(body, maxLookupBody))
	if err := dec.Decode(&ids); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "request body must be a JSON array of doc ids")
		}
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decoding doc ids: %v", err)
	}
	if len(ids) > MaxLookupIDs {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "at most %d doc ids per request", MaxLookupIDs)
	}
	return ids, nil
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	resp := map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	}
	if pool, ok := h.cache.PoolStats(); ok {
		resp["pool"] = pool
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError hides internal details behind 5xx responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		message = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
