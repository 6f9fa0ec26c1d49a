// Package executor runs a query against one index: it fetches the posting
// list of every distinct query term in parallel, scores each list on its own
// worker and merges the partial scores in the calling goroutine.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/tracing"
)

// PostingSource is the read side of one inverted index.
type PostingSource interface {
	Name() string
	DocCount() uint64
	TermStats(term string) (index.TermStats, bool)
	PostingList(ctx context.Context, term string) (index.PostingList, error)
}

// Config bounds one query. Timeout 0 means no engine-level deadline.
type Config struct {
	MaxWorkers    int
	Timeout       time.Duration
	TimeoutPolicy string
	FailurePolicy string
}

// ConfigFrom copies the engine settings out of the search config.
func ConfigFrom(cfg config.SearchConfig) Config {
	return Config{
		MaxWorkers:    cfg.MaxWorkers,
		Timeout:       cfg.QueryTimeout,
		TimeoutPolicy: cfg.TimeoutPolicy,
		FailurePolicy: cfg.FailurePolicy,
	}
}

// Result is a ranked hit list. Partial is set when the query deadline
// passed before every term was scored; FailedTerms lists terms whose
// posting reads failed under the degrade policy.
type Result struct {
	Hits        []ranker.ScoredDoc `json:"hits"`
	Partial     bool               `json:"partial"`
	FailedTerms []string           `json:"failed_terms,omitempty"`
}

func emptyResult() *Result {
	return &Result{Hits: []ranker.ScoredDoc{}}
}

type queryTerm struct {
	term string
	qtf  int
}

type termResult struct {
	idx    int
	scores map[uint64]float64
	err    error
}

// Engine scores queries against one PostingSource with one Scorer. It is
// safe for concurrent use.
type Engine struct {
	source  PostingSource
	scorer  ranker.Scorer
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(source PostingSource, scorer ranker.Scorer, cfg Config, m *metrics.Metrics) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.TimeoutPolicy == "" {
		cfg.TimeoutPolicy = config.PolicyPartial
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = config.PolicyDegrade
	}
	return &Engine{
		source:  source,
		scorer:  scorer,
		cfg:     cfg,
		metrics: m,
		logger: slog.Default().With(
			"component", "query-engine",
			"index", source.Name(),
			"scorer", scorer.Name(),
		),
	}
}

func (e *Engine) Name() string {
	return e.source.Name()
}

// Search scores terms and returns the best limit hits (all hits when limit
// <= 0). An empty query yields an empty result.
func (e *Engine) Search(ctx context.Context, terms []string, limit int) (*Result, error) {
	qterms := dedupe(terms)
	if len(qterms) == 0 {
		return emptyResult(), nil
	}

	qctx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.Timeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	// Cancelling on return stops workers that are still fetching.
	defer cancel()

	workers := min(len(qterms), e.cfg.MaxWorkers)
	results := make(chan termResult, len(qterms))
	var g errgroup.Group
	g.SetLimit(workers)
	go func() {
		for i := range qterms {
			g.Go(func() error {
				results <- e.scoreTerm(qctx, i, qterms[i])
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	partials := make([]map[uint64]float64, len(qterms))
	var failed []string
	timedOut := false
	received := 0
collect:
	for received < len(qterms) {
		select {
		case r := <-results:
			received++
			if r.err == nil {
				partials[r.idx] = r.scores
				continue
			}
			if qctx.Err() != nil {
				timedOut = true
				break collect
			}
			if e.cfg.FailurePolicy == config.PolicyFail {
				return nil, r.err
			}
			term := qterms[r.idx].term
			e.logger.Warn("posting read failed, scoring term as empty",
				"term", term,
				"error", r.err,
				"request_id", logger.RequestID(ctx),
			)
			e.metrics.IncShardReadFailure(e.source.Name())
			failed = append(failed, term)
		case <-qctx.Done():
			timedOut = true
			break collect
		}
	}

	if timedOut {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.cfg.TimeoutPolicy == config.PolicyFail {
			return nil, fmt.Errorf("index %s after %s: %w", e.source.Name(), e.cfg.Timeout, apperrors.ErrQueryTimeout)
		}
		e.metrics.IncPartialResult(e.source.Name())
		e.logger.Warn("query deadline passed, returning partial result",
			"scored_terms", received-len(failed),
			"terms", len(qterms),
		)
	}

	// Summing in query-term order keeps scores independent of completion
	// order.
	scores := make(map[uint64]float64)
	for _, p := range partials {
		for id, s := range p {
			scores[id] += s
		}
	}
	e.scorer.Finalize(scores)

	return &Result{
		Hits:        merger.TopK(scores, limit),
		Partial:     timedOut,
		FailedTerms: failed,
	}, nil
}

func (e *Engine) scoreTerm(ctx context.Context, idx int, qt queryTerm) termResult {
	if err := ctx.Err(); err != nil {
		return termResult{idx: idx, err: err}
	}
	ctx, span := tracing.StartChildSpan(ctx, "term_fetch")
	defer span.End()
	span.SetAttr("index", e.source.Name())
	span.SetAttr("term", qt.term)

	stats, ok := e.source.TermStats(qt.term)
	if !ok || stats.DF == 0 {
		span.SetAttr("postings", 0)
		return termResult{idx: idx}
	}
	postings, err := e.source.PostingList(ctx, qt.term)
	if err != nil {
		span.SetAttr("error", err.Error())
		return termResult{idx: idx, err: err}
	}
	span.SetAttr("postings", len(postings))
	tc := ranker.TermContext{
		Term:    qt.term,
		QueryTF: qt.qtf,
		DF:      stats.DF,
		N:       e.source.DocCount(),
	}
	return termResult{idx: idx, scores: e.scorer.ScoreTerm(tc, postings)}
}

// dedupe keeps first-seen order and counts repeats as query tf.
func dedupe(terms []string) []queryTerm {
	seen := make(map[string]int, len(terms))
	out := make([]queryTerm, 0, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		if i, ok := seen[t]; ok {
			out[i].qtf++
			continue
		}
		seen[t] = len(out)
		out = append(out, queryTerm{term: t, qtf: 1})
	}
	return out
}
