// Package searcher is the query-side facade: it owns one scoring engine per
// index, the fusion step and the per-document signal lookups.
package searcher

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/docmeta"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
)

// DocStore is the doc metadata read by the facade and its scorers.
type DocStore interface {
	ranker.DocStats
	PageRank(pos uint32) float32
	Title(pos uint32) string
	Len() int
}

// SignalValue is one answer of a batch signal lookup. Unknown documents
// have Found false and Value 0.
type SignalValue struct {
	DocID uint64  `json:"doc_id"`
	Value float64 `json:"value"`
	Found bool    `json:"found"`
}

// Options wires a Core. PageViews and PageRank tables are optional; a
// PageRank table takes precedence over the positional PageRank array.
type Options struct {
	Body      executor.PostingSource
	Title     executor.PostingSource
	Anchor    executor.PostingSource
	Docs      DocStore
	PageViews *docmeta.SignalTable
	PageRank  *docmeta.SignalTable
	Search    config.SearchConfig
	Metrics   *metrics.Metrics
}

// Core is immutable after New and safe for concurrent use.
type Core struct {
	body      *executor.Engine
	bm25      *executor.Engine
	title     *executor.Engine
	anchor    *executor.Engine
	docs      DocStore
	pageViews *docmeta.SignalTable
	pageRank  *docmeta.SignalTable
	fuser     *fusion.Fuser
	cfg       config.SearchConfig
	logger    *slog.Logger
}

func New(opts Options) (*Core, error) {
	if opts.Body == nil || opts.Title == nil || opts.Anchor == nil || opts.Docs == nil {
		return nil, fmt.Errorf("searcher needs body, title and anchor indexes and doc metadata: %w", apperrors.ErrInvalidInput)
	}
	cfg := opts.Search
	ecfg := executor.ConfigFrom(cfg)
	bm := cfg.BM25
	return &Core{
		body: executor.New(opts.Body, ranker.NewTFIDF(opts.Docs, cfg.LengthNormalizeTF), ecfg, opts.Metrics),
		bm25: executor.New(opts.Body, &ranker.BM25{
			Docs:  opts.Docs,
			K1:    bm.K1,
			B:     bm.B,
			Plus:  bm.Plus,
			Delta: bm.Delta,
		}, ecfg, opts.Metrics),
		title:     executor.New(opts.Title, ranker.MatchCount{}, ecfg, opts.Metrics),
		anchor:    executor.New(opts.Anchor, ranker.MatchCount{}, ecfg, opts.Metrics),
		docs:      opts.Docs,
		pageViews: opts.PageViews,
		pageRank:  opts.PageRank,
		fuser: fusion.New(fusion.Options{
			Weights:   fusion.WeightsFrom(cfg.Weights),
			LogScale:  cfg.LogScaleSignals,
			Normalize: cfg.NormalizeSignals,
		}),
		cfg:    cfg,
		logger: slog.Default().With("component", "searcher"),
	}, nil
}

// ScoreBody ranks by TF-IDF cosine over body text and keeps BodyLimit hits.
func (c *Core) ScoreBody(ctx context.Context, terms []string) (*executor.Result, error) {
	return c.body.Search(ctx, terms, c.cfg.BodyLimit)
}

// ScoreTitle ranks every document by the number of distinct query terms in
// its title.
func (c *Core) ScoreTitle(ctx context.Context, terms []string) (*executor.Result, error) {
	return c.title.Search(ctx, terms, 0)
}

// ScoreAnchor ranks every document by the number of distinct query terms in
// the anchor text pointing at it.
func (c *Core) ScoreAnchor(ctx context.Context, terms []string) (*executor.Result, error) {
	return c.anchor.Search(ctx, terms, 0)
}

// CombinedSearch runs BM25 body, title and anchor search concurrently, cuts
// each to its candidate limit and fuses them with PageRank and page views.
func (c *Core) CombinedSearch(ctx context.Context, terms []string, limit int) (*executor.Result, error) {
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	if c.cfg.MaxResults > 0 && limit > c.cfg.MaxResults {
		limit = c.cfg.MaxResults
	}

	var body, title, anchor *executor.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.bm25.Search(gctx, terms, c.cfg.BodyCandidates)
		body = r
		return err
	})
	g.Go(func() error {
		r, err := c.title.Search(gctx, terms, c.cfg.TitleCandidates)
		title = r
		return err
	})
	g.Go(func() error {
		r, err := c.anchor.Search(gctx, terms, c.cfg.AnchorCandidates)
		anchor = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hits := c.fuser.Combine(fusion.Signals{
		Body:      body.Hits,
		Title:     title.Hits,
		Anchor:    anchor.Hits,
		PageRank:  c.pageRankOf,
		PageViews: c.pageViewsOf,
	}, limit)

	res := &executor.Result{
		Hits:    hits,
		Partial: body.Partial || title.Partial || anchor.Partial,
	}
	seen := make(map[string]struct{})
	for _, r := range []*executor.Result{body, title, anchor} {
		for _, t := range r.FailedTerms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			res.FailedTerms = append(res.FailedTerms, t)
		}
	}
	return res, nil
}

func (c *Core) pageRankOf(docID uint64) (float64, bool) {
	if c.pageRank != nil {
		if v, ok := c.pageRank.Lookup(docID); ok {
			return v, true
		}
	}
	pos, err := c.docs.PosOf(docID)
	if err != nil {
		return 0, false
	}
	return float64(c.docs.PageRank(pos)), true
}

func (c *Core) pageViewsOf(docID uint64) (float64, bool) {
	if c.pageViews == nil {
		return 0, false
	}
	return c.pageViews.Lookup(docID)
}

// LookupPageRank answers in input order; unknown ids are not errors.
func (c *Core) LookupPageRank(docIDs []uint64) []SignalValue {
	return lookupAll(docIDs, c.pageRankOf)
}

// LookupPageViews answers in input order; unknown ids are not errors.
func (c *Core) LookupPageViews(docIDs []uint64) []SignalValue {
	return lookupAll(docIDs, c.pageViewsOf)
}

func lookupAll(ids []uint64, fn func(uint64) (float64, bool)) []SignalValue {
	out := make([]SignalValue, len(ids))
	for i, id := range ids {
		v, ok := fn(id)
		out[i] = SignalValue{DocID: id, Value: v, Found: ok}
	}
	return out
}

// Title returns the stored title of docID.
func (c *Core) Title(docID uint64) (string, error) {
	pos, err := c.docs.PosOf(docID)
	if err != nil {
		return "", err
	}
	return c.docs.Title(pos), nil
}

// DocCount is the number of documents with metadata.
func (c *Core) DocCount() int {
	return c.docs.Len()
}
