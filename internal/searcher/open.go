package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/docmeta"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/postgres"
)

// Runtime owns every artifact opened for a Core.
type Runtime struct {
	Core    *Core
	Readers map[string]*indexer.Reader
	Stores  map[string]*segment.ResilientStore
	Docs    *docmeta.Store
}

// Open loads metadata, doc metadata and signal tables as configured and
// builds a Core over them. Any structural error is returned and everything
// opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (_ *Runtime, err error) {
	rt := &Runtime{
		Readers: make(map[string]*indexer.Reader),
		Stores:  make(map[string]*segment.ResilientStore),
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	for _, idx := range []config.IndexConfig{cfg.Indexes.Body, cfg.Indexes.Title, cfg.Indexes.Anchor} {
		store, err := segment.Open(ctx, cfg.Storage, idx, m)
		if err != nil {
			return nil, err
		}
		rt.Stores[idx.Name] = store
		reader, err := indexer.Open(ctx, store, idx.Name, m)
		if err != nil {
			return nil, err
		}
		rt.Readers[idx.Name] = reader
	}

	rt.Docs, err = docmeta.Open(cfg.DocMeta.Dir)
	if err != nil {
		return nil, err
	}

	var pg *postgres.Client
	openPG := func() (*postgres.Client, error) {
		if pg == nil {
			c, err := postgres.New(cfg.Postgres)
			if err != nil {
				return nil, err
			}
			pg = c
		}
		return pg, nil
	}
	defer func() {
		if pg != nil {
			pg.Close()
		}
	}()
	pageViews, err := docmeta.LoadSignal(ctx, "pageviews", cfg.Signals.PageViews, openPG)
	if err != nil {
		return nil, err
	}
	pageRank, err := docmeta.LoadSignal(ctx, "pagerank", cfg.Signals.PageRank, openPG)
	if err != nil {
		return nil, err
	}

	rt.Core, err = New(Options{
		Body:      rt.Readers[cfg.Indexes.Body.Name],
		Title:     rt.Readers[cfg.Indexes.Title.Name],
		Anchor:    rt.Readers[cfg.Indexes.Anchor.Name],
		Docs:      rt.Docs,
		PageViews: pageViews,
		PageRank:  pageRank,
		Search:    cfg.Search,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}
	slog.Default().With("component", "searcher").Info("search runtime ready",
		"documents", rt.Docs.Len(),
		"page_views", pageViews.Len(),
		"pagerank_overrides", pageRank.Len(),
	)
	return rt, nil
}

// Healthy reports an error when any shard store has an open circuit.
func (rt *Runtime) Healthy() error {
	for name, s := range rt.Stores {
		if !s.Healthy() {
			return fmt.Errorf("index %s: shard reads are failing", name)
		}
	}
	return nil
}

func (rt *Runtime) Close() error {
	var errs []error
	for _, s := range rt.Stores {
		errs = append(errs, s.Close())
	}
	if rt.Docs != nil {
		errs = append(errs, rt.Docs.Close())
	}
	return errors.Join(errs...)
}
