// Package indexer serves and builds the disk-resident inverted indexes.
// Reader answers posting-list lookups for one index; Builder produces the
// shard, metadata and document metadata artifacts offline.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
)

// Reader resolves terms to posting lists through immutable metadata and a
// shard store. It keeps no per-call state and is safe for concurrent use.
type Reader struct {
	meta    *index.Metadata
	store   segment.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Open fetches "<name>.meta" from the store, parses it and validates every
// fragment against the store's shards.
func Open(ctx context.Context, store segment.Store, name string, m *metrics.Metrics) (*Reader, error) {
	data, err := store.Fetch(ctx, index.MetadataFileName(name))
	if err != nil {
		return nil, fmt.Errorf("index %s: fetching metadata: %v: %w", name, err, apperrors.ErrMetadataLoad)
	}
	meta, err := index.UnmarshalMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	if meta.Name != name {
		return nil, fmt.Errorf("index %s: metadata belongs to %q: %w", name, meta.Name, apperrors.ErrMetadataLoad)
	}
	return NewReader(meta, store, m)
}

// NewReader validates meta against store and returns a Reader over both.
func NewReader(meta *index.Metadata, store segment.Store, m *metrics.Metrics) (*Reader, error) {
	if err := meta.Validate(store); err != nil {
		return nil, err
	}
	r := &Reader{
		meta:    meta,
		store:   store,
		metrics: m,
		logger:  slog.Default().With("component", "index-reader", "index", meta.Name),
	}
	r.logger.Info("index opened",
		"documents", meta.N,
		"terms", len(meta.Terms),
		"shards", len(store.Shards()),
		"entry_width", meta.Codec.EntryWidth(),
	)
	return r, nil
}

// PostingList reads and decodes every fragment of term in recorded order.
// Unknown terms yield an empty list and no error.
func (r *Reader) PostingList(ctx context.Context, term string) (index.PostingList, error) {
	start := time.Now()
	info, ok := r.meta.Lookup(term)
	if !ok || info.DF == 0 {
		r.metrics.ObserveTermFetch(r.meta.Name, "missing", time.Since(start))
		return index.PostingList{}, nil
	}

	out := make(index.PostingList, 0, info.DF)
	var bytesRead int
	for _, f := range info.Fragments {
		raw, err := r.store.ReadRange(ctx, f.Shard, f.Offset, r.meta.FragmentBytes(f))
		if err != nil {
			r.metrics.ObserveTermFetch(r.meta.Name, "error", time.Since(start))
			return nil, fmt.Errorf("index %s: term %q: %w", r.meta.Name, term, err)
		}
		bytesRead += len(raw)
		out, err = r.meta.Codec.AppendDecodeAll(out, raw)
		if err != nil {
			r.metrics.ObserveTermFetch(r.meta.Name, "error", time.Since(start))
			return nil, fmt.Errorf("index %s: term %q: %w", r.meta.Name, term, err)
		}
	}
	r.metrics.AddPostingBytes(r.meta.Name, bytesRead)
	r.metrics.ObserveTermFetch(r.meta.Name, "ok", time.Since(start))
	return out, nil
}

// TermStats returns df and cf for term.
func (r *Reader) TermStats(term string) (index.TermStats, bool) {
	return r.meta.Stats(term)
}

// DocCount is the corpus size N used by idf.
func (r *Reader) DocCount() uint64 {
	return r.meta.N
}

func (r *Reader) Name() string {
	return r.meta.Name
}

func (r *Reader) Metadata() *index.Metadata {
	return r.meta
}

func (r *Reader) Close() error {
	return r.store.Close()
}
