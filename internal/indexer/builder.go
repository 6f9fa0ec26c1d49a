package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/docmeta"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
)

// Link is one outgoing link of a document. Its text is indexed in the anchor
// index under the target document.
type Link struct {
	TargetID uint64 `json:"id"`
	Text     string `json:"text"`
}

// Document is one line of the builder's JSONL input.
type Document struct {
	ID       uint64  `json:"id"`
	Title    string  `json:"title"`
	Body     string  `json:"text"`
	Links    []Link  `json:"anchor_text"`
	PageRank float64 `json:"pagerank"`
}

// BuildStats summarises one build. IndexedDocs counts documents with at
// least one term in each index; MemoryBytes is the estimated in-memory size
// of each index before it was written.
type BuildStats struct {
	Documents   int
	Terms       map[string]int
	Shards      map[string]int
	IndexedDocs map[string]int
	MemoryBytes map[string]int64
	Duration    time.Duration
}

// Builder accumulates documents in memory and writes the body, title and
// anchor indexes plus the doc metadata arrays. Add is safe for concurrent
// use. Build runs once, after all documents were added, and releases the
// in-memory indexes as it writes them.
type Builder struct {
	cfg       config.BuilderConfig
	indexes   config.IndexesConfig
	docMeta   string
	codec     index.Codec
	precision docmeta.DType

	body   *index.MemoryIndex
	title  *index.MemoryIndex
	anchor *index.MemoryIndex

	mu    sync.Mutex
	docs  map[uint64]docmeta.Record
	built bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBuilder validates the codec widths, compression and float precision in
// cfg.Builder. m may be nil.
func NewBuilder(cfg *config.Config, m *metrics.Metrics) (*Builder, error) {
	codec, err := index.NewCodec(cfg.Builder.DocIDBits, cfg.Builder.TFBits)
	if err != nil {
		return nil, err
	}
	precision, err := docmeta.ParseFloatPrecision(cfg.Builder.FloatPrecision)
	if err != nil {
		return nil, err
	}
	switch cfg.Builder.Compression {
	case index.CompressionNone, index.CompressionZstd, index.CompressionLZ4:
	default:
		return nil, fmt.Errorf("unknown metadata compression %q: %w", cfg.Builder.Compression, apperrors.ErrInvalidInput)
	}
	return &Builder{
		cfg:       cfg.Builder,
		indexes:   cfg.Indexes,
		docMeta:   cfg.DocMeta.Dir,
		codec:     codec,
		precision: precision,
		body:      index.NewMemoryIndex(),
		title:     index.NewMemoryIndex(),
		anchor:    index.NewMemoryIndex(),
		docs:      make(map[uint64]docmeta.Record),
		metrics:   m,
		logger:    slog.Default().With("component", "builder"),
	}, nil
}

// Add tokenizes one document into the three in-memory indexes. A document
// id seen twice is rejected.
func (b *Builder) Add(doc Document) error {
	bodyTerms := tokenizer.Terms(doc.Body)

	b.mu.Lock()
	if b.built {
		b.mu.Unlock()
		return fmt.Errorf("document %d added after build: %w", doc.ID, apperrors.ErrInvalidInput)
	}
	if _, dup := b.docs[doc.ID]; dup {
		b.mu.Unlock()
		return fmt.Errorf("document %d added twice: %w", doc.ID, apperrors.ErrInvalidInput)
	}
	b.docs[doc.ID] = docmeta.Record{
		DocID:    doc.ID,
		Title:    doc.Title,
		PageRank: doc.PageRank,
	}
	b.mu.Unlock()

	if len(bodyTerms) > 0 {
		b.body.AddDocument(doc.ID, bodyTerms)
	}
	if titleTerms := tokenizer.Terms(doc.Title); len(titleTerms) > 0 {
		b.title.AddDocument(doc.ID, titleTerms)
	}
	for _, l := range doc.Links {
		if terms := tokenizer.Terms(l.Text); len(terms) > 0 {
			b.anchor.AddDocument(l.TargetID, terms)
		}
	}
	return nil
}

// AddJSONL reads one Document per line from r and adds them with
// cfg.Workers goroutines. Blank lines are skipped.
func (b *Builder) AddJSONL(ctx context.Context, r io.Reader) (int, error) {
	workers := b.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	docs := make(chan Document, workers*4)

	var count int
	g.Go(func() error {
		defer close(docs)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
		line := 0
		for sc.Scan() {
			line++
			raw := sc.Bytes()
			if len(raw) == 0 {
				continue
			}
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("line %d: %v: %w", line, err, apperrors.ErrInvalidInput)
			}
			select {
			case docs <- doc:
				count++
			case <-ctx.Done():
				return ctx.Err()
			}
			if count%100000 == 0 {
				b.logger.Info("documents read", "count", count)
			}
		}
		return sc.Err()
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for doc := range docs {
				if err := b.Add(doc); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return count, err
	}
	b.metrics.AddDocsIndexed(count)
	return count, nil
}

// Build writes every artifact. N for all three indexes is the number of
// documents added; positions in the doc metadata follow ascending doc id.
func (b *Builder) Build(ctx context.Context) (*BuildStats, error) {
	start := time.Now()
	b.mu.Lock()
	if b.built {
		b.mu.Unlock()
		return nil, fmt.Errorf("builder already built: %w", apperrors.ErrInvalidInput)
	}
	b.built = true
	records := make([]docmeta.Record, 0, len(b.docs))
	for _, r := range b.docs {
		records = append(records, r)
	}
	b.mu.Unlock()
	sort.Slice(records, func(i, j int) bool { return records[i].DocID < records[j].DocID })

	n := uint64(len(records))
	stats := &BuildStats{
		Documents:   len(records),
		Terms:       make(map[string]int),
		Shards:      make(map[string]int),
		IndexedDocs: make(map[string]int),
		MemoryBytes: make(map[string]int64),
	}

	lengths := b.body.DocLengths()
	bodySnap := b.body.Snapshot()
	norms := BodyNorms(bodySnap, n)
	for i := range records {
		id := records[i].DocID
		records[i].BodyLength = lengths[id]
		records[i].BodyNorm = norms[id]
	}

	for _, part := range []struct {
		cfg     config.IndexConfig
		mem     *index.MemoryIndex
		entries []index.TermEntry
	}{
		{b.indexes.Body, b.body, bodySnap},
		{b.indexes.Title, b.title, nil},
		{b.indexes.Anchor, b.anchor, nil},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := part.cfg.Name
		entries := part.entries
		if entries == nil {
			entries = part.mem.Snapshot()
		}
		stats.IndexedDocs[name] = part.mem.DocCount()
		stats.MemoryBytes[name] = part.mem.Size()
		shards, err := b.writeIndex(part.cfg, n, entries)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", name, err)
		}
		stats.Terms[name] = len(entries)
		stats.Shards[name] = shards
		part.mem.Reset()
	}

	if err := docmeta.Write(b.docMeta, records, b.precision); err != nil {
		return nil, fmt.Errorf("writing doc metadata: %w", err)
	}
	stats.Duration = time.Since(start)
	b.logger.Info("build complete",
		"documents", stats.Documents,
		"terms", stats.Terms,
		"shards", stats.Shards,
		"memory_bytes", stats.MemoryBytes,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return stats, nil
}

func (b *Builder) writeIndex(idx config.IndexConfig, n uint64, entries []index.TermEntry) (int, error) {
	w, err := segment.NewShardWriter(idx.Dir, idx.Name, b.codec, b.cfg.MaxShardBytes)
	if err != nil {
		return 0, err
	}
	w.OnShardClosed(func(uint32, int64) { b.metrics.IncShardsWritten(idx.Name) })

	meta := index.NewMetadata(idx.Name, n, b.codec)
	for _, e := range entries {
		frags, err := w.WritePostings(e.Postings)
		if err != nil {
			w.Close()
			return 0, fmt.Errorf("term %q: %w", e.Term, err)
		}
		var cf uint64
		for _, p := range e.Postings {
			cf += uint64(p.TF)
		}
		meta.Terms[e.Term] = index.TermInfo{
			DF:        uint64(len(e.Postings)),
			CF:        cf,
			Fragments: frags,
		}
	}
	shards, err := w.Close()
	if err != nil {
		return shards, err
	}
	path := filepath.Join(idx.Dir, index.MetadataFileName(idx.Name))
	if err := index.WriteMetadataFile(path, meta, b.cfg.Compression); err != nil {
		return shards, err
	}
	return shards, nil
}

// BodyNorms computes the Euclidean norm of every document's tf-idf vector,
// sqrt(sum over terms of (tf * ln(n/df))^2).
func BodyNorms(entries []index.TermEntry, n uint64) map[uint64]float64 {
	sums := make(map[uint64]float64)
	for _, e := range entries {
		df := len(e.Postings)
		if df == 0 {
			continue
		}
		idf := math.Log(float64(n) / float64(df))
		for _, p := range e.Postings {
			w := float64(p.TF) * idf
			sums[p.DocID] += w * w
		}
	}
	for id, s := range sums {
		sums[id] = math.Sqrt(s)
	}
	return sums
}
