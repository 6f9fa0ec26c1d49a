package segment

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// ShardWriter appends encoded posting lists to a sequence of shard files,
// rolling to a new shard once the current one holds maxShardBytes. A posting
// list that does not fit is split into fragments across shards. Each shard is
// written to a .tmp file and renamed when complete.
type ShardWriter struct {
	dir        string
	name       string
	codec      index.Codec
	maxEntries int64

	file    *os.File
	buf     *bufio.Writer
	shard   uint32
	entries int64
	opened  bool
	written int
	scratch []byte
	onShard func(shard uint32, bytes int64)
	logger  *slog.Logger
}

// NewShardWriter prepares a writer for index name in dir. maxShardBytes is
// rounded down to a whole number of entries, with a minimum of one.
func NewShardWriter(dir, name string, codec index.Codec, maxShardBytes int64) (*ShardWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating shard directory: %w", err)
	}
	maxEntries := maxShardBytes / int64(codec.EntryWidth())
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &ShardWriter{
		dir:        dir,
		name:       name,
		codec:      codec,
		maxEntries: maxEntries,
		logger:     slog.Default().With("component", "shard-writer", "index", name),
	}, nil
}

// OnShardClosed registers a callback invoked after each shard is renamed
// into place.
func (w *ShardWriter) OnShardClosed(fn func(shard uint32, bytes int64)) {
	w.onShard = fn
}

// WritePostings appends one term's posting list and returns where it landed.
// The list must be ordered by ascending doc id.
func (w *ShardWriter) WritePostings(list index.PostingList) ([]index.Fragment, error) {
	for i := 1; i < len(list); i++ {
		if list[i].DocID <= list[i-1].DocID {
			return nil, fmt.Errorf("posting list not strictly ascending at %d: %w", i, apperrors.ErrInvalidInput)
		}
	}
	var frags []index.Fragment
	width := int64(w.codec.EntryWidth())
	for len(list) > 0 {
		if !w.opened || w.entries == w.maxEntries {
			if err := w.rotate(); err != nil {
				return nil, err
			}
		}
		n := w.maxEntries - w.entries
		if n > int64(len(list)) {
			n = int64(len(list))
		}
		w.scratch = w.scratch[:0]
		for _, p := range list[:n] {
			var err error
			w.scratch, err = w.codec.AppendEncode(w.scratch, p.DocID, p.TF)
			if err != nil {
				return nil, err
			}
		}
		if _, err := w.buf.Write(w.scratch); err != nil {
			return nil, fmt.Errorf("writing shard %d: %w", w.shard, err)
		}
		frags = append(frags, index.Fragment{
			Shard:  w.shard,
			Offset: w.entries * width,
			Count:  uint32(n),
		})
		w.entries += n
		list = list[n:]
	}
	return frags, nil
}

func (w *ShardWriter) rotate() error {
	if w.opened {
		if err := w.finish(); err != nil {
			return err
		}
		w.shard++
	}
	path := filepath.Join(w.dir, ShardFileName(w.name, w.shard)) + ".tmp"
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating shard file: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 1<<20)
	w.entries = 0
	w.opened = true
	return nil
}

func (w *ShardWriter) finish() error {
	tmpPath := w.file.Name()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flushing shard %d: %w", w.shard, err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("syncing shard %d: %w", w.shard, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing shard %d: %w", w.shard, err)
	}
	finalPath := filepath.Join(w.dir, ShardFileName(w.name, w.shard))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming shard %d: %w", w.shard, err)
	}
	size := w.entries * int64(w.codec.EntryWidth())
	w.written++
	w.logger.Info("shard written", "shard", finalPath, "bytes", size)
	if w.onShard != nil {
		w.onShard(w.shard, size)
	}
	w.file = nil
	return nil
}

// Close finalises the current shard and returns how many shards were
// written.
func (w *ShardWriter) Close() (int, error) {
	if w.opened && w.file != nil {
		if err := w.finish(); err != nil {
			return w.written, err
		}
	}
	return w.written, nil
}
