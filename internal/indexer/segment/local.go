package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/mmap"
)

// LocalStore serves shards from memory-mapped files in one directory.
type LocalStore struct {
	dir    string
	index  string
	files  map[uint32]*mmap.File
	sizes  shardTable
	logger *slog.Logger
}

// OpenLocal maps every shard of index found in dir.
func OpenLocal(dir, index string) (*LocalStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing shard directory %s: %w", dir, err)
	}
	s := &LocalStore{
		dir:    dir,
		index:  index,
		files:  make(map[uint32]*mmap.File),
		sizes:  make(shardTable),
		logger: slog.Default().With("component", "shard-store", "backend", "local", "index", index),
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := parseShardFileName(index, entry.Name())
		if !ok {
			continue
		}
		f, err := mmap.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("mapping shard %s: %w", entry.Name(), err)
		}
		s.files[id] = f
		s.sizes[id] = int64(f.Len())
	}
	s.logger.Info("local shard store opened", "dir", dir, "shards", len(s.files))
	return s, nil
}

// ReadRange copies the requested bytes out of the mapping.
func (s *LocalStore) ReadRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.sizes.check(shard, offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, s.files[shard].Data[offset:offset+length])
	return out, nil
}

func (s *LocalStore) ShardSize(shard uint32) (int64, error) {
	return s.sizes.size(shard)
}

func (s *LocalStore) Shards() []uint32 {
	return s.sizes.ids()
}

func (s *LocalStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.dir, name))
}

func (s *LocalStore) Close() error {
	var errs []error
	for id, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unmapping shard %d: %w", id, err))
		}
	}
	s.files = map[uint32]*mmap.File{}
	s.sizes = shardTable{}
	return errors.Join(errs...)
}
