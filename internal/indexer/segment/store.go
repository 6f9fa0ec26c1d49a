// Package segment stores and serves the binary posting shards of an index.
// A shard is a flat file of fixed-width posting entries named
// "<index>_<NNN>.bin"; readers address it by shard id and byte range.
package segment

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

const shardExtension = ".bin"

// Store serves byte ranges out of the shards of one index. Implementations
// must be safe for concurrent use.
type Store interface {
	// ReadRange returns exactly length bytes starting at offset. Unknown
	// shards fail with ErrShardNotFound and out-of-bounds ranges with
	// ErrShardRange.
	ReadRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error)
	// ShardSize reports the size of a shard or ErrShardNotFound.
	ShardSize(shard uint32) (int64, error)
	// Shards lists the known shard ids in ascending order.
	Shards() []uint32
	// Fetch returns a whole auxiliary object (such as the metadata file)
	// stored next to the shards.
	Fetch(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// ShardFileName returns "<index>_<NNN>.bin".
func ShardFileName(index string, shard uint32) string {
	return fmt.Sprintf("%s_%03d%s", index, shard, shardExtension)
}

// parseShardFileName extracts the shard id from a file belonging to index.
func parseShardFileName(index, name string) (uint32, bool) {
	prefix := index + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, shardExtension) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), shardExtension)
	if digits == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

// shardTable holds the sizes discovered when a store is opened.
type shardTable map[uint32]int64

func (t shardTable) size(shard uint32) (int64, error) {
	size, ok := t[shard]
	if !ok {
		return 0, fmt.Errorf("shard %d: %w", shard, apperrors.ErrShardNotFound)
	}
	return size, nil
}

func (t shardTable) ids() []uint32 {
	ids := make([]uint32, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// check validates a read against the shard table.
func (t shardTable) check(shard uint32, offset, length int64) error {
	size, err := t.size(shard)
	if err != nil {
		return err
	}
	if offset < 0 || length < 0 || offset > size || length > size-offset {
		return fmt.Errorf("shard %d: range [%d, %d) outside size %d: %w",
			shard, offset, offset+length, size, apperrors.ErrShardRange)
	}
	return nil
}
