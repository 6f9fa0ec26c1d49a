package segment

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
)

// Open builds the configured backend for one index and wraps it in a
// ResilientStore. For object stores idx.Dir is used as the key prefix.
func Open(ctx context.Context, cfg config.StorageConfig, idx config.IndexConfig, m *metrics.Metrics) (*ResilientStore, error) {
	var (
		inner Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendLocal, "":
		inner, err = OpenLocal(idx.Dir, idx.Name)
	case config.BackendS3:
		client, cerr := NewS3Client(ctx, cfg)
		if cerr != nil {
			return nil, cerr
		}
		inner, err = OpenS3(ctx, client, cfg.Bucket, idx.Dir, idx.Name)
	case config.BackendMinio:
		client, cerr := NewMinioClient(cfg)
		if cerr != nil {
			return nil, cerr
		}
		inner, err = OpenMinio(ctx, client, cfg.Bucket, idx.Dir, idx.Name)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s shards for index %s: %w", cfg.Backend, idx.Name, err)
	}
	return NewResilientStore(inner, idx.Name, cfg, m), nil
}
