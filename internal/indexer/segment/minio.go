package segment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// MinioStore serves shards from a MinIO or other S3-compatible server.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	index  string
	sizes  shardTable
	logger *slog.Logger
}

// NewMinioClient builds a client from the storage config.
func NewMinioClient(cfg config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client for %s: %w", cfg.Endpoint, err)
	}
	return client, nil
}

// OpenMinio lists the shards of index under bucket/prefix.
func OpenMinio(ctx context.Context, client *minio.Client, bucket, prefix, index string) (*MinioStore, error) {
	s := &MinioStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
		index:  index,
		sizes:  make(shardTable),
		logger: slog.Default().With("component", "shard-store", "backend", "minio", "index", index),
	}
	for obj := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    s.key(index + "_"),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, obj.Err)
		}
		if id, ok := parseShardFileName(index, path.Base(obj.Key)); ok {
			s.sizes[id] = obj.Size
		}
	}
	s.logger.Info("minio shard store opened", "bucket", bucket, "prefix", prefix, "shards", len(s.sizes))
	return s, nil
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *MinioStore) ReadRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error) {
	if err := s.sizes.check(shard, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(ShardFileName(s.index, shard)), opts)
	if err != nil {
		return nil, fmt.Errorf("minio get shard %d: %w", shard, err)
	}
	defer obj.Close()
	out := make([]byte, length)
	if _, err := io.ReadFull(obj, out); err != nil {
		return nil, fmt.Errorf("minio read shard %d: %w", shard, err)
	}
	return out, nil
}

func (s *MinioStore) ShardSize(shard uint32) (int64, error) {
	return s.sizes.size(shard)
}

func (s *MinioStore) Shards() []uint32 {
	return s.sizes.ids()
}

func (s *MinioStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s: %w", name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, fmt.Errorf("minio object %s: %w", name, apperrors.ErrMetadataLoad)
		}
		return nil, fmt.Errorf("minio read %s: %w", name, err)
	}
	return data, nil
}

func (s *MinioStore) Close() error { return nil }
