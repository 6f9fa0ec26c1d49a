package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// S3API is the slice of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Store serves shards stored as objects under bucket/prefix. Shard sizes
// are listed once at open; every read is a ranged GET.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	index  string
	sizes  shardTable
	logger *slog.Logger
}

// NewS3Client builds an S3 client from the storage config. A custom
// endpoint switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// OpenS3 lists the shards of index under bucket/prefix.
func OpenS3(ctx context.Context, client S3API, bucket, prefix, index string) (*S3Store, error) {
	s := &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		index:  index,
		sizes:  make(shardTable),
		logger: slog.Default().With("component", "shard-store", "backend", "s3", "index", index),
	}
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(s.key(index + "_")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			id, ok := parseShardFileName(index, path.Base(aws.ToString(obj.Key)))
			if !ok {
				continue
			}
			s.sizes[id] = aws.ToInt64(obj.Size)
		}
	}
	s.logger.Info("s3 shard store opened", "bucket", bucket, "prefix", prefix, "shards", len(s.sizes))
	return s, nil
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3Store) ReadRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error) {
	if err := s.sizes.check(shard, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ShardFileName(s.index, shard))),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get shard %d: %w", shard, err)
	}
	defer resp.Body.Close()
	out := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, out); err != nil {
		return nil, fmt.Errorf("s3 read shard %d: %w", shard, err)
	}
	return out, nil
}

func (s *S3Store) ShardSize(shard uint32) (int64, error) {
	return s.sizes.size(shard)
}

func (s *S3Store) Shards() []uint32 {
	return s.sizes.ids()
}

func (s *S3Store) Fetch(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3 object %s: %w", name, apperrors.ErrMetadataLoad)
		}
		return nil, fmt.Errorf("s3 get %s: %w", name, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *S3Store) Close() error { return nil }
