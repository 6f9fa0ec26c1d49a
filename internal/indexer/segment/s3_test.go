package segment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

type fakeS3 struct {
	objects map[string][]byte
	ranges  []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if in.Range != nil {
		f.ranges = append(f.ranges, *in.Range)
		var start, end int
		if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func TestS3StoreRangedReads(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"idx/body_000.bin":  []byte("0123456789ab"),
		"idx/body_001.bin":  []byte("cdef"),
		"idx/body.meta":     []byte("meta"),
		"idx/title_000.bin": []byte("zz"),
	}}
	store, err := OpenS3(context.Background(), fake, "corpus", "idx", "body")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, store.Shards())

	b, err := store.ReadRange(context.Background(), 0, 6, 6)
	require.NoError(t, err)
	assert.Equal(t, "6789ab", string(b))
	assert.Equal(t, []string{"bytes=6-11"}, fake.ranges)

	_, err = store.ReadRange(context.Background(), 1, 0, 6)
	assert.ErrorIs(t, err, apperrors.ErrShardRange)
	_, err = store.ReadRange(context.Background(), 2, 0, 1)
	assert.ErrorIs(t, err, apperrors.ErrShardNotFound)

	meta, err := store.Fetch(context.Background(), "body.meta")
	require.NoError(t, err)
	assert.Equal(t, "meta", string(meta))

	_, err = store.Fetch(context.Background(), "missing.meta")
	assert.ErrorIs(t, err, apperrors.ErrMetadataLoad)
}
