package index

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

type shardSizes map[uint32]int64

func (s shardSizes) ShardSize(shard uint32) (int64, error) {
	size, ok := s[shard]
	if !ok {
		return 0, fmt.Errorf("shard %d: %w", shard, apperrors.ErrShardNotFound)
	}
	return size, nil
}

func sampleMetadata() *Metadata {
	m := NewMetadata("body", 1000, DefaultCodec())
	m.Terms["apple"] = TermInfo{DF: 3, CF: 9, Fragments: []Fragment{
		{Shard: 0, Offset: 0, Count: 2},
		{Shard: 1, Offset: 0, Count: 1},
	}}
	m.Terms["banana"] = TermInfo{DF: 1, CF: 1, Fragments: []Fragment{
		{Shard: 1, Offset: 6, Count: 1},
	}}
	m.Terms["zero"] = TermInfo{}
	return m
}

func TestMetadataRoundTripAllCompressions(t *testing.T) {
	for _, kind := range []string{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(kind, func(t *testing.T) {
			want := sampleMetadata()
			data, err := MarshalMetadata(want, kind)
			require.NoError(t, err)

			got, err := UnmarshalMetadata(data)
			require.NoError(t, err)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.N, got.N)
			assert.Equal(t, want.Codec, got.Codec)
			require.Len(t, got.Terms, 3)
			assert.Equal(t, want.Terms["apple"], got.Terms["apple"])
			assert.Equal(t, want.Terms["banana"], got.Terms["banana"])
			assert.Empty(t, got.Terms["zero"].Fragments)
		})
	}
}

func TestMarshalMetadataDeterministic(t *testing.T) {
	a, err := MarshalMetadata(sampleMetadata(), CompressionNone)
	require.NoError(t, err)
	b, err := MarshalMetadata(sampleMetadata(), CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnmarshalMetadataCorruption(t *testing.T) {
	data, err := MarshalMetadata(sampleMetadata(), CompressionZstd)
	require.NoError(t, err)

	tests := map[string][]byte{
		"truncated header": data[:10],
		"bad magic":        append([]byte{0, 0, 0, 0}, data[4:]...),
		"flipped payload":  flipLast(data),
		"truncated body":   data[:len(data)-3],
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalMetadata(b)
			assert.ErrorIs(t, err, apperrors.ErrMetadataLoad)
		})
	}
}

func flipLast(b []byte) []byte {
	out := append([]byte(nil), b...)
	out[len(out)-1] ^= 0xff
	return out
}

func TestMetadataFileAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", MetadataFileName("title"))
	m := sampleMetadata()
	require.NoError(t, WriteMetadataFile(path, m, CompressionLZ4))

	got, err := LoadMetadataFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.Terms["apple"], got.Terms["apple"])

	_, err = LoadMetadataFile(filepath.Join(t.TempDir(), "missing.meta"))
	assert.ErrorIs(t, err, apperrors.ErrMetadataLoad)
}

func TestMetadataValidate(t *testing.T) {
	sizes := shardSizes{0: 12, 1: 12}
	require.NoError(t, sampleMetadata().Validate(sizes))

	t.Run("df mismatch", func(t *testing.T) {
		m := sampleMetadata()
		info := m.Terms["apple"]
		info.DF = 4
		m.Terms["apple"] = info
		assert.ErrorIs(t, m.Validate(sizes), apperrors.ErrMetadataLoad)
	})
	t.Run("range past shard end", func(t *testing.T) {
		m := sampleMetadata()
		m.Terms["banana"] = TermInfo{DF: 1, CF: 1, Fragments: []Fragment{{Shard: 1, Offset: 12, Count: 1}}}
		assert.ErrorIs(t, m.Validate(sizes), apperrors.ErrMetadataLoad)
	})
	t.Run("unknown shard", func(t *testing.T) {
		m := sampleMetadata()
		m.Terms["banana"] = TermInfo{DF: 1, CF: 1, Fragments: []Fragment{{Shard: 7, Offset: 0, Count: 1}}}
		assert.ErrorIs(t, m.Validate(sizes), apperrors.ErrMetadataLoad)
	})
	t.Run("misaligned offset", func(t *testing.T) {
		m := sampleMetadata()
		m.Terms["banana"] = TermInfo{DF: 1, CF: 1, Fragments: []Fragment{{Shard: 1, Offset: 4, Count: 1}}}
		assert.ErrorIs(t, m.Validate(sizes), apperrors.ErrMetadataLoad)
	})
}

func TestMemoryIndexSnapshot(t *testing.T) {
	mi := NewMemoryIndex()
	mi.AddDocument(9, []string{"b", "a", "b"})
	mi.AddDocument(2, []string{"b"})

	snap := mi.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Term)
	assert.Equal(t, PostingList{{DocID: 9, TF: 1}}, snap[0].Postings)
	assert.Equal(t, PostingList{{DocID: 2, TF: 1}, {DocID: 9, TF: 2}}, snap[1].Postings)
	assert.Equal(t, 2, mi.DocCount())
	assert.Equal(t, map[uint64]uint32{9: 3, 2: 1}, mi.DocLengths())
	assert.Positive(t, mi.Size())

	mi.Reset()
	assert.Empty(t, mi.Snapshot())
	assert.Zero(t, mi.Size())
	assert.Zero(t, mi.DocCount())
}
