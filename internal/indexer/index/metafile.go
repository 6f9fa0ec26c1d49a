package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// Metadata file layout: a fixed 64-byte little-endian header followed by a
// (possibly compressed) payload of uvarint-framed term records.
const (
	MetaMagic      uint32 = 0x53504d44
	MetaVersion    uint32 = 1
	MetaHeaderSize        = 64
	MetaExtension         = ".meta"
)

// Compression kinds for the metadata payload.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

var compressionCodes = map[string]byte{
	CompressionNone: 0,
	CompressionZstd: 1,
	CompressionLZ4:  2,
}

// MetadataFileName returns "<name>.meta".
func MetadataFileName(name string) string {
	return name + MetaExtension
}

// MarshalMetadata serialises m. Terms are written in byte order so the same
// metadata always produces the same bytes.
func MarshalMetadata(m *Metadata, compression string) ([]byte, error) {
	code, ok := compressionCodes[compression]
	if !ok {
		return nil, fmt.Errorf("unknown metadata compression %q", compression)
	}
	raw := encodePayload(m)
	payload, err := compress(compression, raw)
	if err != nil {
		return nil, fmt.Errorf("compressing metadata payload: %w", err)
	}

	out := make([]byte, MetaHeaderSize, MetaHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], MetaMagic)
	binary.LittleEndian.PutUint32(out[4:8], MetaVersion)
	out[8] = code
	out[9] = byte(m.Codec.DocIDBits())
	out[10] = byte(m.Codec.TFBits())
	binary.LittleEndian.PutUint32(out[12:16], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint64(out[16:24], m.N)
	binary.LittleEndian.PutUint64(out[24:32], uint64(len(m.Terms)))
	binary.LittleEndian.PutUint64(out[32:40], uint64(len(payload)))
	binary.LittleEndian.PutUint64(out[40:48], uint64(len(raw)))
	return append(out, payload...), nil
}

// UnmarshalMetadata parses a metadata file. Every failure wraps
// ErrMetadataLoad.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	m, err := unmarshalMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMetadataLoad, err)
	}
	return m, nil
}

func unmarshalMetadata(data []byte) (*Metadata, error) {
	if len(data) < MetaHeaderSize {
		return nil, fmt.Errorf("file too small: %d bytes", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MetaMagic {
		return nil, fmt.Errorf("bad magic: 0x%08x", magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != MetaVersion {
		return nil, fmt.Errorf("unsupported version %d", v)
	}
	compression := ""
	for name, code := range compressionCodes {
		if code == data[8] {
			compression = name
		}
	}
	if compression == "" {
		return nil, fmt.Errorf("unknown compression code %d", data[8])
	}
	codec, err := NewCodec(int(data[9]), int(data[10]))
	if err != nil {
		return nil, err
	}
	checksum := binary.LittleEndian.Uint32(data[12:16])
	n := binary.LittleEndian.Uint64(data[16:24])
	termCount := binary.LittleEndian.Uint64(data[24:32])
	payloadLen := binary.LittleEndian.Uint64(data[32:40])
	rawLen := binary.LittleEndian.Uint64(data[40:48])

	payload := data[MetaHeaderSize:]
	if uint64(len(payload)) != payloadLen {
		return nil, fmt.Errorf("payload is %d bytes, header says %d", len(payload), payloadLen)
	}
	if got := crc32.ChecksumIEEE(payload); got != checksum {
		return nil, fmt.Errorf("checksum mismatch: stored=0x%08x computed=0x%08x", checksum, got)
	}
	raw, err := decompress(compression, payload, rawLen)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if uint64(len(raw)) != rawLen {
		return nil, fmt.Errorf("decompressed payload is %d bytes, header says %d", len(raw), rawLen)
	}
	m, err := decodePayload(raw, termCount)
	if err != nil {
		return nil, err
	}
	m.N = n
	m.Codec = codec
	return m, nil
}

// WriteMetadataFile atomically writes m to path.
func WriteMetadataFile(path string, m *Metadata, compression string) error {
	data, err := MarshalMetadata(m, compression)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// LoadMetadataFile reads and parses a local metadata file.
func LoadMetadataFile(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v: %w", path, err, apperrors.ErrMetadataLoad)
	}
	return UnmarshalMetadata(data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	return nil
}

func encodePayload(m *Metadata) []byte {
	var buf []byte
	buf = appendString(buf, m.Name)
	for _, term := range m.SortedTerms() {
		info := m.Terms[term]
		buf = appendString(buf, term)
		buf = binary.AppendUvarint(buf, info.DF)
		buf = binary.AppendUvarint(buf, info.CF)
		buf = binary.AppendUvarint(buf, uint64(len(info.Fragments)))
		for _, f := range info.Fragments {
			buf = binary.AppendUvarint(buf, uint64(f.Shard))
			buf = binary.AppendUvarint(buf, uint64(f.Offset))
			buf = binary.AppendUvarint(buf, uint64(f.Count))
		}
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

type payloadReader struct {
	buf []byte
	pos int
	err error
}

func (r *payloadReader) readUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.err = fmt.Errorf("corrupt varint at payload offset %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *payloadReader) readString() string {
	n := r.readUvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.err = fmt.Errorf("string of %d bytes overruns payload at offset %d", n, r.pos)
		return ""
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

func decodePayload(raw []byte, termCount uint64) (*Metadata, error) {
	r := &payloadReader{buf: raw}
	m := &Metadata{Name: r.readString()}
	if termCount > uint64(len(raw)) {
		return nil, fmt.Errorf("term count %d larger than payload", termCount)
	}
	m.Terms = make(map[string]TermInfo, termCount)
	for i := uint64(0); i < termCount; i++ {
		term := r.readString()
		info := TermInfo{DF: r.readUvarint(), CF: r.readUvarint()}
		nFrags := r.readUvarint()
		if r.err != nil {
			return nil, r.err
		}
		if nFrags > uint64(len(raw)-r.pos) {
			return nil, fmt.Errorf("term %q: fragment count %d overruns payload", term, nFrags)
		}
		info.Fragments = make([]Fragment, 0, nFrags)
		for j := uint64(0); j < nFrags; j++ {
			info.Fragments = append(info.Fragments, Fragment{
				Shard:  uint32(r.readUvarint()),
				Offset: int64(r.readUvarint()),
				Count:  uint32(r.readUvarint()),
			})
		}
		if r.err != nil {
			return nil, r.err
		}
		if _, dup := m.Terms[term]; dup {
			return nil, fmt.Errorf("duplicate term %q", term)
		}
		m.Terms[term] = info
	}
	if r.pos != len(raw) {
		return nil, fmt.Errorf("%d trailing bytes after %d terms", len(raw)-r.pos, termCount)
	}
	return m, nil
}

func compress(kind string, raw []byte) ([]byte, error) {
	switch kind {
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

func decompress(kind string, payload []byte, rawLen uint64) ([]byte, error) {
	switch kind {
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, make([]byte, 0, rawLen))
	case CompressionLZ4:
		out := bytes.NewBuffer(make([]byte, 0, rawLen))
		if _, err := io.Copy(out, io.LimitReader(lz4.NewReader(bytes.NewReader(payload)), int64(rawLen)+1)); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return payload, nil
	}
}
