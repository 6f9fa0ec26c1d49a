package docmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/mmap"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// File names inside a doc metadata directory.
const (
	DocIDToPosFile   = "doc_id_to_pos.arr"
	BodyNormFile     = "body_norm.arr"
	InvBodyLenFile   = "inv_body_len.arr"
	PageRankFile     = "pagerank.arr"
	TitleOffsetsFile = "titles_offsets.arr"
	TitlesFile       = "titles.bin"
)

// AbsentPos marks doc ids without a position.
const AbsentPos uint32 = 0xFFFFFFFF

// Store holds the positional document metadata. Numeric arrays are decoded
// into memory at open; the doc_id -> pos array and the title blob stay
// memory-mapped. All accessors are safe for concurrent use.
type Store struct {
	posFile    *mmap.File
	posOf      []byte
	bodyNorm   []float32
	invBodyLen []float32
	pageRank   []float32
	offsets    []uint64
	titles     *mmap.File
	avgBodyLen float64
	logger     *slog.Logger
}

// Open loads and validates the doc metadata in dir. Structural violations
// wrap ErrMetadataLoad.
func Open(dir string) (*Store, error) {
	s, err := open(dir)
	if err != nil {
		return nil, fmt.Errorf("doc metadata %s: %v: %w", dir, err, apperrors.ErrMetadataLoad)
	}
	return s, nil
}

func open(dir string) (_ *Store, err error) {
	s := &Store{logger: slog.Default().With("component", "docmeta")}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.offsets, err = readUint64s(filepath.Join(dir, TitleOffsetsFile)); err != nil {
		return nil, err
	}
	if len(s.offsets) < 1 {
		return nil, fmt.Errorf("%s is empty", TitleOffsetsFile)
	}
	n := len(s.offsets) - 1

	if s.bodyNorm, err = readFloats(filepath.Join(dir, BodyNormFile), n); err != nil {
		return nil, err
	}
	if s.invBodyLen, err = readFloats(filepath.Join(dir, InvBodyLenFile), n); err != nil {
		return nil, err
	}
	if s.pageRank, err = readFloats(filepath.Join(dir, PageRankFile), n); err != nil {
		return nil, err
	}

	if s.titles, err = mmap.Open(filepath.Join(dir, TitlesFile)); err != nil {
		return nil, err
	}
	for i := 1; i < len(s.offsets); i++ {
		if s.offsets[i] < s.offsets[i-1] {
			return nil, fmt.Errorf("title offsets decrease at %d", i)
		}
	}
	if last := s.offsets[n]; last != uint64(s.titles.Len()) {
		return nil, fmt.Errorf("title offsets end at %d, blob is %d bytes", last, s.titles.Len())
	}

	if s.posFile, err = mmap.Open(filepath.Join(dir, DocIDToPosFile)); err != nil {
		return nil, err
	}
	dtype, body, err := parseArray(s.posFile.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", DocIDToPosFile, err)
	}
	if dtype != DTypeUint32 {
		return nil, fmt.Errorf("%s: expected uint32, got %s", DocIDToPosFile, dtype)
	}
	s.posOf = body
	for i := 0; i+4 <= len(body); i += 4 {
		if pos := binary.LittleEndian.Uint32(body[i:]); pos != AbsentPos && int(pos) >= n {
			return nil, fmt.Errorf("doc id %d maps to position %d beyond %d documents", i/4, pos, n)
		}
	}

	var total float64
	var counted int
	for _, inv := range s.invBodyLen {
		if inv > 0 {
			total += 1 / float64(inv)
			counted++
		}
	}
	if counted > 0 {
		s.avgBodyLen = total / float64(counted)
	}

	s.logger.Info("doc metadata opened",
		"dir", dir,
		"documents", n,
		"doc_id_space", len(body)/4,
		"avg_body_len", s.avgBodyLen,
	)
	return s, nil
}

func readFloats(path string, want int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, err := decodeFloats(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%s has %d entries, want %d", filepath.Base(path), len(out), want)
	}
	return out, nil
}

func readUint64s(path string) ([]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, err := decodeUint64s(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// PosOf maps a doc id to its dense position.
func (s *Store) PosOf(docID uint64) (uint32, error) {
	if docID >= uint64(len(s.posOf)/4) {
		return 0, fmt.Errorf("doc %d: %w", docID, apperrors.ErrUnknownDocument)
	}
	pos := binary.LittleEndian.Uint32(s.posOf[docID*4:])
	if pos == AbsentPos {
		return 0, fmt.Errorf("doc %d: %w", docID, apperrors.ErrUnknownDocument)
	}
	return pos, nil
}

func (s *Store) BodyNorm(pos uint32) float32 { return s.bodyNorm[pos] }

func (s *Store) InverseBodyLength(pos uint32) float32 { return s.invBodyLen[pos] }

func (s *Store) PageRank(pos uint32) float32 { return s.pageRank[pos] }

// Title decodes the title bytes at pos; invalid UTF-8 is replaced.
func (s *Store) Title(pos uint32) string {
	start, end := s.offsets[pos], s.offsets[pos+1]
	if end <= start {
		return ""
	}
	return strings.ToValidUTF8(string(s.titles.Data[start:end]), "�")
}

// Len is the number of documents N.
func (s *Store) Len() int { return len(s.offsets) - 1 }

// AvgBodyLength is the mean body length over documents with a known length.
func (s *Store) AvgBodyLength() float64 { return s.avgBodyLen }

func (s *Store) Close() error {
	var errs []error
	if s.titles != nil {
		errs = append(errs, s.titles.Close())
	}
	if s.posFile != nil {
		errs = append(errs, s.posFile.Close())
	}
	s.posOf = nil
	return errors.Join(errs...)
}
