package docmeta

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// Record is one document's metadata as produced by the offline builder.
type Record struct {
	DocID      uint64
	Title      string
	BodyLength uint32
	BodyNorm   float64
	PageRank   float64
}

// Write lays out records in the given order as positions 0..N-1 and writes
// every doc metadata file into dir. Float arrays use precision.
func Write(dir string, records []Record, precision DType) error {
	if len(records) >= int(AbsentPos) {
		return fmt.Errorf("%d documents do not fit uint32 positions: %w", len(records), apperrors.ErrEncodingRange)
	}
	var maxID uint64
	for _, r := range records {
		if r.DocID > maxID {
			maxID = r.DocID
		}
	}
	var posOf []uint32
	if len(records) > 0 {
		posOf = make([]uint32, maxID+1)
		for i := range posOf {
			posOf[i] = AbsentPos
		}
	}

	n := len(records)
	norms := make([]float64, n)
	invLens := make([]float64, n)
	ranks := make([]float64, n)
	offsets := make([]uint64, 0, n+1)
	var titles []byte
	for pos, r := range records {
		if posOf[r.DocID] != AbsentPos {
			return fmt.Errorf("doc %d appears twice: %w", r.DocID, apperrors.ErrInvalidInput)
		}
		posOf[r.DocID] = uint32(pos)
		norms[pos] = r.BodyNorm
		if r.BodyLength > 0 {
			invLens[pos] = 1 / float64(r.BodyLength)
		}
		ranks[pos] = r.PageRank
		offsets = append(offsets, uint64(len(titles)))
		titles = append(titles, r.Title...)
	}
	offsets = append(offsets, uint64(len(titles)))

	files := map[string][]byte{
		DocIDToPosFile:   encodeUint32s(posOf),
		TitleOffsetsFile: encodeUint64s(offsets),
		TitlesFile:       titles,
	}
	for name, values := range map[string][]float64{
		BodyNormFile:   norms,
		InvBodyLenFile: invLens,
		PageRankFile:   ranks,
	} {
		if precision == DTypeFloat16 {
			for _, v := range values {
				if math.Abs(v) > 65504 {
					return fmt.Errorf("%s: %g overflows float16: %w", name, v, apperrors.ErrEncodingRange)
				}
			}
		}
		data, err := encodeFloats(precision, values)
		if err != nil {
			return err
		}
		files[name] = data
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating doc metadata directory: %w", err)
	}
	for name, data := range files {
		if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
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
	return os.Rename(tmpPath, path)
}
