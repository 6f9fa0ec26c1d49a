package index

import (
	"fmt"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// Fragment is one contiguous run of a term's postings inside a shard.
// Fragments of a term are stored in ascending doc id order.
type Fragment struct {
	Shard  uint32
	Offset int64
	Count  uint32
}

// TermInfo holds the statistics and posting locations of one term.
type TermInfo struct {
	DF        uint64
	CF        uint64
	Fragments []Fragment
}

// TermStats is the subset of TermInfo needed for scoring.
type TermStats struct {
	DF uint64
	CF uint64
}

// Metadata maps every term of one index to its statistics and fragments.
// It is built once offline, loaded once at startup and never mutated
// afterwards, so it may be shared freely between goroutines.
type Metadata struct {
	Name  string
	N     uint64
	Codec Codec
	Terms map[string]TermInfo
}

// NewMetadata returns empty metadata for an index of n documents.
func NewMetadata(name string, n uint64, codec Codec) *Metadata {
	return &Metadata{
		Name:  name,
		N:     n,
		Codec: codec,
		Terms: make(map[string]TermInfo),
	}
}

// Lookup returns the term's info and whether the term is known.
func (m *Metadata) Lookup(term string) (TermInfo, bool) {
	info, ok := m.Terms[term]
	return info, ok
}

// Stats returns the df/cf pair of a term.
func (m *Metadata) Stats(term string) (TermStats, bool) {
	info, ok := m.Terms[term]
	if !ok {
		return TermStats{}, false
	}
	return TermStats{DF: info.DF, CF: info.CF}, true
}

// FragmentBytes is the byte length of a fragment under this index's codec.
func (m *Metadata) FragmentBytes(f Fragment) int64 {
	return int64(f.Count) * int64(m.Codec.EntryWidth())
}

// SortedTerms returns the vocabulary in byte order.
func (m *Metadata) SortedTerms() []string {
	terms := make([]string, 0, len(m.Terms))
	for t := range m.Terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// ShardSizer reports the byte size of a shard, failing for unknown shards.
type ShardSizer interface {
	ShardSize(shard uint32) (int64, error)
}

// Validate checks the structural invariants the reader depends on: fragment
// counts add up to df, fragments are entry aligned, and every referenced
// byte range lies inside an existing shard. Violations wrap ErrMetadataLoad.
func (m *Metadata) Validate(shards ShardSizer) error {
	width := int64(m.Codec.EntryWidth())
	if width == 0 {
		return fmt.Errorf("index %s: codec not initialised: %w", m.Name, apperrors.ErrMetadataLoad)
	}
	sizes := make(map[uint32]int64)
	for term, info := range m.Terms {
		var total uint64
		for i, f := range info.Fragments {
			total += uint64(f.Count)
			if f.Offset < 0 || f.Offset%width != 0 {
				return fmt.Errorf("index %s: term %q fragment %d: offset %d not aligned to %d: %w",
					m.Name, term, i, f.Offset, width, apperrors.ErrMetadataLoad)
			}
			if shards == nil {
				continue
			}
			size, ok := sizes[f.Shard]
			if !ok {
				var err error
				size, err = shards.ShardSize(f.Shard)
				if err != nil {
					return fmt.Errorf("index %s: term %q references shard %d: %v: %w",
						m.Name, term, f.Shard, err, apperrors.ErrMetadataLoad)
				}
				sizes[f.Shard] = size
			}
			if end := f.Offset + m.FragmentBytes(f); end > size {
				return fmt.Errorf("index %s: term %q fragment %d ends at %d beyond shard %d size %d: %w",
					m.Name, term, i, end, f.Shard, size, apperrors.ErrMetadataLoad)
			}
		}
		if total != info.DF {
			return fmt.Errorf("index %s: term %q fragments hold %d postings, df is %d: %w",
				m.Name, term, total, info.DF, apperrors.ErrMetadataLoad)
		}
	}
	return nil
}
