package index

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
)

// Posting is one (doc id, term frequency) entry of a posting list.
type Posting struct {
	DocID uint64
	TF    uint32
}

// PostingList is ordered ascending by DocID.
type PostingList []Posting

// TermEntry pairs a term with its full posting list. The builder flushes
// TermEntry values in term order.
type TermEntry struct {
	Term     string
	Postings PostingList
}

// Default widths match the production artifacts: 4-byte doc id, 2-byte tf.
const (
	DefaultDocIDBits = 32
	DefaultTFBits    = 16
)

// Codec encodes postings into fixed-width big-endian slots of
// (DocIDBits+TFBits)/8 bytes. A Codec is an immutable value and safe for
// concurrent use.
type Codec struct {
	docIDBits int
	tfBits    int
	docBytes  int
	tfBytes   int
}

// NewCodec validates the widths. Both must be whole bytes; doc ids may use
// 32..64 bits and term frequencies 8..32 bits.
func NewCodec(docIDBits, tfBits int) (Codec, error) {
	if docIDBits%8 != 0 || docIDBits < 32 || docIDBits > 64 {
		return Codec{}, fmt.Errorf("doc id width %d: must be a multiple of 8 in [32, 64]", docIDBits)
	}
	if tfBits%8 != 0 || tfBits < 8 || tfBits > 32 {
		return Codec{}, fmt.Errorf("tf width %d: must be a multiple of 8 in [8, 32]", tfBits)
	}
	return Codec{
		docIDBits: docIDBits,
		tfBits:    tfBits,
		docBytes:  docIDBits / 8,
		tfBytes:   tfBits / 8,
	}, nil
}

// DefaultCodec returns the 6-byte codec.
func DefaultCodec() Codec {
	c, _ := NewCodec(DefaultDocIDBits, DefaultTFBits)
	return c
}

func (c Codec) DocIDBits() int { return c.docIDBits }

func (c Codec) TFBits() int { return c.tfBits }

// EntryWidth is the size in bytes of one encoded posting.
func (c Codec) EntryWidth() int { return c.docBytes + c.tfBytes }

// MaxDocID is the largest doc id the codec can represent.
func (c Codec) MaxDocID() uint64 { return maxForBits(c.docIDBits) }

// MaxTF is the largest term frequency the codec can represent.
func (c Codec) MaxTF() uint64 { return maxForBits(c.tfBits) }

// Encode returns the encoded entry.
func (c Codec) Encode(docID uint64, tf uint32) ([]byte, error) {
	return c.AppendEncode(make([]byte, 0, c.EntryWidth()), docID, tf)
}

// AppendEncode appends one encoded entry to dst.
func (c Codec) AppendEncode(dst []byte, docID uint64, tf uint32) ([]byte, error) {
	if docID > c.MaxDocID() {
		return dst, fmt.Errorf("doc id %d exceeds %d bits: %w", docID, c.docIDBits, apperrors.ErrEncodingRange)
	}
	if uint64(tf) > c.MaxTF() {
		return dst, fmt.Errorf("tf %d exceeds %d bits: %w", tf, c.tfBits, apperrors.ErrEncodingRange)
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], docID)
	dst = append(dst, tmp[8-c.docBytes:]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(tf))
	dst = append(dst, tmp[8-c.tfBytes:]...)
	return dst, nil
}

// Decode decodes exactly one entry.
func (c Codec) Decode(b []byte) (Posting, error) {
	if len(b) != c.EntryWidth() {
		return Posting{}, fmt.Errorf("decoding posting: got %d bytes, want %d", len(b), c.EntryWidth())
	}
	return c.decode(b), nil
}

// DecodeAll decodes a byte range that must hold a whole number of entries.
func (c Codec) DecodeAll(b []byte) (PostingList, error) {
	return c.AppendDecodeAll(nil, b)
}

// AppendDecodeAll decodes b and appends the entries to dst.
func (c Codec) AppendDecodeAll(dst PostingList, b []byte) (PostingList, error) {
	w := c.EntryWidth()
	if len(b)%w != 0 {
		return dst, fmt.Errorf("decoding postings: %d bytes is not a multiple of entry width %d", len(b), w)
	}
	if dst == nil {
		dst = make(PostingList, 0, len(b)/w)
	}
	for off := 0; off < len(b); off += w {
		dst = append(dst, c.decode(b[off:off+w]))
	}
	return dst, nil
}

func (c Codec) decode(b []byte) Posting {
	return Posting{
		DocID: readUint(b[:c.docBytes]),
		TF:    uint32(readUint(b[c.docBytes:])),
	}
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func maxForBits(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}
