package index

import (
	"sort"
	"sync"
)

// MemoryIndex accumulates term frequencies for the offline builder. Documents
// may be added from several goroutines.
type MemoryIndex struct {
	mu       sync.RWMutex
	index    map[string]map[uint64]uint32
	lengths  map[uint64]uint32
	docCount int
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:   make(map[string]map[uint64]uint32),
		lengths: make(map[uint64]uint32),
	}
}

// AddDocument records the tokens of one document. Adding the same doc id
// twice merges the frequencies.
func (m *MemoryIndex) AddDocument(docID uint64, tokens []string) {
	termData := make(map[string]uint32, len(tokens))
	for _, token := range tokens {
		termData[token]++
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for term, tf := range termData {
		docs, exists := m.index[term]
		if !exists {
			docs = make(map[uint64]uint32)
			m.index[term] = docs
			m.size += int64(len(term) + 48)
		}
		if _, seen := docs[docID]; !seen {
			m.size += 12
		}
		docs[docID] += tf
	}
	if _, seen := m.lengths[docID]; !seen {
		m.docCount++
	}
	m.lengths[docID] += uint32(len(tokens))
}

// Snapshot returns every term with its doc-ordered posting list, in term
// order.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: sortedPostings(docs),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// DocLengths returns the token count of every document added so far.
func (m *MemoryIndex) DocLengths() map[uint64]uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64]uint32, len(m.lengths))
	for id, n := range m.lengths {
		out[id] = n
	}
	return out
}

// Size is a rough estimate of the accumulated bytes: per-term map overhead
// plus one posting entry per (term, doc).
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// DocCount is the number of distinct documents added.
func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docCount
}

// Reset drops everything accumulated so far.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[uint64]uint32)
	m.lengths = make(map[uint64]uint32)
	m.docCount = 0
	m.size = 0
}

func sortedPostings(docs map[uint64]uint32) PostingList {
	postings := make(PostingList, 0, len(docs))
	for id, tf := range docs {
		postings = append(postings, Posting{DocID: id, TF: tf})
	}
	sort.Slice(postings, func(i, j int) bool {
		return postings[i].DocID < postings[j].DocID
	})
	return postings
}
