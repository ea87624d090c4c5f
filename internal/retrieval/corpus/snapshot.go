// Package corpus owns the corpus-statistics snapshot used for lexical
// scoring: the immutable Snapshot value, the Holder that swaps it atomically,
// and the loaders and refresher that keep it current.
package corpus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable table of corpus statistics. Callers must not
// modify a Snapshot after it has been published to a Holder.
type Snapshot struct {
	Version            int64            `json:"version"`
	BuiltAt            time.Time        `json:"built_at"`
	TotalDocuments     int64            `json:"total_documents"`
	AverageChunkLength float64          `json:"average_chunk_length"`
	DocumentFrequency  map[string]int64 `json:"document_frequency"`
}

// DocFreq returns the number of chunks containing term. Counts above
// TotalDocuments, possible in a stale snapshot, are clamped to it.
func (s *Snapshot) DocFreq(term string) int64 {
	df := s.DocumentFrequency[term]
	if df > s.TotalDocuments {
		return s.TotalDocuments
	}
	if df < 0 {
		return 0
	}
	return df
}

// Validate rejects snapshots the lexical scorer cannot use.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if s.TotalDocuments < 0 {
		return fmt.Errorf("snapshot %d: negative document count %d", s.Version, s.TotalDocuments)
	}
	if s.AverageChunkLength < 0 {
		return fmt.Errorf("snapshot %d: negative average chunk length %v", s.Version, s.AverageChunkLength)
	}
	return nil
}

// Source hands out the snapshot a request should use.
type Source interface {
	Current() *Snapshot
}

// Holder publishes the current snapshot to concurrent readers without
// locking. A reader keeps the pointer it loaded for the whole request.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns a Holder, optionally seeded with an initial snapshot.
func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	if initial != nil {
		h.current.Store(initial)
	}
	return h
}

// Current returns the snapshot in use, or nil before the first load.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap publishes next if it is newer than the current snapshot and returns
// the snapshot it replaced.
func (h *Holder) Swap(next *Snapshot) (prev *Snapshot, swapped bool) {
	for {
		cur := h.current.Load()
		if cur != nil && next.Version <= cur.Version {
			return cur, false
		}
		if h.current.CompareAndSwap(cur, next) {
			return cur, true
		}
	}
}

// Version returns the current snapshot version, or 0 when none is loaded.
func (h *Holder) Version() int64 {
	if s := h.current.Load(); s != nil {
		return s.Version
	}
	return 0
}
