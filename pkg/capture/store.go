package capture

import (
	"sync"

	"github.com/irctrakz/wildprobe/pkg/core"
)

// Store is an append-only, arrival-ordered record buffer shared between
// the capture goroutine and application goroutines.
type Store struct {
	mu      sync.Mutex
	records []core.CaptureRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds rec and returns the new record count.
func (s *Store) Append(rec core.CaptureRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return len(s.records)
}

// Snapshot returns a copy of the records. Later appends or clears do not
// affect the returned slice.
func (s *Store) Snapshot() []core.CaptureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CaptureRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear removes all records and returns how many there were.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	// Drop the backing array so snapshots never share it.
	s.records = nil
	return n
}
