// Package worklist tracks the indexes awaiting processing.
package worklist

import (
	"sync"

	"github.com/plenny-labs/dlsp/internal/metrics"
)

// Set is a deduplicated, insertion-ordered set of registry indexes. It is
// safe for concurrent use.
type Set struct {
	name  string
	mu    sync.Mutex
	order []uint64
	index map[uint64]struct{}
}

// New creates an empty set. name labels the set in logs and metrics.
func New(name string) *Set {
	return &Set{name: name, index: make(map[uint64]struct{})}
}

// Name returns the set's label.
func (s *Set) Name() string { return s.name }

// Add inserts idx. Returns false if it was already present.
func (s *Set) Add(idx uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[idx]; ok {
		return false
	}
	s.index[idx] = struct{}{}
	s.order = append(s.order, idx)
	s.report()
	return true
}

// Remove deletes idx. Returns false if it was absent.
func (s *Set) Remove(idx uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[idx]; !ok {
		return false
	}
	delete(s.index, idx)
	for i, v := range s.order {
		if v == idx {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.report()
	return true
}

// Contains reports whether idx is present.
func (s *Set) Contains(idx uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[idx]
	return ok
}

// Len returns the number of indexes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns a copy of the indexes in insertion order.
func (s *Set) Snapshot() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.order...)
}

func (s *Set) report() {
	metrics.WorkSetSize.WithLabelValues(s.name).Set(float64(len(s.order)))
}
