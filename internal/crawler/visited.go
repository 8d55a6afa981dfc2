package crawler

import (
	"context"
	"sync"
)

// MemoryVisitedSet is an in-process VisitedSet backed by sync.Map.
type MemoryVisitedSet struct {
	seen sync.Map
}

// NewMemoryVisitedSet returns an empty set.
func NewMemoryVisitedSet() *MemoryVisitedSet {
	return &MemoryVisitedSet{}
}

// NewMemoryVisitedSetFactory is the default VisitedSetFactory.
func NewMemoryVisitedSetFactory(context.Context) VisitedSet {
	return NewMemoryVisitedSet()
}

// TryVisit stores the URL if it has not been seen before and returns true.
func (s *MemoryVisitedSet) TryVisit(_ context.Context, url string) (bool, error) {
	_, loaded := s.seen.LoadOrStore(url, struct{}{})
	return !loaded, nil
}
