// Package ledger holds the orchestrator's process-local bookkeeping: which
// claims have been handled and how many notifications went out recently.
package ledger

import "sync"

// ProcessedSet records claim ids that have been fully handled.
type ProcessedSet struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	order []string
}

// NewProcessedSet creates an empty set, optionally pre-populated.
func NewProcessedSet(ids ...string) *ProcessedSet {
	s := &ProcessedSet{ids: make(map[string]struct{}, len(ids))}
	s.Restore(ids)
	return s
}

// IsProcessed reports whether claimID was marked before.
func (s *ProcessedSet) IsProcessed(claimID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[claimID]
	return ok
}

// MarkProcessed adds claimID. It returns false if it was already present.
func (s *ProcessedSet) MarkProcessed(claimID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[claimID]; ok {
		return false
	}
	s.ids[claimID] = struct{}{}
	s.order = append(s.order, claimID)
	return true
}

// Len returns the number of processed ids.
func (s *ProcessedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns ids in the order they were marked.
func (s *ProcessedSet) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Restore merges ids into the set, keeping their order after existing entries.
func (s *ProcessedSet) Restore(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.order = append(s.order, id)
	}
}
