package timeline

import (
	"sort"
	"sync"

	"taskstream/internal/domain"
)

// processState is one process's slot in the store: the roster snapshot plus
// the derived entry cache. Entries are replaced wholesale on every update.
type processState struct {
	proc    domain.ExecutionProcess
	entries []domain.LogEntry
	fetched bool
}

// Store maps process id to state for one attempt. It is explicitly owned by
// an aggregator subscription and reset when the attempt identity changes,
// never ambient or shared across subscriptions.
type Store struct {
	mu    sync.Mutex
	items map[string]*processState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: map[string]*processState{}}
}

// Sync reconciles the store with the current roster: processes that left the
// roster are pruned, everyone else's process snapshot is refreshed.
func (s *Store) Sync(roster map[string]domain.ExecutionProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.items {
		if _, ok := roster[id]; !ok {
			delete(s.items, id)
		}
	}
	for id, proc := range roster {
		if st, ok := s.items[id]; ok {
			st.proc = proc
		} else {
			s.items[id] = &processState{proc: proc}
		}
	}
}

// NextUnfetched returns the most recently created process that is neither
// running nor fetched, re-evaluated against the live store so concurrent
// fetch loops never double-fetch.
func (s *Store) NextUnfetched() (domain.ExecutionProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *processState
	for _, st := range s.items {
		if st.fetched || st.proc.Status == domain.ProcessStatusRunning {
			continue
		}
		if best == nil || st.proc.CreatedAt.After(best.proc.CreatedAt) {
			best = st
		}
	}
	if best == nil {
		return domain.ExecutionProcess{}, false
	}
	return best.proc, true
}

// SetFetched stores a historic fetch result. Returns false when the process
// left the store while the fetch was in flight (the result is discarded).
func (s *Store) SetFetched(id string, entries []domain.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[id]
	if !ok {
		return false
	}
	st.entries = entries
	st.fetched = true
	return true
}

// SetEntries replaces a process's entries from a live update without marking
// it fetched (the live stream owns it until finished).
func (s *Store) SetEntries(id string, entries []domain.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[id]
	if !ok {
		return false
	}
	st.entries = entries
	return true
}

// MarkFetched flags a process as fetched, keeping whatever entries it has.
// Used when a live stream completes: the slot is already populated.
func (s *Store) MarkFetched(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.items[id]; ok {
		st.fetched = true
	}
}

// HasUnfetched reports whether any non-running process still awaits a
// historic fetch.
func (s *Store) HasUnfetched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.items {
		if !st.fetched && st.proc.Status != domain.ProcessStatusRunning {
			return true
		}
	}
	return false
}

// EntryCount returns the flattened entry count across all processes.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.items {
		n += len(st.entries)
	}
	return n
}

// Sorted returns a snapshot of all states ordered by process created_at
// ascending (id as tiebreaker). The returned slice and entry slices are the
// store's current values; callers treat them as read-only.
func (s *Store) Sorted() []processState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]processState, 0, len(s.items))
	for _, st := range s.items {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].proc.CreatedAt.Equal(out[j].proc.CreatedAt) {
			return out[i].proc.ID < out[j].proc.ID
		}
		return out[i].proc.CreatedAt.Before(out[j].proc.CreatedAt)
	})
	return out
}

// Reset drops everything. Called on attempt-identity change.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]*processState{}
}
