// Package checkpoint holds conversation state keyed by thread id. The
// in-memory store is the only mutable shared state in the runtime; it is
// mutated exclusively by the reasoning loop's load/save steps under the
// per-thread serialization discipline enforced by Acquire/Release.
package checkpoint

import (
	"fmt"
	"sync"

	"github.com/maplemetrics/finagent/core"
)

// Store persists threads and serializes turns per thread id.
//
// Acquire marks a thread id as having a turn in flight. A second Acquire for
// a busy id is REJECTED with core.ErrThreadBusy rather than queued; callers
// may retry after the in-flight turn completes. Release must be called
// exactly once per successful Acquire.
type Store interface {
	// Load returns a working copy of the thread, or an empty thread for an
	// unseen id.
	Load(threadID string) (*core.Thread, error)

	// Save stores a snapshot of the thread under its id.
	Save(threadID string, thread *core.Thread) error

	// Acquire claims the per-thread turn slot.
	Acquire(threadID string) error

	// Release frees the per-thread turn slot.
	Release(threadID string)
}

// InMemoryStore is a volatile Store implementation keeping threads in a
// process-local map. Backing storage is process-lifetime by design;
// durability is an external concern. Returned and stored threads are cloned
// both ways so callers never share mutable state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*core.Thread
	busy    map[string]bool
}

// compile-time assertion
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads: make(map[string]*core.Thread),
		busy:    make(map[string]bool),
	}
}

// Load returns a clone of the stored thread, or a fresh empty thread for an
// unseen id. Load never implicitly registers the thread; only Save does.
func (s *InMemoryStore) Load(threadID string) (*core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if thread, ok := s.threads[threadID]; ok {
		return thread.Clone(), nil
	}
	return core.NewThread(threadID), nil
}

// Save stores a clone of the provided thread snapshot. A Save followed by a
// Load on the same id within the same process observes exactly the saved
// state.
func (s *InMemoryStore) Save(threadID string, thread *core.Thread) error {
	if thread == nil {
		return fmt.Errorf("nil thread for id %s", threadID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = thread.Clone()
	return nil
}

// Acquire claims the turn slot for a thread id, rejecting busy ids with
// core.ErrThreadBusy.
func (s *InMemoryStore) Acquire(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[threadID] {
		return fmt.Errorf("thread %s: %w", threadID, core.ErrThreadBusy)
	}
	s.busy[threadID] = true
	return nil
}

// Release frees the turn slot for a thread id. Releasing an id that is not
// held is a no-op.
func (s *InMemoryStore) Release(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, threadID)
}
