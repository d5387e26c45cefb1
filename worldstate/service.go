package worldstate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Service is the WorldState service of §4.3: many concurrent snapshot
// readers, at most one writer at a time gated by an exclusive permit. This
// is the Go analogue of original_source's
// `Arc<Mutex<WorldState>>` + `tokio::sync::Semaphore` pair in
// `world_state/mod.rs`.
type Service struct {
	mu      sync.RWMutex
	current *WorldState
	writer  *semaphore.Weighted
}

// NewService returns a Service seeded with an empty WorldState.
func NewService() *Service {
	return NewServiceWithState(New())
}

// NewServiceWithState returns a Service seeded with the given state, e.g.
// after replaying the block store on startup.
func NewServiceWithState(ws *WorldState) *Service {
	return &Service{current: ws, writer: semaphore.NewWeighted(1)}
}

// Snapshot returns the current WorldState. The returned pointer is never
// mutated in place by the Service — every write publishes a brand-new
// WorldState — so callers may read it freely without locking, observing a
// consistent prefix of committed blocks (§5).
func (s *Service) Snapshot() *WorldState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Writable is an exclusive, mutable view of the WorldState. Obtained from
// Service.AcquireWritable and published back with Commit, or abandoned
// with Discard.
type Writable struct {
	service *Service
	state   *WorldState
	done    bool
}

// State returns the mutable WorldState. Safe to mutate freely: it is a
// private clone until Commit publishes it.
func (w *Writable) State() *WorldState {
	return w.state
}

// Commit atomically publishes state for subsequent Snapshot calls and
// releases the writer permit.
func (w *Writable) Commit() {
	w.service.mu.Lock()
	w.service.current = w.state
	w.service.mu.Unlock()
	w.release()
}

// Discard releases the writer permit without publishing any change, e.g.
// after a failed block-store append (§7: block-store IO errors are fatal,
// but a Discard still exists for is for completeness of callers that bail
// out before building a Writable's final value).
func (w *Writable) Discard() {
	w.release()
}

func (w *Writable) release() {
	if w.done {
		return
	}
	w.done = true
	w.service.writer.Release(1)
}

// AcquireWritable suspends until the single outstanding writer permit is
// available, then returns an exclusive, mutable copy-on-write view seeded
// from the current snapshot.
func (s *Service) AcquireWritable(ctx context.Context) (*Writable, error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Writable{service: s, state: s.Snapshot().Clone()}, nil
}
