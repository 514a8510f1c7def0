package artifact

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrEmptySlot is returned when an operation requires a current artifact.
var ErrEmptySlot = errors.New("slot has no current artifact")

// Slot owns up to two artifacts of one effect: current and old.
//
// Current is read lock-free by the rendering side. Old is only set between
// a successful Swap and the explicit TakeOld call. A Swap issued while old
// is still held waits for it to be taken, so old is never overwritten.
type Slot struct {
	current atomic.Pointer[Artifact]

	m        sync.Mutex
	old      *Artifact
	released chan struct{} // closed when old is taken.
}

// Current returns the live artifact or nil if nothing was built yet.
func (s *Slot) Current() *Artifact {
	return s.current.Load()
}

// Old returns the superseded artifact if it was not released yet.
func (s *Slot) Old() *Artifact {
	s.m.Lock()
	defer s.m.Unlock()
	return s.old
}

// Init publishes the first artifact. It fails if the slot already holds
// a current artifact.
func (s *Slot) Init(a *Artifact) bool {
	return s.current.CompareAndSwap(nil, a)
}

// Swap publishes a as current and moves the previous current into old.
// If old is still held, Swap blocks until it's taken or ctx is done.
// Returns the artifact that became old, which is nil for an empty slot.
func (s *Slot) Swap(ctx context.Context, a *Artifact) (*Artifact, error) {
	for {
		s.m.Lock()
		if s.old == nil {
			break
		}
		released := s.released
		s.m.Unlock()
		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer s.m.Unlock()

	prev := s.current.Swap(a)
	if prev != nil {
		s.old = prev
		s.released = make(chan struct{})
	}
	return prev, nil
}

// TakeOld clears old and returns it. Waiting swaps are resumed.
func (s *Slot) TakeOld() *Artifact {
	s.m.Lock()
	defer s.m.Unlock()
	old := s.old
	if old != nil {
		s.old = nil
		close(s.released)
		s.released = nil
	}
	return old
}

// Clear empties the slot and returns both artifacts.
func (s *Slot) Clear() (current, old *Artifact) {
	old = s.TakeOld()
	current = s.current.Swap(nil)
	return
}
