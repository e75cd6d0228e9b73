// Package thread implements Thread State (spec C7, §3.4): the per-OS-thread
// frame chain, the pending-exception flag, and the cooperative interrupt
// flag. The flag is set and read only through Interrupt, Interrupted and
// ClearInterrupted; internal/interp does not poll it, at backward branches
// or anywhere else.
package thread

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/frame"
)

// State is one JVM thread's mutable execution context. Every field here is
// touched only by the owning goroutine except Interrupt, which is set from
// outside and observed cooperatively (spec §5's cancellation model).
type State struct {
	ID uuid.UUID

	frames []*frame.Frame

	// PendingException is this VM's thread-local nullable exception
	// reference (spec's "Pending-exception flag"). It is single-threaded:
	// only the owning thread's interpreter reads or clears it.
	PendingException *classarea.JavaException

	interrupted int32
}

// New allocates a thread with a fresh diagnostic identity.
func New() *State {
	return &State{ID: uuid.New()}
}

// PushFrame enters a new activation record.
func (s *State) PushFrame(f *frame.Frame) { s.frames = append(s.frames, f) }

// PopFrame leaves the current activation record, returning it.
func (s *State) PopFrame() *frame.Frame {
	n := len(s.frames)
	if n == 0 {
		panic("thread: pop from empty frame chain")
	}
	f := s.frames[n-1]
	s.frames = s.frames[:n-1]
	return f
}

// CurrentFrame returns the top of the frame chain, or nil if empty.
func (s *State) CurrentFrame() *frame.Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth reports the current frame chain length, for stack-overflow checks.
func (s *State) Depth() int { return len(s.frames) }

// Raise sets the pending-exception flag (spec §4.5's "if set, unwind").
func (s *State) Raise(ex *classarea.JavaException) { s.PendingException = ex }

// HasPendingException reports whether an exception is in flight.
func (s *State) HasPendingException() bool { return s.PendingException != nil }

// ClearException clears the pending-exception flag (on successful handler match).
func (s *State) ClearException() { s.PendingException = nil }

// Interrupt sets the thread's interrupt flag.
func (s *State) Interrupt() { atomic.StoreInt32(&s.interrupted, 1) }

// Interrupted reports whether Interrupt has been called.
func (s *State) Interrupted() bool { return atomic.LoadInt32(&s.interrupted) != 0 }

// ClearInterrupted resets the interrupt flag, mirroring Thread.interrupted()'s
// test-and-clear semantics.
func (s *State) ClearInterrupted() bool {
	return atomic.SwapInt32(&s.interrupted, 0) != 0
}
