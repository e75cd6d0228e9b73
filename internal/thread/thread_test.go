package thread

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/frame"
)

func newTestFrame(name string) *frame.Frame {
	m := &classarea.Method{
		Name: name, Descriptor: "()V",
		Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 1, Code: []byte{0xb1}},
	}
	return frame.New(m, nil)
}

func TestNewAssignsDistinctIdentity(t *testing.T) {
	a := New()
	b := New()
	require.NotEqual(t, a.ID, b.ID)
}

func TestPushPopFrameOrdering(t *testing.T) {
	s := New()
	f1 := newTestFrame("a")
	f2 := newTestFrame("b")

	s.PushFrame(f1)
	s.PushFrame(f2)
	require.Equal(t, 2, s.Depth())
	require.Same(t, f2, s.CurrentFrame())

	require.Same(t, f2, s.PopFrame())
	require.Same(t, f1, s.CurrentFrame())
	require.Same(t, f1, s.PopFrame())
	require.Equal(t, 0, s.Depth())
}

func TestPopFrameOnEmptyChainPanics(t *testing.T) {
	s := New()
	require.Panics(t, func() { s.PopFrame() })
}

func TestPendingExceptionRoundTrip(t *testing.T) {
	s := New()
	require.False(t, s.HasPendingException())

	ex := &classarea.JavaException{ClassName: "java/lang/ArithmeticException"}
	s.Raise(ex)
	require.True(t, s.HasPendingException())
	require.Same(t, ex, s.PendingException)

	s.ClearException()
	require.False(t, s.HasPendingException())
}

func TestInterruptTestAndClear(t *testing.T) {
	s := New()
	require.False(t, s.Interrupted())

	s.Interrupt()
	require.True(t, s.Interrupted())

	require.True(t, s.ClearInterrupted())
	require.False(t, s.Interrupted())
	require.False(t, s.ClearInterrupted())
}
