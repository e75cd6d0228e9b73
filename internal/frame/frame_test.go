package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/oop"
)

func newTestFrame(maxLocals, maxStack uint16, code []byte) *Frame {
	m := &classarea.Method{
		Name: "test", Descriptor: "()V",
		Code: &classfile.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: code},
	}
	return New(m, nil)
}

func TestPushPopRoundTrip(t *testing.T) {
	f := newTestFrame(1, 4, nil)
	f.Push(oop.NewInt(7))
	f.Push(oop.NewLong(99))

	n, err := f.PopLong()
	require.NoError(t, err)
	require.Equal(t, int64(99), n)

	i, err := f.PopInt()
	require.NoError(t, err)
	require.Equal(t, int32(7), i)
}

func TestDupX1(t *testing.T) {
	f := newTestFrame(1, 4, nil)
	f.Push(oop.NewInt(1))
	f.Push(oop.NewInt(2))
	f.DupX1()

	require.Equal(t, 3, f.SP())
	top, _ := f.PopInt()
	require.Equal(t, int32(2), top)
	mid, _ := f.PopInt()
	require.Equal(t, int32(1), mid)
	bot, _ := f.PopInt()
	require.Equal(t, int32(2), bot)
}

func TestSwap(t *testing.T) {
	f := newTestFrame(1, 4, nil)
	f.Push(oop.NewInt(1))
	f.Push(oop.NewInt(2))
	f.Swap()

	top, _ := f.PopInt()
	require.Equal(t, int32(1), top)
	bottom, _ := f.PopInt()
	require.Equal(t, int32(2), bottom)
}

func TestOperandStackOverflowPanics(t *testing.T) {
	f := newTestFrame(1, 1, nil)
	f.Push(oop.NewInt(1))
	require.Panics(t, func() { f.Push(oop.NewInt(2)) })
}

func TestLocalIndexOutOfRangePanics(t *testing.T) {
	f := newTestFrame(2, 1, nil)
	require.Panics(t, func() { f.GetLocal(5) })
}

func TestImmediateReaders(t *testing.T) {
	f := newTestFrame(1, 1, []byte{0x00, 0xFF, 0x01, 0x02})
	require.Equal(t, uint8(0x00), f.ReadU8())
	require.Equal(t, int8(-1), f.ReadI8())
	require.Equal(t, uint16(0x0102), f.ReadU16())
}
