// Package frame implements the per-invocation activation record: locals,
// a bounded operand stack, and the pc cursor used to walk a method's
// bytecode (spec C3, §4.3).
package frame

import (
	"fmt"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/oop"
)

// Frame is one activation record. Operand stack slots and locals are
// single-width regardless of category: this VM keeps Long/Double in one
// logical slot, matching the field-slot contract (spec §9).
type Frame struct {
	Method *classarea.Method
	Class  *classarea.Class

	Locals []*oop.Cell
	stack  []*oop.Cell
	sp     int

	Code []byte
	PC   int
}

// New allocates a Frame sized by the method's max_locals/max_stack.
func New(method *classarea.Method, class *classarea.Class) *Frame {
	return &Frame{
		Method: method,
		Class:  class,
		Locals: make([]*oop.Cell, method.Code.MaxLocals),
		stack:  make([]*oop.Cell, method.Code.MaxStack),
		Code:   method.Code.Code,
	}
}

// Push pushes a cell onto the operand stack. Exceeding max_stack is a VM
// invariant violation (spec §4.3), not a Java exception.
func (f *Frame) Push(v *oop.Cell) {
	if f.sp >= len(f.stack) {
		panic(fmt.Sprintf("frame: operand stack overflow: sp=%d max=%d", f.sp, len(f.stack)))
	}
	f.stack[f.sp] = v
	f.sp++
}

// Pop pops the top cell off the operand stack, with no type check.
func (f *Frame) Pop() *oop.Cell {
	if f.sp <= 0 {
		panic("frame: operand stack underflow")
	}
	f.sp--
	v := f.stack[f.sp]
	f.stack[f.sp] = nil
	return v
}

// Peek returns the cell at depth back from the top without popping
// (depth 0 is the top of stack).
func (f *Frame) Peek(depth int) *oop.Cell {
	idx := f.sp - 1 - depth
	if idx < 0 || idx >= f.sp {
		panic(fmt.Sprintf("frame: peek out of range: depth=%d sp=%d", depth, f.sp))
	}
	return f.stack[idx]
}

// SP returns the current operand stack depth, for diagnostics and tests.
func (f *Frame) SP() int { return f.sp }

// PopInt pops and projects an Int.
func (f *Frame) PopInt() (int32, error) { return oop.ExtractInt(f.Pop()) }

// PopLong pops and projects a Long.
func (f *Frame) PopLong() (int64, error) { return oop.ExtractLong(f.Pop()) }

// PopFloat pops and projects a Float.
func (f *Frame) PopFloat() (float32, error) { return oop.ExtractFloat(f.Pop()) }

// PopDouble pops and projects a Double.
func (f *Frame) PopDouble() (float64, error) { return oop.ExtractDouble(f.Pop()) }

// PopRef pops a reference cell (Null, Inst, Array, Mirror, or Str); no
// projection is applied since references are passed around opaquely.
func (f *Frame) PopRef() *oop.Cell { return f.Pop() }

// Dup duplicates the top of stack.
func (f *Frame) Dup() { f.Push(f.Peek(0)) }

// DupX1 duplicates the top value and inserts the copy two slots down.
func (f *Frame) DupX1() {
	a := f.Pop()
	b := f.Pop()
	f.Push(a)
	f.Push(b)
	f.Push(a)
}

// Dup2 duplicates the top two values as a pair (this VM never splits a
// category-2 value across two slots, so dup2 is always "top two slots").
func (f *Frame) Dup2() {
	b := f.Peek(1)
	a := f.Peek(0)
	f.Push(b)
	f.Push(a)
}

// Dup2X1 duplicates the top two values and inserts the copy below a
// third.
func (f *Frame) Dup2X1() {
	a := f.Pop()
	b := f.Pop()
	c := f.Pop()
	f.Push(b)
	f.Push(a)
	f.Push(c)
	f.Push(b)
	f.Push(a)
}

// DupX2 duplicates the top value and inserts the copy below the two
// values beneath it.
func (f *Frame) DupX2() {
	a := f.Pop()
	b := f.Pop()
	c := f.Pop()
	f.Push(a)
	f.Push(c)
	f.Push(b)
	f.Push(a)
}

// Dup2X2 duplicates the top two values and inserts the copy below the
// pair beneath them.
func (f *Frame) Dup2X2() {
	a := f.Pop()
	b := f.Pop()
	c := f.Pop()
	d := f.Pop()
	f.Push(b)
	f.Push(a)
	f.Push(d)
	f.Push(c)
	f.Push(b)
	f.Push(a)
}

// ClearStack empties the operand stack, per spec §4.5's unwind step
// ("clear the operand stack, push the exception").
func (f *Frame) ClearStack() {
	for i := range f.stack[:f.sp] {
		f.stack[i] = nil
	}
	f.sp = 0
}

// Swap exchanges the top two operand stack values.
func (f *Frame) Swap() {
	a := f.Pop()
	b := f.Pop()
	f.Push(a)
	f.Push(b)
}

// GetLocal reads a local variable slot.
func (f *Frame) GetLocal(index int) *oop.Cell {
	if index < 0 || index >= len(f.Locals) {
		panic(fmt.Sprintf("frame: local index out of range: index=%d max=%d", index, len(f.Locals)))
	}
	return f.Locals[index]
}

// SetLocal writes a local variable slot.
func (f *Frame) SetLocal(index int, v *oop.Cell) {
	if index < 0 || index >= len(f.Locals) {
		panic(fmt.Sprintf("frame: local index out of range: index=%d max=%d", index, len(f.Locals)))
	}
	f.Locals[index] = v
}

// ReadU8 reads an unsigned byte operand and advances pc.
func (f *Frame) ReadU8() uint8 {
	v := f.Code[f.PC]
	f.PC++
	return v
}

// ReadI8 reads a signed byte operand and advances pc.
func (f *Frame) ReadI8() int8 {
	v := int8(f.Code[f.PC])
	f.PC++
	return v
}

// ReadU16 reads a big-endian unsigned 16-bit operand and advances pc by 2.
func (f *Frame) ReadU16() uint16 {
	v := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return v
}

// ReadI16 reads a big-endian signed 16-bit operand and advances pc by 2.
func (f *Frame) ReadI16() int16 {
	v := int16(f.Code[f.PC])<<8 | int16(f.Code[f.PC+1])
	f.PC += 2
	return v
}

// ReadI32 reads a big-endian signed 32-bit operand and advances pc by 4
// (the width of goto_w, jsr_w, and the tableswitch/lookupswitch operand
// words; internal/interp reads those from opcodes.Instruction instead).
func (f *Frame) ReadI32() int32 {
	v := int32(f.Code[f.PC])<<24 | int32(f.Code[f.PC+1])<<16 | int32(f.Code[f.PC+2])<<8 | int32(f.Code[f.PC+3])
	f.PC += 4
	return v
}
