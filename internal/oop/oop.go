// Package oop implements the VM's universal reference cell: the tagged
// union of runtime values shared by operand stacks, locals, instance and
// array slots, and static storage (spec §3.1).
package oop

import (
	"sync"

	"github.com/pkg/errors"
)

// Kind tags the variant a Cell currently holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindStr
	KindInst
	KindArray
	KindMirror
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInt:
		return "Int"
	case KindLong:
		return "Long"
	case KindFloat:
		return "Float"
	case KindDouble:
		return "Double"
	case KindStr:
		return "Str"
	case KindInst:
		return "Inst"
	case KindArray:
		return "Array"
	case KindMirror:
		return "Mirror"
	default:
		return "Unknown"
	}
}

// ClassInfo is the sliver of a loaded class that the oop package needs to
// label Inst/Mirror cells. internal/classarea.Class implements this; oop
// cannot import classarea directly (classarea's static storage is itself
// made of *Cell), so the dependency runs through this interface instead.
type ClassInfo interface {
	BinaryName() string
}

// Cell is a reference-counted (by Go's GC, not an explicit counter),
// internally-mutable cell wrapping one Oop variant. Multiple slots may
// share the same Cell pointer; that sharing IS the ownership model.
type Cell struct {
	mu sync.Mutex

	kind Kind

	i32 int32
	i64 int64
	f32 float32
	f64 float64
	str []byte

	class  ClassInfo
	fields []*Cell // Inst.field_values / Mirror.field_values

	component string // Array.component_type
	elements  []*Cell
}

// Null is the single shared null-reference cell. Every NewNull() call and
// every zero-initialized reference slot returns this same pointer, so
// IfAcmpEq(Null, Null) is true the way `null == null` is true in Java.
var Null = &Cell{kind: KindNull}

// NewNull returns the shared null cell.
func NewNull() *Cell { return Null }

// NewInt boxes an int32.
func NewInt(v int32) *Cell { return &Cell{kind: KindInt, i32: v} }

// NewLong boxes an int64.
func NewLong(v int64) *Cell { return &Cell{kind: KindLong, i64: v} }

// NewFloat boxes a float32.
func NewFloat(v float32) *Cell { return &Cell{kind: KindFloat, f32: v} }

// NewDouble boxes a float64.
func NewDouble(v float64) *Cell { return &Cell{kind: KindDouble, f64: v} }

// NewStr wraps an immutable byte sequence backing java.lang.String char
// data. The caller must not mutate b after this call.
func NewStr(b []byte) *Cell { return &Cell{kind: KindStr, str: b} }

// SlotKind tells NewInst/NewArray/NewMirror what zero value a slot needs.
type SlotKind uint8

const (
	SlotRef SlotKind = iota
	SlotInt
	SlotLong
	SlotFloat
	SlotDouble
)

func zeroFor(k SlotKind) *Cell {
	switch k {
	case SlotInt:
		return NewInt(0)
	case SlotLong:
		return NewLong(0)
	case SlotFloat:
		return NewFloat(0)
	case SlotDouble:
		return NewDouble(0)
	default:
		return Null
	}
}

// NewInst allocates an instance cell with field_values sized to len(slots),
// each initialized per spec §4.1 ("Null for reference slots, primitive
// zero for primitive slots").
func NewInst(class ClassInfo, slots []SlotKind) *Cell {
	fields := make([]*Cell, len(slots))
	for i, k := range slots {
		fields[i] = zeroFor(k)
	}
	return &Cell{kind: KindInst, class: class, fields: fields}
}

// NewMirror allocates a Class<?> mirror cell, also used as the carrier for
// a class's static-field storage (spec §3.1).
func NewMirror(class ClassInfo, slots []SlotKind) *Cell {
	fields := make([]*Cell, len(slots))
	for i, k := range slots {
		fields[i] = zeroFor(k)
	}
	return &Cell{kind: KindMirror, class: class, fields: fields}
}

// NewArray allocates a Java array cell with length zero-initialized
// elements of the given component kind.
func NewArray(component string, componentKind SlotKind, length int) *Cell {
	elems := make([]*Cell, length)
	zero := zeroFor(componentKind)
	for i := range elems {
		elems[i] = zero
	}
	return &Cell{kind: KindArray, component: component, elements: elems}
}

// Kind returns the cell's current variant tag.
func (c *Cell) Kind() Kind { return c.kind }

// Class returns the owning class of an Inst or Mirror cell, or nil.
func (c *Cell) Class() ClassInfo { return c.class }

// Component returns an Array cell's component type descriptor.
func (c *Cell) Component() string { return c.component }

// Len returns the number of field slots (Inst/Mirror) or elements (Array).
func (c *Cell) Len() int {
	switch c.kind {
	case KindInst, KindMirror:
		return len(c.fields)
	case KindArray:
		return len(c.elements)
	default:
		return 0
	}
}

// ErrTypeMismatch is returned by the ExtractXxx projections when the
// cell's variant does not match the requested primitive type.
var ErrTypeMismatch = errors.New("oop: type mismatch")

// ErrOutOfBounds is returned by slot/element access outside the cell's
// allocated range.
var ErrOutOfBounds = errors.New("oop: index out of bounds")

// ErrNilReceiver is returned when a slot/element operation targets a
// non-container cell (Null, or a primitive/Str cell).
var ErrNilReceiver = errors.New("oop: not an instance, array, or mirror cell")

// ExtractInt projects an Int cell.
func ExtractInt(c *Cell) (int32, error) {
	if c == nil || c.kind != KindInt {
		return 0, ErrTypeMismatch
	}
	return c.i32, nil
}

// ExtractLong projects a Long cell.
func ExtractLong(c *Cell) (int64, error) {
	if c == nil || c.kind != KindLong {
		return 0, ErrTypeMismatch
	}
	return c.i64, nil
}

// ExtractFloat projects a Float cell.
func ExtractFloat(c *Cell) (float32, error) {
	if c == nil || c.kind != KindFloat {
		return 0, ErrTypeMismatch
	}
	return c.f32, nil
}

// ExtractDouble projects a Double cell.
func ExtractDouble(c *Cell) (float64, error) {
	if c == nil || c.kind != KindDouble {
		return 0, ErrTypeMismatch
	}
	return c.f64, nil
}

// ExtractStr projects a Str cell's backing bytes. The returned slice must
// not be mutated: string carriers are immutable after creation.
func ExtractStr(c *Cell) ([]byte, error) {
	if c == nil || c.kind != KindStr {
		return nil, ErrTypeMismatch
	}
	return c.str, nil
}

// IfAcmpEq reports whether a and b denote the same underlying cell —
// pointer identity, independent of structural content (spec §3.1, §8.4).
func IfAcmpEq(a, b *Cell) bool { return a == b }

// GetField reads field_values[slot] under the owning cell's lock (spec
// §4.2 get_field_value). Valid for Inst and Mirror cells.
func GetField(owner *Cell, slot int) (*Cell, error) {
	if owner == nil || (owner.kind != KindInst && owner.kind != KindMirror) {
		return nil, ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if slot < 0 || slot >= len(owner.fields) {
		return nil, ErrOutOfBounds
	}
	return owner.fields[slot], nil
}

// PutField writes field_values[slot] under the owning cell's lock.
func PutField(owner *Cell, slot int, v *Cell) error {
	if owner == nil || (owner.kind != KindInst && owner.kind != KindMirror) {
		return ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if slot < 0 || slot >= len(owner.fields) {
		return ErrOutOfBounds
	}
	owner.fields[slot] = v
	return nil
}

// GetElement reads elements[idx] under the array's lock.
func GetElement(arr *Cell, idx int) (*Cell, error) {
	if arr == nil || arr.kind != KindArray {
		return nil, ErrNilReceiver
	}
	arr.mu.Lock()
	defer arr.mu.Unlock()
	if idx < 0 || idx >= len(arr.elements) {
		return nil, ErrOutOfBounds
	}
	return arr.elements[idx], nil
}

// PutElement writes elements[idx] under the array's lock.
func PutElement(arr *Cell, idx int, v *Cell) error {
	if arr == nil || arr.kind != KindArray {
		return ErrNilReceiver
	}
	arr.mu.Lock()
	defer arr.mu.Unlock()
	if idx < 0 || idx >= len(arr.elements) {
		return ErrOutOfBounds
	}
	arr.elements[idx] = v
	return nil
}

// slotSlice returns the owner's slot-indexed storage (fields for
// Inst/Mirror, elements for Array) so the Unsafe-offset operations below
// can treat the three kinds uniformly, per spec §3.5.
func (c *Cell) slotSlice() ([]*Cell, error) {
	switch c.kind {
	case KindInst, KindMirror:
		return c.fields, nil
	case KindArray:
		return c.elements, nil
	default:
		return nil, ErrNilReceiver
	}
}

func (c *Cell) setSlot(idx int, v *Cell) error {
	switch c.kind {
	case KindInst, KindMirror:
		c.fields[idx] = v
	case KindArray:
		c.elements[idx] = v
	default:
		return ErrNilReceiver
	}
	return nil
}

// GetIntVolatile, GetLongVolatile and GetObjectVolatile implement the
// Unsafe.*Volatile reads: a lock-guarded read of a slot-indexed owner
// cell, uniform across instances, arrays, and mirrors (spec §3.5, §5).

func getVolatile(owner *Cell, offset int64) (*Cell, error) {
	if owner == nil {
		return nil, ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	slots, err := owner.slotSlice()
	if err != nil {
		return nil, err
	}
	if offset < 0 || int(offset) >= len(slots) {
		return nil, ErrOutOfBounds
	}
	return slots[offset], nil
}

// GetIntVolatile reads the field at offset and projects it as Int.
func GetIntVolatile(owner *Cell, offset int64) (int32, error) {
	v, err := getVolatile(owner, offset)
	if err != nil {
		return 0, err
	}
	return ExtractInt(v)
}

// GetLongVolatile reads the field at offset and projects it as Long.
func GetLongVolatile(owner *Cell, offset int64) (int64, error) {
	v, err := getVolatile(owner, offset)
	if err != nil {
		return 0, err
	}
	return ExtractLong(v)
}

// GetObjectVolatile reads the field at offset and returns it unprojected.
func GetObjectVolatile(owner *Cell, offset int64) (*Cell, error) {
	return getVolatile(owner, offset)
}

// PutObjectVolatile writes the field at offset under the owner's lock.
func PutObjectVolatile(owner *Cell, offset int64, v *Cell) error {
	if owner == nil {
		return ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	slots, err := owner.slotSlice()
	if err != nil {
		return err
	}
	if offset < 0 || int(offset) >= len(slots) {
		return ErrOutOfBounds
	}
	return owner.setSlot(int(offset), v)
}

// CompareAndSwapObject performs an atomic identity-based CAS on the field
// at offset, holding owner's lock across the whole read-compare-write —
// unlike the source this VM is grounded on, which released and reacquired
// the lock between the read and the write (spec §9's explicit correction).
func CompareAndSwapObject(owner *Cell, offset int64, old, new *Cell) (bool, error) {
	if owner == nil {
		return false, ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	slots, err := owner.slotSlice()
	if err != nil {
		return false, err
	}
	if offset < 0 || int(offset) >= len(slots) {
		return false, ErrOutOfBounds
	}
	if !IfAcmpEq(slots[offset], old) {
		return false, nil
	}
	_ = owner.setSlot(int(offset), new)
	return true, nil
}

// CompareAndSwapInt performs an atomic value-based CAS on an Int field.
func CompareAndSwapInt(owner *Cell, offset int64, old, new int32) (bool, error) {
	if owner == nil {
		return false, ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	slots, err := owner.slotSlice()
	if err != nil {
		return false, err
	}
	if offset < 0 || int(offset) >= len(slots) {
		return false, ErrOutOfBounds
	}
	cur, err := ExtractInt(slots[offset])
	if err != nil {
		return false, err
	}
	if cur != old {
		return false, nil
	}
	_ = owner.setSlot(int(offset), NewInt(new))
	return true, nil
}

// CompareAndSwapLong performs an atomic value-based CAS on a Long field.
func CompareAndSwapLong(owner *Cell, offset int64, old, new int64) (bool, error) {
	if owner == nil {
		return false, ErrNilReceiver
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	slots, err := owner.slotSlice()
	if err != nil {
		return false, err
	}
	if offset < 0 || int(offset) >= len(slots) {
		return false, ErrOutOfBounds
	}
	cur, err := ExtractLong(slots[offset])
	if err != nil {
		return false, err
	}
	if cur != old {
		return false, nil
	}
	_ = owner.setSlot(int(offset), NewLong(new))
	return true, nil
}

// ErrNullReference signals a NullPointerException-shaped condition at the
// oop layer; callers (internal/natives, internal/interp) map it onto the
// Java exception type.
var ErrNullReference = errors.New("oop: null reference")

// ErrArrayStore signals an ArrayStoreException-shaped condition.
var ErrArrayStore = errors.New("oop: array store type mismatch")

// ArrayCopy implements System.arraycopy's element-movement semantics
// (spec §4.5). Bounds and nullness are checked before any mutation.
func ArrayCopy(src *Cell, srcPos int, dest *Cell, destPos int, length int) error {
	if length == 0 {
		return nil
	}
	if src == nil || src == Null || dest == nil || dest == Null {
		return ErrNullReference
	}

	srcIsStr := src.kind == KindStr
	if !srcIsStr && src.kind != KindArray {
		return ErrArrayStore
	}
	if dest.kind != KindArray {
		return ErrArrayStore
	}

	if srcPos < 0 || destPos < 0 || length < 0 {
		return ErrOutOfBounds
	}

	if srcIsStr {
		// Widen each source byte to a boxed Int before assignment, per
		// spec §4.5 step 3.
		src.mu.Lock()
		if srcPos+length > len(src.str) {
			src.mu.Unlock()
			return ErrOutOfBounds
		}
		widened := make([]*Cell, length)
		for i := 0; i < length; i++ {
			widened[i] = NewInt(int32(src.str[srcPos+i]))
		}
		src.mu.Unlock()

		dest.mu.Lock()
		defer dest.mu.Unlock()
		if destPos+length > len(dest.elements) {
			return ErrOutOfBounds
		}
		copy(dest.elements[destPos:destPos+length], widened)
		return nil
	}

	if src == dest {
		// Same cell: a single lock acquisition, copy through an
		// intermediate buffer rather than re-entering the lock (spec
		// §4.1's required discipline, demonstrated by arraycopy).
		src.mu.Lock()
		defer src.mu.Unlock()
		if srcPos+length > len(src.elements) || destPos+length > len(src.elements) {
			return ErrOutOfBounds
		}
		buf := make([]*Cell, length)
		copy(buf, src.elements[srcPos:srcPos+length])
		copy(src.elements[destPos:destPos+length], buf)
		return nil
	}

	// Distinct cells: take the source lock, copy out what's needed,
	// release, then take the destination lock (spec §4.1 two-cell rule).
	src.mu.Lock()
	if srcPos+length > len(src.elements) {
		src.mu.Unlock()
		return ErrOutOfBounds
	}
	buf := make([]*Cell, length)
	copy(buf, src.elements[srcPos:srcPos+length])
	src.mu.Unlock()

	dest.mu.Lock()
	defer dest.mu.Unlock()
	if destPos+length > len(dest.elements) {
		return ErrOutOfBounds
	}
	copy(dest.elements[destPos:destPos+length], buf)
	return nil
}
