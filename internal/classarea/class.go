// Package classarea implements the Class & Method Area (spec C2) and the
// Field/Offset Model (C9): loaded class metadata, field-slot assignment,
// method lookup, and the at-most-once initialization protocol.
package classarea

import (
	"fmt"
	"sync"

	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/oop"
)

// InitState is a class's position in the Loaded -> BeingInitialized ->
// Initialized|Errored lifecycle (spec §4.2).
type InitState uint8

const (
	Loaded InitState = iota
	BeingInitialized
	Initialized
	Errored
)

func (s InitState) String() string {
	switch s {
	case Loaded:
		return "Loaded"
	case BeingInitialized:
		return "BeingInitialized"
	case Initialized:
		return "Initialized"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Field is a declared field plus its assigned storage slot.
type Field struct {
	Name       string
	Descriptor string
	AccessFlags uint16
	Slot       int
	Kind       oop.SlotKind
}

func (f *Field) IsStatic() bool { return f.AccessFlags&classfile.AccStatic != 0 }

// MethodID is the opaque (name, descriptor) key spec.md §3.2 requires for
// stable method lookup.
type MethodID string

func methodID(name, descriptor string) MethodID {
	return MethodID(name + "\x00" + descriptor)
}

// NewMethodID builds the opaque lookup key for a (name, descriptor) pair,
// for callers outside this package that need to resolve a method by hand
// (internal/natives driving a callback through a Properties-shaped class).
func NewMethodID(name, descriptor string) MethodID { return methodID(name, descriptor) }

// Method is a declared method plus its decoded Code attribute.
type Method struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
	Code        *classfile.CodeAttribute
	Owner       *Class
}

func (m *Method) IsStatic() bool { return m.AccessFlags&classfile.AccStatic != 0 }
func (m *Method) IsNative() bool { return m.AccessFlags&classfile.AccNative != 0 }
func (m *Method) ID() MethodID   { return methodID(m.Name, m.Descriptor) }

// Class is a loaded, linked type in the class area. Its fields above the
// mutex are set once at link time and never change; init state and the
// static storage mirror mutate under lock.
type Class struct {
	ClassName    string // binary name, e.g. "java/lang/Object"
	Super        *Class // nil for java/lang/Object
	Interfaces   []*Class
	ConstantPool []classfile.ConstantPoolEntry
	AccessFlags  uint16

	fields      []*Field          // declared, non-static, in slot order
	staticField []*Field          // declared static fields, in slot order
	methods     map[MethodID]*Method

	totalInstanceSlots int // this class's instance slots + inherited

	mu        sync.Mutex
	state     InitState
	initBy    string // diagnostic: thread identity currently running <clinit>
	initErr   error
	mirror    *oop.Cell // Mirror cell; also the static-field carrier (spec §3.1)

	constantsMu sync.Mutex
	constants   map[uint16]*oop.Cell // ldc cache, interning one cell per pool index
}

// BinaryName implements oop.ClassInfo.
func (c *Class) BinaryName() string { return c.ClassName }

var _ oop.ClassInfo = (*Class)(nil)

func (c *Class) Mirror() *oop.Cell { return c.mirror }

// State returns the class's current lifecycle state.
func (c *Class) State() InitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TotalInstanceSlots is this class's declared non-static field count plus
// every ancestor's, i.e. the size new_inst must allocate.
func (c *Class) TotalInstanceSlots() int { return c.totalInstanceSlots }

// GetFieldID resolves a field by name and descriptor, walking the
// superclass chain when searchSuper is set (spec §3.2, §4.2).
func (c *Class) GetFieldID(name, descriptor string, static, searchSuper bool) (*Field, error) {
	for cls := c; cls != nil; cls = cls.Super {
		list := cls.fields
		if static {
			list = cls.staticField
		}
		for _, f := range list {
			if f.Name == name && f.Descriptor == descriptor {
				return f, nil
			}
		}
		if !searchSuper {
			break
		}
	}
	return nil, fmt.Errorf("classarea: no such field %s.%s:%s (static=%v)", c.ClassName, name, descriptor, static)
}

// GetClassMethod looks up a method declared directly on c (invokestatic,
// invokespecial resolution start).
func (c *Class) GetClassMethod(id MethodID) (*Method, bool) {
	m, ok := c.methods[id]
	return m, ok
}

// GetVirtualMethod resolves a method id by walking c's superclass chain,
// per spec §3.2's virtual dispatch rule.
func (c *Class) GetVirtualMethod(id MethodID) (*Method, error) {
	for cls := c; cls != nil; cls = cls.Super {
		if m, ok := cls.methods[id]; ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("classarea: no virtual method %s found from %s", id, c.ClassName)
}

// IsSubclassOf reports whether c is assignable to target (walks the
// superclass chain; interfaces are not consulted here since exception
// catch-type matching in this VM only needs class hierarchy, per spec §4.5).
func (c *Class) IsSubclassOf(target *Class) bool {
	for cls := c; cls != nil; cls = cls.Super {
		if cls == target {
			return true
		}
	}
	return false
}

// GetStaticField reads static_field_values[slot] under the mirror cell's
// lock (spec §4.2's "atomic under the class's lock").
func (c *Class) GetStaticField(f *Field) (*oop.Cell, error) {
	return oop.GetField(c.mirror, f.Slot)
}

// PutStaticField writes static_field_values[slot] under the mirror's lock.
func (c *Class) PutStaticField(f *Field, v *oop.Cell) error {
	return oop.PutField(c.mirror, f.Slot, v)
}

// GetFieldValue reads inst.field_values[slot], per spec §4.2.
func GetFieldValue(inst *oop.Cell, f *Field) (*oop.Cell, error) {
	return oop.GetField(inst, f.Slot)
}

// PutFieldValue writes inst.field_values[slot].
func PutFieldValue(inst *oop.Cell, f *Field, v *oop.Cell) error {
	return oop.PutField(inst, f.Slot, v)
}

// ResolveConstant resolves a loadable constant pool entry (ldc/ldc_w/
// ldc2_w) to an Oop cell, caching the result so repeated ldc of the same
// index returns the same cell — real JVMs intern resolved constant-pool
// entries the same way.
func (c *Class) ResolveConstant(index uint16) (*oop.Cell, error) {
	c.constantsMu.Lock()
	if c.constants == nil {
		c.constants = make(map[uint16]*oop.Cell)
	}
	if v, ok := c.constants[index]; ok {
		c.constantsMu.Unlock()
		return v, nil
	}
	c.constantsMu.Unlock()

	entry, err := classfile.Entry(c.ConstantPool, index)
	if err != nil {
		return nil, err
	}

	var v *oop.Cell
	switch e := entry.(type) {
	case *classfile.ConstantInteger:
		v = oop.NewInt(e.Value)
	case *classfile.ConstantFloat:
		v = oop.NewFloat(e.Value)
	case *classfile.ConstantLong:
		v = oop.NewLong(e.Value)
	case *classfile.ConstantDouble:
		v = oop.NewDouble(e.Value)
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(c.ConstantPool, e.StringIndex)
		if err != nil {
			return nil, err
		}
		v = oop.NewStr([]byte(s))
	default:
		return nil, fmt.Errorf("classarea: constant pool index %d is not loadable", index)
	}

	c.constantsMu.Lock()
	c.constants[index] = v
	c.constantsMu.Unlock()
	return v, nil
}

// NewInstance allocates an Inst cell sized to c's total instance slots.
func (c *Class) NewInstance() *oop.Cell {
	kinds := make([]oop.SlotKind, c.totalInstanceSlots)
	for cls := c; cls != nil; cls = cls.Super {
		for _, f := range cls.fields {
			kinds[f.Slot] = f.Kind
		}
	}
	return oop.NewInst(c, kinds)
}
