// Package classfile reads the binary .class file format (JVMS §4) into an
// in-memory ClassFile value. It does not resolve anything against a
// running class area; internal/classarea owns that.
package classfile

// Class access flags (JVMS §4.1 table 4.1-B), the subset the interpreter
// and dispatcher inspect.
const (
	AccPublic     = 0x0001
	AccFinal      = 0x0010
	AccSuper      = 0x0020
	AccInterface  = 0x0200
	AccAbstract   = 0x0400
	AccSynthetic  = 0x1000
	AccAnnotation = 0x2000
	AccEnum       = 0x4000
)

// Field/method access flags (JVMS §4.5/§4.6), the subset used by slot
// assignment and dispatch.
const (
	AccStatic       = 0x0008
	AccVolatile     = 0x0040
	AccNative       = 0x0100
	AccAbstractMeth = 0x0400
)

// MajorVersionSE8 is the class-file major version for Java SE 8 (JVMS §4.1).
const MajorVersionSE8 = 52

// ClassFile is the parsed structure of a single .class file.
type ClassFile struct {
	MinorVersion     uint16
	MajorVersion     uint16
	ConstantPool     []ConstantPoolEntry // 1-indexed; ConstantPool[0] is nil
	AccessFlags      uint16
	ThisClass        uint16
	SuperClass       uint16
	Interfaces       []uint16
	Fields           []FieldInfo
	Methods          []MethodInfo
	BootstrapMethods []BootstrapMethod
}

// ConstantPoolEntry is implemented by every constant pool variant.
type ConstantPoolEntry interface {
	Tag() uint8
}

type ConstantUtf8 struct{ Value string }

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct{ Value int32 }

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct{ Value float32 }

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

type ConstantLong struct{ Value int64 }

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct{ Value float64 }

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct{ NameIndex uint16 }

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct{ StringIndex uint16 }

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantFieldref) Tag() uint8 { return TagFieldref }

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMethodref) Tag() uint8 { return TagMethodref }

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

// ConstantMethodHandle, ConstantMethodType, ConstantInvokeDynamic are kept
// structurally (enough to walk the pool and print them) without being
// resolved by the dispatcher — invokedynamic call sites are out of scope.
type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct{ DescriptorIndex uint16 }

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

type ConstantInvokeDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantInvokeDynamic) Tag() uint8 { return TagInvokeDynamic }

// MethodInfo is a parsed method_info structure, with the Code attribute
// (if present) decoded eagerly since the interpreter needs it on every
// invocation.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
	Code        *CodeAttribute
}

func (m *MethodInfo) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }
func (m *MethodInfo) IsNative() bool { return m.AccessFlags&AccNative != 0 }

// FieldInfo is a parsed field_info structure.
type FieldInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
}

func (f *FieldInfo) IsStatic() bool { return f.AccessFlags&AccStatic != 0 }

// AttributeInfo is a raw, unparsed attribute; this is the landing shape
// for every attribute_info entry before Code, LineNumberTable,
// LocalVariableTable, StackMapTable, and BootstrapMethods are decoded
// further (everything else — SourceFile, InnerClasses, Signature, ... —
// has no consumer in this VM and stays in this raw form).
type AttributeInfo struct {
	Name string
	Data []byte
}

// ExceptionHandler is one entry of a Code attribute's exception_table.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16 // 0 means catch-all (finally)
}

// LineNumberEntry is one row of a Code attribute's LineNumberTable,
// mapping a bytecode offset to the source line it was compiled from.
type LineNumberEntry struct {
	StartPC    uint16
	LineNumber uint16
}

// LocalVariableEntry is one row of a Code attribute's LocalVariableTable,
// naming the local slot live over [StartPC, StartPC+Length).
type LocalVariableEntry struct {
	StartPC    uint16
	Length     uint16
	Name       string
	Descriptor string
	Index      uint16
}

// VerificationTypeKind is a StackMapFrame verification_type_info tag
// (JVMS §4.7.4, table 4.7.4-A).
type VerificationTypeKind uint8

const (
	VerifyTop VerificationTypeKind = iota
	VerifyInteger
	VerifyFloat
	VerifyDouble
	VerifyLong
	VerifyNull
	VerifyUninitializedThis
	VerifyObject       // Data holds a constant-pool index into the class's ConstantPool
	VerifyUninitialized // Data holds the bytecode offset of the `new` that created it
)

// VerificationTypeInfo is one verification_type_info entry within a
// StackMapFrame's locals or stack list.
type VerificationTypeInfo struct {
	Kind VerificationTypeKind
	Data uint16
}

// StackMapFrameKind distinguishes the seven StackMapFrame shapes JVMS
// §4.7.4 defines by frame_type range.
type StackMapFrameKind int

const (
	FrameSame StackMapFrameKind = iota
	FrameSameLocals1StackItem
	FrameSameLocals1StackItemExtended
	FrameChop
	FrameSameExtended
	FrameAppend
	FrameFull
)

// StackMapFrame is one decoded entry of a Code attribute's StackMapTable
// (JVMS §4.7.4). OffsetDelta is the frame's raw offset_delta; the
// interpreter does not perform bytecode verification and disasm does not
// render them, so frames are kept structurally rather than expanded into
// an absolute-offset frame map.
type StackMapFrame struct {
	Kind        StackMapFrameKind
	OffsetDelta uint16
	ChopCount   int // FrameChop: number of trailing locals removed
	Locals      []VerificationTypeInfo // FrameAppend, FrameFull
	Stack       []VerificationTypeInfo // FrameSameLocals1StackItem(Extended), FrameFull
}

// CodeAttribute is the decoded body of a method's Code attribute,
// including the LineNumberTable/LocalVariableTable/StackMapTable
// sub-attributes JVMS §4.7 nests inside it.
type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
	LineNumberTable   []LineNumberEntry
	LocalVariableTable []LocalVariableEntry
	StackMapTable     []StackMapFrame
}

// LineForPC returns the source line number in effect at pc, or 0 if this
// Code attribute carries no LineNumberTable (compiled without -g:lines)
// or pc precedes the first entry.
func (c *CodeAttribute) LineForPC(pc int) uint16 {
	var line uint16
	for _, e := range c.LineNumberTable {
		if int(e.StartPC) > pc {
			break
		}
		line = e.LineNumber
	}
	return line
}

// BootstrapMethod is one entry of the class-level BootstrapMethods
// attribute, used to resolve invokedynamic call sites.
type BootstrapMethod struct {
	MethodRef          uint16
	BootstrapArguments []uint16
}

// ClassName returns this class's fully qualified binary name.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// SuperClassName returns the superclass's binary name, or "" for
// java/lang/Object (super_class == 0).
func (cf *ClassFile) SuperClassName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return GetClassName(cf.ConstantPool, cf.SuperClass)
}

// FindMethod finds a method by exact name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// ParseMethodDescriptor counts a method descriptor's parameters and reports
// whether it returns a value. This VM keeps every parameter and local to a
// single stack/local slot (no category-2 splitting, spec §9), so the
// interpreter only ever needs the count, not each parameter's kind.
func ParseMethodDescriptor(descriptor string) (paramCount int, hasReturn bool) {
	i := 1 // skip '('
	for i < len(descriptor) && descriptor[i] != ')' {
		for i < len(descriptor) && descriptor[i] == '[' {
			i++
		}
		if i < len(descriptor) && descriptor[i] == 'L' {
			for i < len(descriptor) && descriptor[i] != ';' {
				i++
			}
		}
		i++
		paramCount++
	}
	ret := descriptor[i+1:]
	return paramCount, ret != "V"
}
