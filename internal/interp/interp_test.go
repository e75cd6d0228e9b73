package interp

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/dispatch"
	"github.com/oakvm/jvm/internal/frame"
	"github.com/oakvm/jvm/internal/natives"
	"github.com/oakvm/jvm/internal/oop"
	"github.com/oakvm/jvm/internal/opcodes"
	"github.com/oakvm/jvm/internal/thread"
)

type memLoader struct {
	classes map[string]*classfile.ClassFile
}

func (l *memLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	cf, ok := l.classes[name]
	if !ok {
		return nil, errors.Wrapf(classarea.ErrClassNotFound, "memLoader: %s", name)
	}
	return cf, nil
}

func objectClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 1},
		},
		ThisClass: 2,
	}
}

func exceptionClassFile(name string) *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: name},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
		},
		ThisClass:  2,
		SuperClass: 4,
	}
}

// calcClassFile carries a few hand-assembled methods exercising the
// interpreter loop without a javac toolchain: plain arithmetic, a
// division that raises ArithmeticException, and a try/catch that unwinds
// through the exception table.
func calcClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "Calc"},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
			&classfile.ConstantUtf8{Value: "java/lang/RuntimeException"},
			&classfile.ConstantClass{NameIndex: 5}, // index 6: catch type operand
		},
		ThisClass:  2,
		SuperClass: 4,
		Methods: []classfile.MethodInfo{
			{
				Name: "add", Descriptor: "(II)I", AccessFlags: classfile.AccStatic,
				Code: &classfile.CodeAttribute{
					MaxStack: 2, MaxLocals: 2,
					Code: []byte{0x1a, 0x1b, 0x60, 0xac}, // iload_0, iload_1, iadd, ireturn
				},
			},
			{
				Name: "divByZero", Descriptor: "()I", AccessFlags: classfile.AccStatic,
				Code: &classfile.CodeAttribute{
					MaxStack: 2, MaxLocals: 0,
					Code: []byte{0x04, 0x03, 0x6c, 0xac}, // iconst_1, iconst_0, idiv, ireturn
				},
			},
			{
				Name: "tryCatch", Descriptor: "(Ljava/lang/RuntimeException;)I", AccessFlags: classfile.AccStatic,
				Code: &classfile.CodeAttribute{
					MaxStack: 1, MaxLocals: 1,
					// 0: aload_0, 1: athrow, 2: pop, 3: iconst_1, 4: ireturn
					Code: []byte{0x2a, 0xbf, 0x57, 0x04, 0xac},
					ExceptionHandlers: []classfile.ExceptionHandler{
						{StartPC: 0, EndPC: 2, HandlerPC: 2, CatchType: 6},
					},
				},
			},
			{
				Name: "uncaught", Descriptor: "(Ljava/lang/RuntimeException;)I", AccessFlags: classfile.AccStatic,
				Code: &classfile.CodeAttribute{
					MaxStack: 1, MaxLocals: 1,
					Code: []byte{0x2a, 0xbf}, // aload_0, athrow; no handler
				},
			},
		},
	}
}

// danglingRefClassFile carries a single method that tries to `new` a class
// the fixture loader has no entry for, exercising the not-found path of
// class resolution.
func danglingRefClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "Dangling"},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
			&classfile.ConstantUtf8{Value: "NoSuchClass"},
			&classfile.ConstantClass{NameIndex: 5}, // index 6: operand of `new`
		},
		ThisClass:  2,
		SuperClass: 4,
		Methods: []classfile.MethodInfo{
			{
				Name: "make", Descriptor: "()Ljava/lang/Object;", AccessFlags: classfile.AccStatic,
				Code: &classfile.CodeAttribute{
					MaxStack: 1, MaxLocals: 0,
					Code: []byte{0xbb, 0x00, 0x06, 0xb0}, // new #6, areturn
				},
			},
		},
	}
}

func newFixture(t *testing.T) (*dispatch.Dispatcher, *classarea.Class, *classarea.Class) {
	t.Helper()
	loader := &memLoader{classes: map[string]*classfile.ClassFile{
		"java/lang/Object":                  objectClassFile(),
		"java/lang/RuntimeException":        exceptionClassFile("java/lang/RuntimeException"),
		"java/lang/ArithmeticException":     exceptionClassFile("java/lang/ArithmeticException"),
		"java/lang/NullPointerException":    exceptionClassFile("java/lang/NullPointerException"),
		"java/lang/ArrayIndexOutOfBoundsException": exceptionClassFile("java/lang/ArrayIndexOutOfBoundsException"),
		"java/lang/ArrayStoreException":      exceptionClassFile("java/lang/ArrayStoreException"),
		"java/lang/ClassCastException":       exceptionClassFile("java/lang/ClassCastException"),
		"java/lang/StackOverflowError":       exceptionClassFile("java/lang/StackOverflowError"),
		"java/lang/UnsatisfiedLinkError":     exceptionClassFile("java/lang/UnsatisfiedLinkError"),
		"java/lang/NoSuchMethodError":        exceptionClassFile("java/lang/NoSuchMethodError"),
		"java/lang/NoClassDefFoundError":     exceptionClassFile("java/lang/NoClassDefFoundError"),
		"Calc":                               calcClassFile(),
		"Dangling":                           danglingRefClassFile(),
	}}
	area := classarea.NewArea(loader, nil)
	reg := natives.NewRegistry()

	d := dispatch.New(area, reg, nil)
	ip := New(d)
	d.Run = ip.Run

	calc, err := area.RequireClass("Calc")
	require.NoError(t, err)
	runtimeExc, err := area.RequireClass("java/lang/RuntimeException")
	require.NoError(t, err)
	return d, calc, runtimeExc
}

func TestRunSimpleArithmetic(t *testing.T) {
	d, calc, _ := newFixture(t)
	th := thread.New()

	method, ok := calc.GetClassMethod(classarea.NewMethodID("add", "(II)I"))
	require.True(t, ok)

	result, err := d.Invoke(th, method, []*oop.Cell{oop.NewInt(5), oop.NewInt(7)})
	require.NoError(t, err)
	n, err := oop.ExtractInt(result)
	require.NoError(t, err)
	require.Equal(t, int32(12), n)
}

func TestRunDivisionByZeroRaisesArithmeticException(t *testing.T) {
	d, calc, _ := newFixture(t)
	th := thread.New()

	method, ok := calc.GetClassMethod(classarea.NewMethodID("divByZero", "()I"))
	require.True(t, ok)

	_, err := d.Invoke(th, method, nil)
	require.Error(t, err)
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/ArithmeticException", th.PendingException.ClassName)
}

func TestRunTryCatchUnwindsToHandler(t *testing.T) {
	d, calc, runtimeExc := newFixture(t)
	th := thread.New()

	method, ok := calc.GetClassMethod(classarea.NewMethodID("tryCatch", "(Ljava/lang/RuntimeException;)I"))
	require.True(t, ok)

	exInstance := runtimeExc.NewInstance()
	result, err := d.Invoke(th, method, []*oop.Cell{exInstance})
	require.NoError(t, err)
	require.False(t, th.HasPendingException(), "the handler must clear the pending exception")

	n, err := oop.ExtractInt(result)
	require.NoError(t, err)
	require.Equal(t, int32(1), n)
}

func TestNewOnUnresolvableClassRaisesNoClassDefFoundError(t *testing.T) {
	loader := &memLoader{classes: map[string]*classfile.ClassFile{
		"java/lang/Object":              objectClassFile(),
		"java/lang/NoClassDefFoundError": exceptionClassFile("java/lang/NoClassDefFoundError"),
		"Dangling":                      danglingRefClassFile(),
	}}
	area := classarea.NewArea(loader, nil)
	reg := natives.NewRegistry()
	d := dispatch.New(area, reg, nil)
	ip := New(d)
	d.Run = ip.Run

	dangling, err := area.RequireClass("Dangling")
	require.NoError(t, err)
	method, ok := dangling.GetClassMethod(classarea.NewMethodID("make", "()Ljava/lang/Object;"))
	require.True(t, ok)

	th := thread.New()
	_, err = d.Invoke(th, method, nil)
	require.Error(t, err)
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/NoClassDefFoundError", th.PendingException.ClassName)
}

func TestRunUncaughtExceptionPropagates(t *testing.T) {
	d, calc, runtimeExc := newFixture(t)
	th := thread.New()

	method, ok := calc.GetClassMethod(classarea.NewMethodID("uncaught", "(Ljava/lang/RuntimeException;)I"))
	require.True(t, ok)

	exInstance := runtimeExc.NewInstance()
	_, err := d.Invoke(th, method, []*oop.Cell{exInstance})
	require.Error(t, err)
	require.True(t, th.HasPendingException())
	require.Same(t, exInstance, th.PendingException.Object)
}

// The remaining tests exercise the switch-target arithmetic directly,
// since assembling padded tableswitch/lookupswitch bytecode by hand is
// easiest to read as a table of (pc, operands, key) -> target.

func TestExecTableswitch(t *testing.T) {
	// pc=10 means pad = (4 - 11%4) % 4 = 1.
	// layout: [pad byte][default=100][low=0][high=2][100][200][300]
	ops := []byte{
		0x00, // padding
		0, 0, 0, 100, // default
		0, 0, 0, 0, // low
		0, 0, 0, 2, // high
		0, 0, 0, 10, // offset for key 0
		0, 0, 0, 20, // offset for key 1
		0, 0, 0, 30, // offset for key 2
	}
	instr := opcodes.Instruction{PC: 10, Mnemonic: "tableswitch", Operands: ops}

	require.Equal(t, 10+10, execTableswitch(instr, 0))
	require.Equal(t, 10+20, execTableswitch(instr, 1))
	require.Equal(t, 10+30, execTableswitch(instr, 2))
	require.Equal(t, 10+100, execTableswitch(instr, 3), "out of [low,high] falls back to default")
	require.Equal(t, 10+100, execTableswitch(instr, -1), "out of [low,high] falls back to default")
}

func TestExecLookupswitch(t *testing.T) {
	// pc=10, same pad=1. layout: [pad][default=100][npairs=2][5,50][9,90]
	ops := []byte{
		0x00,
		0, 0, 0, 100, // default
		0, 0, 0, 2, // npairs
		0, 0, 0, 5, 0, 0, 0, 50, // match 5 -> +50
		0, 0, 0, 9, 0, 0, 0, 90, // match 9 -> +90
	}
	instr := opcodes.Instruction{PC: 10, Mnemonic: "lookupswitch", Operands: ops}

	require.Equal(t, 10+50, execLookupswitch(instr, 5))
	require.Equal(t, 10+90, execLookupswitch(instr, 9))
	require.Equal(t, 10+100, execLookupswitch(instr, 7), "no match falls back to default")
}

func TestBranchTargetRelativeToOwnPC(t *testing.T) {
	instr := opcodes.Instruction{PC: 42, Mnemonic: "goto", Operands: []byte{0xff, 0xf6}} // -10
	require.Equal(t, 32, branchTarget(instr))
}

func TestArrayLoadStoreRoundTrip(t *testing.T) {
	d, _, _ := newFixture(t)
	th := thread.New()
	ip := New(d)

	arr := oop.NewArray("I", oop.SlotInt, 3)
	require.NoError(t, ip.arrayPut(th, arr, 1, oop.NewInt(99)))
	v, err := ip.arrayGet(th, arr, 1)
	require.NoError(t, err)
	n, err := oop.ExtractInt(v)
	require.NoError(t, err)
	require.Equal(t, int32(99), n)
}

func TestArrayGetOutOfBoundsRaisesException(t *testing.T) {
	d, _, _ := newFixture(t)
	th := thread.New()
	ip := New(d)

	arr := oop.NewArray("I", oop.SlotInt, 2)
	_, err := ip.arrayGet(th, arr, 5)
	require.NoError(t, err, "the Java-observable condition is signaled via PendingException, not a Go error")
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/ArrayIndexOutOfBoundsException", th.PendingException.ClassName)
}

func TestArrayGetNullArrayRaisesNullPointerException(t *testing.T) {
	d, _, _ := newFixture(t)
	th := thread.New()
	ip := New(d)

	_, err := ip.arrayGet(th, oop.Null, 0)
	require.NoError(t, err)
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/NullPointerException", th.PendingException.ClassName)
}

func TestFrameNew(t *testing.T) {
	m := &classarea.Method{
		Name: "noop", Descriptor: "()V",
		Code: &classfile.CodeAttribute{MaxStack: 0, MaxLocals: 0, Code: []byte{0xb1}},
	}
	f := frame.New(m, nil)
	require.Equal(t, 0, f.SP())
}
