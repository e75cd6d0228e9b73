package dispatch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/frame"
	"github.com/oakvm/jvm/internal/natives"
	"github.com/oakvm/jvm/internal/oop"
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

func testClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "Test"},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
		},
		ThisClass:  2,
		SuperClass: 4,
		Methods: []classfile.MethodInfo{
			{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "identity", Descriptor: "(I)I", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 2, Code: []byte{0xb1}}},
			{Name: "nativeAdd", Descriptor: "(II)I", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "missingNative", Descriptor: "()V", AccessFlags: classfile.AccStatic | classfile.AccNative},
		},
	}
}

func newFixture(t *testing.T, clinitRuns *int) (*classarea.Area, *natives.Registry, *classarea.Class) {
	t.Helper()
	loader := &memLoader{classes: map[string]*classfile.ClassFile{
		"java/lang/Object":               objectClassFile(),
		"java/lang/StackOverflowError":   exceptionClassFile("java/lang/StackOverflowError"),
		"java/lang/UnsatisfiedLinkError": exceptionClassFile("java/lang/UnsatisfiedLinkError"),
		"java/lang/NoSuchMethodError":    exceptionClassFile("java/lang/NoSuchMethodError"),
		"java/lang/NullPointerException": exceptionClassFile("java/lang/NullPointerException"),
		"Test":                           testClassFile(),
	}}
	area := classarea.NewArea(loader, nil)
	reg := natives.NewRegistry()
	reg.Register("Test", "<clinit>", "()V", func(env *natives.Env, args []*oop.Cell) (*oop.Cell, error) {
		*clinitRuns++
		return nil, nil
	})
	reg.Register("Test", "nativeAdd", "(II)I", func(env *natives.Env, args []*oop.Cell) (*oop.Cell, error) {
		a, err := oop.ExtractInt(args[0])
		if err != nil {
			return nil, err
		}
		b, err := oop.ExtractInt(args[1])
		if err != nil {
			return nil, err
		}
		return oop.NewInt(a + b), nil
	})

	class, err := area.RequireClass("Test")
	require.NoError(t, err)
	return area, reg, class
}

// identityRunner simulates a Java method body that returns its first
// non-receiver argument, standing in for a real interp.Run during these
// dispatch-level tests.
func identityRunner(th *thread.State, f *frame.Frame) (*oop.Cell, error) {
	return f.GetLocal(1), nil
}

func TestInvokeNativeSuccess(t *testing.T) {
	var clinitRuns int
	area, reg, class := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	m, ok := class.GetClassMethod(classarea.NewMethodID("nativeAdd", "(II)I"))
	require.True(t, ok)

	result, err := d.Invoke(th, m, []*oop.Cell{oop.NewInt(2), oop.NewInt(3)})
	require.NoError(t, err)
	n, err := oop.ExtractInt(result)
	require.NoError(t, err)
	require.Equal(t, int32(5), n)
}

func TestInvokeUnregisteredNativeRaisesUnsatisfiedLinkError(t *testing.T) {
	var clinitRuns int
	area, reg, class := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	m, ok := class.GetClassMethod(classarea.NewMethodID("missingNative", "()V"))
	require.True(t, ok)

	_, err := d.Invoke(th, m, nil)
	require.Error(t, err)
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/UnsatisfiedLinkError", th.PendingException.ClassName)
}

func TestInvokeJavaMethodPushesAndPopsFrame(t *testing.T) {
	var clinitRuns int
	area, reg, class := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	m, ok := class.GetClassMethod(classarea.NewMethodID("identity", "(I)I"))
	require.True(t, ok)

	receiver := class.NewInstance()
	result, err := d.Invoke(th, m, []*oop.Cell{receiver, oop.NewInt(42)})
	require.NoError(t, err)
	n, err := oop.ExtractInt(result)
	require.NoError(t, err)
	require.Equal(t, int32(42), n)
	require.Equal(t, 0, th.Depth(), "the frame must be popped after Run returns")
}

func TestInvokeStackOverflow(t *testing.T) {
	var clinitRuns int
	area, reg, class := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	m, ok := class.GetClassMethod(classarea.NewMethodID("identity", "(I)I"))
	require.True(t, ok)

	for i := 0; i < MaxFrameDepth; i++ {
		th.PushFrame(frame.New(m, class))
	}

	receiver := class.NewInstance()
	_, err := d.Invoke(th, m, []*oop.Cell{receiver, oop.NewInt(1)})
	require.Error(t, err)
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/StackOverflowError", th.PendingException.ClassName)
}

func TestInvokeVirtualResolvesReceiverClass(t *testing.T) {
	var clinitRuns int
	area, reg, class := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	receiver := class.NewInstance()
	result, err := d.InvokeVirtual(th, receiver, classarea.NewMethodID("identity", "(I)I"), []*oop.Cell{oop.NewInt(7)})
	require.NoError(t, err)
	n, err := oop.ExtractInt(result)
	require.NoError(t, err)
	require.Equal(t, int32(7), n)
}

func TestInvokeVirtualNullReceiverRaisesNPE(t *testing.T) {
	var clinitRuns int
	area, reg, _ := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	_, err := d.InvokeVirtual(th, oop.Null, classarea.NewMethodID("identity", "(I)I"), nil)
	require.Error(t, err)
	require.True(t, th.HasPendingException())
	require.Equal(t, "java/lang/NullPointerException", th.PendingException.ClassName)
}

func TestInvokeStaticTriggersInitializationExactlyOnce(t *testing.T) {
	var clinitRuns int
	area, reg, class := newFixture(t, &clinitRuns)
	d := New(area, reg, identityRunner)
	th := thread.New()

	_, err := d.InvokeStatic(th, class, classarea.NewMethodID("nativeAdd", "(II)I"), []*oop.Cell{oop.NewInt(1), oop.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, 1, clinitRuns)

	_, err = d.InvokeStatic(th, class, classarea.NewMethodID("nativeAdd", "(II)I"), []*oop.Cell{oop.NewInt(1), oop.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, 1, clinitRuns, "<clinit> must not re-run on a second static call")
}
