package bootstrap

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/natives"
	"github.com/oakvm/jvm/internal/oop"
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

func simpleClassFile(name string) *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: name},
			&classfile.ConstantClass{NameIndex: 1},
		},
		ThisClass: 2,
	}
}

func subclassFile(name, super string) *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: name},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: super},
			&classfile.ConstantClass{NameIndex: 3},
		},
		ThisClass:  2,
		SuperClass: 4,
	}
}

func systemClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "java/lang/System"},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
		},
		ThisClass:  2,
		SuperClass: 4,
		Fields: []classfile.FieldInfo{
			{Name: "props", Descriptor: "Ljava/util/Properties;", AccessFlags: classfile.AccStatic},
			{Name: "in", Descriptor: "Ljava/io/InputStream;", AccessFlags: classfile.AccStatic},
			{Name: "out", Descriptor: "Ljava/io/PrintStream;", AccessFlags: classfile.AccStatic},
			{Name: "err", Descriptor: "Ljava/io/PrintStream;", AccessFlags: classfile.AccStatic},
		},
		Methods: []classfile.MethodInfo{
			{Name: "registerNatives", Descriptor: "()V", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "arraycopy", Descriptor: "(Ljava/lang/Object;ILjava/lang/Object;II)V", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "initProperties", Descriptor: "(Ljava/util/Properties;)Ljava/util/Properties;", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "setIn0", Descriptor: "(Ljava/io/InputStream;)V", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "setOut0", Descriptor: "(Ljava/io/PrintStream;)V", AccessFlags: classfile.AccStatic | classfile.AccNative},
			{Name: "setErr0", Descriptor: "(Ljava/io/PrintStream;)V", AccessFlags: classfile.AccStatic | classfile.AccNative},
		},
	}
}

func propertiesClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "java/util/Properties"},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
		},
		ThisClass:  2,
		SuperClass: 4,
		Methods: []classfile.MethodInfo{
			{Name: "put", Descriptor: "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", AccessFlags: classfile.AccNative},
		},
	}
}

// helloClassFile builds a "Hello" class whose only method, main, does
// nothing but return.
func helloClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantUtf8{Value: "Hello"},
			&classfile.ConstantClass{NameIndex: 1},
			&classfile.ConstantUtf8{Value: "java/lang/Object"},
			&classfile.ConstantClass{NameIndex: 3},
		},
		ThisClass:  2,
		SuperClass: 4,
		Methods: []classfile.MethodInfo{
			{Name: "main", Descriptor: "([Ljava/lang/String;)V", AccessFlags: classfile.AccStatic, Code: &classfile.CodeAttribute{
				MaxStack: 0, MaxLocals: 1, Code: []byte{0xb1}, // return
			}},
		},
	}
}

func newFixtureVM(t *testing.T) *VM {
	t.Helper()
	loader := &memLoader{classes: map[string]*classfile.ClassFile{
		"java/lang/Object":      simpleClassFile("java/lang/Object"),
		"java/lang/Class":       subclassFile("java/lang/Class", "java/lang/Object"),
		"java/lang/String":      subclassFile("java/lang/String", "java/lang/Object"),
		"java/lang/Thread":      subclassFile("java/lang/Thread", "java/lang/Object"),
		"java/lang/System":      systemClassFile(),
		"java/util/Properties":  propertiesClassFile(),
		"Hello":                 helloClassFile(),
		"java/lang/RuntimeException": subclassFile("java/lang/RuntimeException", "java/lang/Object"),
	}}
	vm := New(loader, nil)
	vm.Natives.Register("java/util/Properties", "put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;",
		func(env *natives.Env, args []*oop.Cell) (*oop.Cell, error) {
			return oop.Null, nil
		})
	return vm
}

func TestInitPopulatesSystemProperties(t *testing.T) {
	vm := newFixtureVM(t)
	th := vm.NewThread()

	require.NoError(t, vm.Init(th))

	systemClass, err := vm.Area.RequireClass("java/lang/System")
	require.NoError(t, err)
	propsField, err := systemClass.GetFieldID("props", "Ljava/util/Properties;", true, false)
	require.NoError(t, err)
	props, err := systemClass.GetStaticField(propsField)
	require.NoError(t, err)
	require.Equal(t, oop.KindInst, props.Kind())
}

func TestRunMainInvokesStaticMain(t *testing.T) {
	vm := newFixtureVM(t)
	th := vm.NewThread()
	require.NoError(t, vm.Init(th))

	err := vm.RunMain(th, "Hello", []string{"a", "b"})
	require.NoError(t, err)
}
