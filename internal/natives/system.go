package natives

import (
	"github.com/pkg/errors"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/oop"
)

const systemClass = "java/lang/System"

// fixedProperties is the fixed key set spec.md §6 requires; values are
// installation-dependent in a real JDK, carried here from original_source's
// own initProperties defaults (_examples/original_source/src/native/java_lang_System.rs).
var fixedProperties = []struct{ key, value string }{
	{"java.specification.version", "1.8"},
	{"java.specification.name", "Java Platform API Specification"},
	{"java.specification.vendor", "oakvm"},
	{"java.version", "1.8"},
	{"java.vendor", "oakvm"},
	{"java.vendor.url", "https://example.invalid/oakvm"},
	{"java.vendor.url.bug", "https://example.invalid/oakvm/issues"},
	{"java.class.version", "52.0"},
	{"java.home", "/opt/oakvm"},
	{"os.name", "Linux"},
	{"os.version", "unknown"},
	{"os.arch", "amd64"},
	{"file.separator", "/"},
	{"path.separator", ":"},
	{"line.separator", "\n"},
	{"user.language", "en"},
	{"user.name", "oakvm"},
	{"user.home", "/root"},
	{"user.dir", "/"},
	{"file.encoding", "UTF-8"},
	{"sun.jnu.encoding", "UTF-8"},
	{"file.encoding.pkg", "sun.io"},
	{"sun.io.unicode.encoding", "UnicodeBig"},
	{"sun.cpu.isalist", ""},
	{"sun.cpu.endian", "little"},
	{"sun.arch.data.model", "64"},
	{"sun.stdout.encoding", "UTF-8"},
	{"sun.stderr.encoding", "UTF-8"},
}

func registerSystem(reg *Registry, area *classarea.Area) {
	reg.Register(systemClass, "registerNatives", "()V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		return nil, nil
	})

	reg.Register(systemClass, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		src := args[0]
		srcPos, err := oop.ExtractInt(args[1])
		if err != nil {
			return nil, errors.Wrap(err, "natives: arraycopy srcPos")
		}
		dest := args[2]
		destPos, err := oop.ExtractInt(args[3])
		if err != nil {
			return nil, errors.Wrap(err, "natives: arraycopy destPos")
		}
		length, err := oop.ExtractInt(args[4])
		if err != nil {
			return nil, errors.Wrap(err, "natives: arraycopy length")
		}
		if err := oop.ArrayCopy(src, int(srcPos), dest, int(destPos), int(length)); err != nil {
			return nil, mapOopError(area, err)
		}
		return nil, nil
	})

	reg.Register(systemClass, "initProperties", "(Ljava/util/Properties;)Ljava/util/Properties;", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		props := args[0]
		class, ok := props.Class().(*classarea.Class)
		if !ok || class == nil {
			return nil, errors.New("natives: initProperties receiver has no class")
		}
		put, err := class.GetVirtualMethod(classarea.NewMethodID("put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;"))
		if err != nil {
			return nil, errors.Wrap(err, "natives: resolving Properties.put")
		}
		for _, kv := range fixedProperties {
			k := oop.NewStr([]byte(kv.key))
			v := oop.NewStr([]byte(kv.value))
			if _, err := env.Invoke(put, []*oop.Cell{props, k, v}); err != nil {
				return nil, err
			}
		}
		return props, nil
	})

	reg.Register(systemClass, "setIn0", "(Ljava/io/InputStream;)V", setStdStream(env0Field("in", "Ljava/io/InputStream;")))
	reg.Register(systemClass, "setOut0", "(Ljava/io/PrintStream;)V", setStdStream(env0Field("out", "Ljava/io/PrintStream;")))
	reg.Register(systemClass, "setErr0", "(Ljava/io/PrintStream;)V", setStdStream(env0Field("err", "Ljava/io/PrintStream;")))
}

type stdStreamField struct {
	name       string
	descriptor string
}

func env0Field(name, descriptor string) stdStreamField {
	return stdStreamField{name: name, descriptor: descriptor}
}

// setStdStream builds the common shape of setIn0/setOut0/setErr0: resolve
// the declaring class's named static field and store the single argument
// into it (original_source's jvm_setIn0/jvm_setOut0/jvm_setErr0, folded
// into one helper since they differ only in field name).
func setStdStream(f stdStreamField) Func {
	return func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		field, err := env.Class.GetFieldID(f.name, f.descriptor, true, false)
		if err != nil {
			return nil, errors.Wrapf(err, "natives: resolving System.%s", f.name)
		}
		if err := env.Class.PutStaticField(field, args[0]); err != nil {
			return nil, errors.Wrapf(err, "natives: storing System.%s", f.name)
		}
		return nil, nil
	}
}
