// Package bootstrap implements VM startup (spec C8): wiring the class area,
// native registry, dispatcher and interpreter together, loading the
// bootstrap class set, installing system properties and std streams, and
// launching an application's main method.
package bootstrap

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/dispatch"
	"github.com/oakvm/jvm/internal/interp"
	"github.com/oakvm/jvm/internal/natives"
	"github.com/oakvm/jvm/internal/oop"
	"github.com/oakvm/jvm/internal/thread"
)

// Classes is the minimal bootstrap class set spec.md §4.8 names, loaded
// (and, where they have a <clinit>, initialized) before any application
// code runs.
var Classes = []string{
	"java/lang/Object",
	"java/lang/Class",
	"java/lang/String",
	"java/lang/System",
	"java/lang/Thread",
	"java/util/Properties",
}

// VM ties together the class area, native registry, and the
// dispatcher/interpreter pair (wired to close the mutual-dependency loop
// dispatch.Runner documents) into one bootable runtime.
type VM struct {
	Area    *classarea.Area
	Natives *natives.Registry
	Dispatch *dispatch.Dispatcher

	log *logrus.Entry
}

// New wires a fresh VM over loader. log may be nil, in which case a
// standard logrus entry is used.
func New(loader classarea.Loader, log *logrus.Entry) *VM {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	area := classarea.NewArea(loader, log)
	reg := natives.NewRegistry()
	natives.RegisterAll(reg, area)

	d := dispatch.New(area, reg, nil)
	ip := interp.New(d)
	d.Run = ip.Run

	return &VM{Area: area, Natives: reg, Dispatch: d, log: log}
}

// NewThread allocates a Thread State for a fresh VM thread (spec §3.4: one
// per OS thread). Callers run one goroutine per Thread State.
func (vm *VM) NewThread() *thread.State { return thread.New() }

// Init loads the bootstrap class set, drives java/lang/System's
// initialization protocol, populates its system properties via
// initProperties, and wires std streams via setIn0/setOut0/setErr0 (spec
// §4.8). It does not run a real java.lang.System.<clinit> native chain
// (that would require the rest of java.io this VM's Purpose & Scope
// excludes); instead it performs the steps §4.8 lists directly, the way
// a minimal embedded bootstrap would.
func (vm *VM) Init(th *thread.State) error {
	for _, name := range Classes {
		class, err := vm.Area.RequireClass(name)
		if err != nil {
			return errors.Wrapf(err, "bootstrap: loading %s", name)
		}
		if err := vm.Dispatch.EnsureInitialized(th, class); err != nil {
			return errors.Wrapf(err, "bootstrap: initializing %s", name)
		}
	}

	if err := vm.initProperties(th); err != nil {
		return err
	}
	if err := vm.initStdStreams(th); err != nil {
		return err
	}

	vm.log.Info("bootstrap complete")
	return nil
}

// initProperties builds a Properties instance and drives it through
// System.initProperties, matching original_source's jvm_initProperties
// call shape (a real virtual Properties.put call per key, not a direct
// map write — spec.md §6's fixed key list, values supplied by
// internal/natives.fixedProperties).
func (vm *VM) initProperties(th *thread.State) error {
	systemClass, err := vm.Area.RequireClass("java/lang/System")
	if err != nil {
		return errors.Wrap(err, "bootstrap: loading java/lang/System")
	}
	propsClass, err := vm.Area.RequireClass("java/util/Properties")
	if err != nil {
		return errors.Wrap(err, "bootstrap: loading java/util/Properties")
	}
	props := propsClass.NewInstance()
	if ctor, ok := propsClass.GetClassMethod(classarea.NewMethodID("<init>", "()V")); ok {
		if _, err := vm.Dispatch.Invoke(th, ctor, []*oop.Cell{props}); err != nil {
			return errors.Wrap(err, "bootstrap: Properties.<init>")
		}
	}

	initProps, ok := systemClass.GetClassMethod(classarea.NewMethodID("initProperties", "(Ljava/util/Properties;)Ljava/util/Properties;"))
	if !ok {
		return errors.New("bootstrap: java/lang/System.initProperties not found")
	}
	if _, err := vm.Dispatch.Invoke(th, initProps, []*oop.Cell{props}); err != nil {
		return errors.Wrap(err, "bootstrap: System.initProperties")
	}

	propsField, err := systemClass.GetFieldID("props", "Ljava/util/Properties;", true, false)
	if err == nil {
		_ = systemClass.PutStaticField(propsField, props)
	}
	return nil
}

// initStdStreams wires System.in/out/err by invoking setIn0/setOut0/setErr0
// directly with bare placeholder stream instances: this VM does not
// implement java.io's native byte-transport methods (out of scope per
// spec.md's Purpose & Scope), so the objects installed here satisfy C8's
// "initialize System.in/out/err" step without performing real host I/O.
func (vm *VM) initStdStreams(th *thread.State) error {
	systemClass, err := vm.Area.RequireClass("java/lang/System")
	if err != nil {
		return err
	}

	wire := func(methodName, streamClassName, descriptor string) error {
		setter, ok := systemClass.GetClassMethod(classarea.NewMethodID(methodName, descriptor))
		if !ok {
			return errors.Errorf("bootstrap: java/lang/System.%s not found", methodName)
		}
		streamClass, err := vm.Area.RequireClass(streamClassName)
		var streamObj *oop.Cell
		if err != nil {
			vm.log.WithField("class", streamClassName).Debug("bootstrap: stream class unavailable, wiring null")
			streamObj = oop.Null
		} else {
			streamObj = streamClass.NewInstance()
		}
		_, err = vm.Dispatch.Invoke(th, setter, []*oop.Cell{streamObj})
		return err
	}

	if err := wire("setIn0", "java/io/InputStream", "(Ljava/io/InputStream;)V"); err != nil {
		return errors.Wrap(err, "bootstrap: setIn0")
	}
	if err := wire("setOut0", "java/io/PrintStream", "(Ljava/io/PrintStream;)V"); err != nil {
		return errors.Wrap(err, "bootstrap: setOut0")
	}
	if err := wire("setErr0", "java/io/PrintStream", "(Ljava/io/PrintStream;)V"); err != nil {
		return errors.Wrap(err, "bootstrap: setErr0")
	}
	return nil
}

// RunMain resolves className's `public static void main(String[])` and
// invokes it on th (spec §4.8's final bootstrap step). argv is
// marshalled into a String[] of oop.Str cells, matching spec §3.1's model
// of java.lang.String as the Str variant rather than a char-array Inst.
func (vm *VM) RunMain(th *thread.State, className string, argv []string) error {
	class, err := vm.Area.RequireClass(className)
	if err != nil {
		return errors.Wrapf(err, "bootstrap: loading %s", className)
	}
	if err := vm.Dispatch.EnsureInitialized(th, class); err != nil {
		return errors.Wrapf(err, "bootstrap: initializing %s", className)
	}

	main, ok := class.GetClassMethod(classarea.NewMethodID("main", "([Ljava/lang/String;)V"))
	if !ok {
		return errors.Errorf("bootstrap: %s has no main([Ljava/lang/String;)V", className)
	}

	args := oop.NewArray("[Ljava/lang/String;", oop.SlotRef, len(argv))
	for i, a := range argv {
		if err := oop.PutElement(args, i, oop.NewStr([]byte(a))); err != nil {
			return err
		}
	}

	vm.log.WithField("class", className).Info("invoking main")
	_, err = vm.Dispatch.Invoke(th, main, []*oop.Cell{args})
	if err != nil {
		if jex, ok := errors.Cause(err).(*classarea.JavaException); ok {
			return jex
		}
		return err
	}
	if th.HasPendingException() {
		ex := th.PendingException
		th.ClearException()
		return ex
	}
	return nil
}
