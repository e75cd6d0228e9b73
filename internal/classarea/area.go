package classarea

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/oop"
)

// Area is the process-wide class area: every loaded Class plus the
// machinery to load+link+initialize new ones exactly once (spec C2).
type Area struct {
	loader Loader
	log    *logrus.Entry

	mu      sync.Mutex
	classes map[string]*Class

	initGroup singleflight.Group
}

// NewArea constructs an Area backed by loader.
func NewArea(loader Loader, log *logrus.Entry) *Area {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Area{
		loader:  loader,
		log:     log,
		classes: make(map[string]*Class),
	}
}

// Stats reports loaded/initialized/errored class counts, consumed by
// cmd/jvm's -v flag (SPEC_FULL.md §6).
type Stats struct {
	Loaded, Initialized, Errored int
}

func (a *Area) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var s Stats
	for _, c := range a.classes {
		switch c.State() {
		case Initialized:
			s.Initialized++
		case Errored:
			s.Errored++
		default:
			s.Loaded++
		}
	}
	return s
}

// RequireClass returns the named class, loading and linking it on first
// reference (spec §4.2's require_class). It does NOT run <clinit>; call
// EnsureInitialized for that.
func (a *Area) RequireClass(name string) (*Class, error) {
	a.mu.Lock()
	if c, ok := a.classes[name]; ok {
		a.mu.Unlock()
		return c, nil
	}
	a.mu.Unlock()

	cf, err := a.loader.LoadClass(name)
	if err != nil {
		return nil, errors.Wrapf(err, "classarea: loading %s", name)
	}

	class, err := a.link(cf)
	if err != nil {
		return nil, errors.Wrapf(err, "classarea: linking %s", name)
	}

	a.mu.Lock()
	if existing, ok := a.classes[name]; ok {
		// Another goroutine linked it first; the shared result wins
		// (spec §4.2: "the result is shared").
		a.mu.Unlock()
		return existing, nil
	}
	a.classes[name] = class
	a.mu.Unlock()

	a.log.WithField("class", name).Debug("class linked")
	return class, nil
}

// link builds a Class from a parsed ClassFile: resolves the superclass
// and interfaces (recursively requiring them), and assigns field slots
// (C9) after reserving slots for inherited instance fields.
func (a *Area) link(cf *classfile.ClassFile) (*Class, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}

	var super *Class
	superName, err := cf.SuperClassName()
	if err != nil {
		return nil, err
	}
	if superName != "" {
		super, err = a.RequireClass(superName)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving superclass %s of %s", superName, name)
		}
	}

	interfaces := make([]*Class, 0, len(cf.Interfaces))
	for _, idx := range cf.Interfaces {
		ifName, err := classfile.GetClassName(cf.ConstantPool, idx)
		if err != nil {
			return nil, err
		}
		ifc, err := a.RequireClass(ifName)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving interface %s of %s", ifName, name)
		}
		interfaces = append(interfaces, ifc)
	}

	base := 0
	if super != nil {
		base = super.totalInstanceSlots
	}

	class := &Class{
		ClassName:    name,
		Super:        super,
		Interfaces:   interfaces,
		ConstantPool: cf.ConstantPool,
		AccessFlags:  cf.AccessFlags,
		methods:      make(map[MethodID]*Method),
	}

	instSlot := base
	staticSlot := 0
	for i := range cf.Fields {
		fi := &cf.Fields[i]
		kind := descriptorSlotKind(fi.Descriptor)
		if fi.IsStatic() {
			class.staticField = append(class.staticField, &Field{
				Name: fi.Name, Descriptor: fi.Descriptor, AccessFlags: fi.AccessFlags,
				Slot: staticSlot, Kind: kind,
			})
			staticSlot++
		} else {
			class.fields = append(class.fields, &Field{
				Name: fi.Name, Descriptor: fi.Descriptor, AccessFlags: fi.AccessFlags,
				Slot: instSlot, Kind: kind,
			})
			instSlot++
		}
	}
	class.totalInstanceSlots = instSlot

	for i := range cf.Methods {
		mi := &cf.Methods[i]
		m := &Method{Name: mi.Name, Descriptor: mi.Descriptor, AccessFlags: mi.AccessFlags, Code: mi.Code, Owner: class}
		class.methods[m.ID()] = m
	}

	staticKinds := make([]oop.SlotKind, staticSlot)
	for _, f := range class.staticField {
		staticKinds[f.Slot] = f.Kind
	}
	class.mirror = oop.NewMirror(class, staticKinds)

	return class, nil
}

// descriptorSlotKind maps a JVMS §4.3.2 field descriptor's first byte to
// the slot's primitive/reference category.
func descriptorSlotKind(descriptor string) oop.SlotKind {
	if descriptor == "" {
		return oop.SlotRef
	}
	switch descriptor[0] {
	case 'J':
		return oop.SlotLong
	case 'D':
		return oop.SlotDouble
	case 'F':
		return oop.SlotFloat
	case 'I', 'S', 'C', 'B', 'Z':
		return oop.SlotInt
	default: // 'L' (object) or '[' (array)
		return oop.SlotRef
	}
}

// EnsureInitialized drives a class through the Loaded -> BeingInitialized
// -> Initialized|Errored protocol exactly once (spec §4.2), using
// singleflight so N concurrent first-touchers block on whichever one
// actually runs <clinit> and all observe its outcome.
//
// runClinit is supplied by the caller (internal/dispatch), which alone
// knows how to invoke a Java method; classarea stays decoupled from the
// dispatcher and from thread state.
func (a *Area) EnsureInitialized(class *Class, callerID string, runClinit func() error) error {
	class.mu.Lock()
	switch class.state {
	case Initialized:
		class.mu.Unlock()
		return nil
	case Errored:
		err := class.initErr
		class.mu.Unlock()
		return errors.Wrapf(err, "classarea: %s previously failed initialization", class.ClassName)
	case BeingInitialized:
		if class.initBy == callerID {
			// The initializing thread re-entering its own class (e.g. from
			// inside <clinit>) proceeds without blocking.
			class.mu.Unlock()
			return nil
		}
	}
	class.mu.Unlock()

	if class.Super != nil {
		if err := a.EnsureInitialized(class.Super, callerID, func() error { return nil }); err != nil {
			return err
		}
	}

	_, err, _ := a.initGroup.Do(class.ClassName, func() (interface{}, error) {
		class.mu.Lock()
		if class.state == Initialized {
			class.mu.Unlock()
			return nil, nil
		}
		class.state = BeingInitialized
		class.initBy = callerID
		class.mu.Unlock()

		a.log.WithFields(logrus.Fields{"class": class.ClassName, "thread": callerID}).Debug("running <clinit>")

		runErr := runClinit()

		class.mu.Lock()
		defer class.mu.Unlock()
		if runErr != nil {
			class.state = Errored
			class.initErr = runErr
			return nil, runErr
		}
		class.state = Initialized
		return nil, nil
	})

	return err
}
