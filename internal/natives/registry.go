// Package natives implements the Native Registry (spec C4): a process-wide
// (owner_class, name, descriptor) -> native_fn table, plus the
// java.lang.System and sun.misc.Unsafe bodies spec.md §6 names as the
// minimum surface.
package natives

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/oop"
)

// ErrUnsatisfiedLink names the condition of a method declared `native` with
// no registered body (spec §4.4 -> UnsatisfiedLinkError). Lookup itself
// reports that case through its bool result, not through this error.
var ErrUnsatisfiedLink = errors.New("natives: unresolved native method")

// Env conveys the declaring class to a native body, plus a
// callback into the Java call dispatcher — needed by bodies like
// initProperties that must invoke an ordinary Java method (Properties.put)
// rather than poke storage directly. internal/dispatch supplies Invoke when
// it builds the Env; internal/natives never imports internal/dispatch, so
// there is no import cycle.
type Env struct {
	Class  *classarea.Class
	Invoke func(method *classarea.Method, args []*oop.Cell) (*oop.Cell, error)
}

// Func is one native method body (spec §4.4's native_fn signature, Thread
// folded out to the *thread.State the caller already holds).
type Func func(env *Env, args []*oop.Cell) (*oop.Cell, error)

type key struct {
	owner, name, descriptor string
}

// Registry is the process-wide native method table.
type Registry struct {
	mu  sync.RWMutex
	fns map[key]Func
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[key]Func)}
}

// Register installs fn for (owner, name, descriptor), overwriting any
// previous entry (bootstrap registration functions are idempotent by
// construction, so last-registered wins without needing a "once" guard).
func (r *Registry) Register(owner, name, descriptor string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[key{owner, name, descriptor}] = fn
}

// Lookup resolves a native method, per §4.4.
func (r *Registry) Lookup(owner, name, descriptor string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[key{owner, name, descriptor}]
	return fn, ok
}

// RegisterAll wires every native body this VM provides (System + Unsafe,
// spec.md §6's minimum surface) into reg. area is used by bodies that must
// resolve a supporting class (objectFieldOffset needs java/lang/reflect/Field's
// "slot" field id).
func RegisterAll(reg *Registry, area *classarea.Area) {
	registerSystem(reg, area)
	registerUnsafe(reg, area)
}
