package classarea

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/oakvm/jvm/internal/oop"
)

// ErrClassNotFound is the sentinel a Loader wraps around a lookup miss
// (no matching entry in the jmod/classpath) so callers resolving a
// bytecode-supplied class reference (new, getstatic, checkcast, ...) can
// tell "this class does not exist" apart from a corrupt archive or a
// read failure, and raise a NoClassDefFoundError instead of treating the
// failure as fatal. See IsClassNotFound.
var ErrClassNotFound = errors.New("classarea: class not found")

// IsClassNotFound reports whether err (possibly wrapped by RequireClass
// or a Loader) is a lookup miss rather than an I/O or format failure.
func IsClassNotFound(err error) bool {
	return errors.Is(err, ErrClassNotFound)
}

// JavaException wraps an in-flight Java exception object so it can travel
// through Go's error-return plumbing while still carrying the real Inst
// cell the interpreter's exception-table handler needs (spec §7).
type JavaException struct {
	ClassName string
	Object    *oop.Cell
}

func (e *JavaException) Error() string {
	return fmt.Sprintf("%s", e.ClassName)
}

// NewJavaException allocates a bare instance of the given exception class
// with no message (used by VM-raised exceptions like
// ArrayIndexOutOfBoundsException).
func NewJavaException(class *Class) *JavaException {
	return &JavaException{ClassName: class.ClassName, Object: class.NewInstance()}
}
