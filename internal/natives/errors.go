package natives

import (
	"github.com/pkg/errors"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/oop"
)

// javaError resolves name (a binary class name) through area and wraps a
// fresh instance as a *classarea.JavaException, so native bodies can raise
// real Java exceptions instead of bare Go errors (spec §7's taxonomy).
func javaError(area *classarea.Area, name string) error {
	class, err := area.RequireClass(name)
	if err != nil {
		return errors.Wrapf(err, "natives: raising %s", name)
	}
	return classarea.NewJavaException(class)
}

// mapOopError translates internal/oop's sentinel errors onto the Java
// exception spec §4.5 step 5 requires arraycopy (and friends) to raise.
func mapOopError(area *classarea.Area, err error) error {
	switch errors.Cause(err) {
	case oop.ErrNullReference:
		return javaError(area, "java/lang/NullPointerException")
	case oop.ErrOutOfBounds:
		return javaError(area, "java/lang/ArrayIndexOutOfBoundsException")
	case oop.ErrArrayStore:
		return javaError(area, "java/lang/ArrayStoreException")
	default:
		return err
	}
}
