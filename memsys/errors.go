package memsys

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvariantError is returned by (*Heap).Check when the heap fails one of
// the invariants listed in spec.md section 3 / section 8. It is diagnostic
// only: Check is never invoked implicitly from Allocate/Release/Resize.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return "memsys: invariant violated (" + e.Invariant + "): " + e.Detail
}

func newInvariantError(invariant, format string, args ...interface{}) error {
	return errors.WithStack(&InvariantError{
		Invariant: invariant,
		Detail:    fmt.Sprintf(format, args...),
	})
}
