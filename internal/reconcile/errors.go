package reconcile

import (
	"errors"
	"fmt"
)

// ErrMalformed marks submitted trees that cannot be turned into operations.
var ErrMalformed = errors.New("malformed tree")

// MalformedError locates the offending node. It unwraps to ErrMalformed.
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("malformed tree at %s: %s", e.Path, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}
