package livefx

import (
	"errors"
	"strings"
)

var (
	// ErrInitialized is returned when Init is called on effect with current artifact.
	ErrInitialized = errors.New("effect already initialized")
	// ErrClosed is returned when effect was closed.
	ErrClosed = errors.New("effect closed")
)

// releaseErrors wraps errors that might occur when multiple artifacts
// are released.
type releaseErrors []error

func (e releaseErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Is checks if any of errors match provided sentinel error.
func (e releaseErrors) Is(err error) bool {
	for _, se := range e {
		if errors.Is(se, err) {
			return true
		}
	}
	return false
}

// ret returns untyped nil if error is list is empty.
func (e releaseErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
