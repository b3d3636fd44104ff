package room

import (
	"errors"
	"fmt"
)

// TypeError marks a request with a wrong shape,
// i.e. missing or malformed fields.
type TypeError struct {
	msg string
}

func (e *TypeError) Error() string { return e.msg }

func typeError(format string, args ...any) error {
	return &TypeError{msg: fmt.Sprintf(format, args...)}
}

// IsTypeError checks if there is a TypeError in the chain.
func IsTypeError(err error) bool {
	var te *TypeError
	return errors.As(err, &te)
}

var ErrClosed = errors.New("room closed")
