package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchema  = errors.New("schema error")
	ErrInvalid = errors.New("options failed validation")
)

// Validation failure listing every violated constraint.
type Error struct {
	Violations []string
}

// Formats the violations as a single message.
func (e *Error) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalid, e.Violations[0])
	}
	return fmt.Sprintf("%v:\n  %s", ErrInvalid, strings.Join(e.Violations, "\n  "))
}

// Makes errors.Is(err, ErrInvalid) match.
func (e *Error) Unwrap() error {
	return ErrInvalid
}
