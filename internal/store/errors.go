package store

import (
	"errors"
	"fmt"
)

var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")
)

// IntegrityError is a constraint violation with whatever detail the driver
// exposed. Constraint, Field and Value are empty when the message could not be
// parsed.
type IntegrityError struct {
	Kind       error
	Constraint string
	Field      string
	Value      string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%v on %s (%s=%s)", e.Kind, e.Constraint, e.Field, e.Value)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Parsed reports whether any engine detail was recovered.
func (e *IntegrityError) Parsed() bool {
	return e.Constraint != "" || e.Field != ""
}

func (e *IntegrityError) Is(target error) bool {
	return target == e.Kind
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}
