package xpl

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("xpl: validation failed")

// ValidationError reports a malformed address, schema or message.
type ValidationError struct {
	Field  string // e.g. "source.vendor", "schema", "body"
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("xpl: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("xpl: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// prefixed re-labels a nested validation error with an outer field name.
func prefixed(prefix string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: prefix + "." + ve.Field, Value: ve.Value, Reason: ve.Reason}
	}
	return err
}
