package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// StructuralKind classifies errors that come from a malformed plan or binding
// rather than from the data. They are never retried.
type StructuralKind int

const (
	UnresolvedAttribute StructuralKind = iota
	HashModeUnsupported
	MissingColumn
	TypeMismatch
	ArityMismatch
	InvalidPlan
	UnsupportedExpression
)

func (k StructuralKind) String() string {
	switch k {
	case UnresolvedAttribute:
		return "unresolved attribute"
	case HashModeUnsupported:
		return "hash mode unsupported"
	case MissingColumn:
		return "missing column"
	case TypeMismatch:
		return "type mismatch"
	case ArityMismatch:
		return "arity mismatch"
	case InvalidPlan:
		return "invalid plan"
	case UnsupportedExpression:
		return "unsupported expression"
	default:
		return "structural error"
	}
}

// StructuralError is a fatal, non-retryable error.
type StructuralError struct {
	Kind      StructuralKind
	Component TraceComponent
	Detail    string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Structural logs a structural error through the process tracer and returns it
// with a stack trace attached.
func Structural(component TraceComponent, kind StructuralKind, format string, args ...interface{}) error {
	e := &StructuralError{
		Kind:      kind,
		Component: component,
		Detail:    fmt.Sprintf(format, args...),
	}
	GetTracer().Error(component, e.Error(), TraceContext("kind", kind.String()))
	return errors.WithStack(e)
}

// IsStructural reports whether err wraps a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// StructuralKindOf returns the kind of the wrapped StructuralError, if any.
func StructuralKindOf(err error) (StructuralKind, bool) {
	var se *StructuralError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
