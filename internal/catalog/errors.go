package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("document store unavailable")
	ErrModelUnavailable = errors.New("language model unavailable")
	ErrModelInvocation  = errors.New("language model invocation failed")
)

// ValidationError reports bad input at a boundary: a malformed file, a
// missing column, an unknown search criterion.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StoreUnavailableError wraps transport failures, timeouts and server-side
// errors of the document store.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("document store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

type ModelUnavailableError struct {
	Reason string
}

func (e *ModelUnavailableError) Error() string {
	return "language model unavailable: " + e.Reason
}

func (e *ModelUnavailableError) Is(target error) bool {
	return target == ErrModelUnavailable
}

type ModelInvocationError struct {
	Err error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("language model invocation failed: %v", e.Err)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}

func (e *ModelInvocationError) Is(target error) bool {
	return target == ErrModelInvocation
}

// IsClientError reports errors caused by the caller rather than by the
// infrastructure. They are never retried and never trip a breaker.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}
