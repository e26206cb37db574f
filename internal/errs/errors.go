package errs

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrExtraction ErrorType = iota
	ErrValidation
	ErrConflict
	ErrFilesystem
	ErrConfig
	ErrCancelled
	ErrUnknown
)

// Error is the shared error value for the rename and metadata subsystems.
// Per-file failures are collected into result structures by callers; this
// type carries enough structure to build a post-operation report.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return NewWithCause(errorType, message, err)
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrExtraction:
		return "Extraction"
	case ErrValidation:
		return "Validation"
	case ErrConflict:
		return "Conflict"
	case ErrFilesystem:
		return "Filesystem"
	case ErrConfig:
		return "Config"
	case ErrCancelled:
		return "Cancelled"
	case ErrUnknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

func IsType(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}
