package application

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no user has the requested id.
	ErrNotFound = errors.New("application: user not found")
	// ErrDirectoryUnavailable is returned when the user directory cannot be
	// read, so no report can be produced at all.
	ErrDirectoryUnavailable = errors.New("application: user directory unavailable")
)

// ValidationError lists rejected request fields with messages meant for end
// users.
type ValidationError struct {
	FieldErrors map[string]string
}

func fieldError(field, message string) *ValidationError {
	return &ValidationError{FieldErrors: map[string]string{field: message}}
}

// Error lists the rejected fields in name order.
func (v *ValidationError) Error() string {
	if !v.HasErrors() {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field was rejected.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// ErrorKind labels err for logs and metrics.
func ErrorKind(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDirectoryUnavailable):
		return "directory_unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "unexpected"
	}
}
