package app

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials is returned for both unknown emails and wrong
	// passwords so the login form cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound is returned when the requested user, room, or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the viewer does not own the resource they act on.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is returned when an operation needs a signed-in viewer.
	ErrUnauthenticated = errors.New("authentication required")

	ErrMediaUnavailable = errors.New("media storage is not configured")
)

// ValidationError carries per-field messages for a rejected form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// add records msg for field unless one is already present.
func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) empty() bool {
	return e == nil || len(e.Fields) == 0
}

// FieldErrors extracts field messages from err, or nil when err is not a ValidationError.
func FieldErrors(err error) map[string]string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}
