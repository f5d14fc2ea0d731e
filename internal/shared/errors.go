package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request payload failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the operation conflicts with existing state.
	ErrConflict = errors.New("conflict")
	// ErrUpstream indicates an external collaborator could not be reached.
	ErrUpstream = errors.New("upstream unavailable")
)
