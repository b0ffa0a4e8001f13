package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewDomainError for subsystem-specific errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("version conflict")
	ErrTransport = errors.New("transport error")
	ErrBadPatch  = errors.New("malformed patch batch")
	ErrClosed    = errors.New("channel closed")
	ErrBadStatus = errors.New("unexpected http status")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "PatchChannel.apply")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}
