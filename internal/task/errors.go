package task

import (
	"errors"
	"fmt"
)

// ConflictType classifies why an optimistic mutation was rejected.
type ConflictType string

const (
	// ConflictVersionMismatch indicates a stale version on an update or
	// delete: the record changed since the caller last saw it.
	ConflictVersionMismatch ConflictType = "version_mismatch"

	// ConflictConcurrentMove indicates a stale move after the record was
	// relocated to a different column than the move targeted.
	ConflictConcurrentMove ConflictType = "concurrent_move"
)

// ConflictError reports a mutation rejected by the version check.
//
// Current always carries the authoritative record so the caller can
// resynchronize without requesting a fresh snapshot. Message is the
// user-facing explanation and names the column the record is now in.
type ConflictError struct {
	Type    ConflictType
	Message string
	Current *Task
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewVersionConflict builds the ConflictError for a stale update or
// delete against current.
func NewVersionConflict(current *Task) *ConflictError {
	return &ConflictError{
		Type: ConflictVersionMismatch,
		Message: fmt.Sprintf("task was changed by someone else and is now at version %d in column %q",
			current.Version, current.Column),
		Current: current,
	}
}

// NewMoveConflict builds the ConflictError for a stale move whose record
// now sits in a different column than the move targeted.
func NewMoveConflict(current *Task) *ConflictError {
	return &ConflictError{
		Type: ConflictConcurrentMove,
		Message: fmt.Sprintf("task was moved by someone else and is now in column %q at version %d",
			current.Column, current.Version),
		Current: current,
	}
}

// NotFoundError reports an operation against an absent task id.
type NotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// ValidationError reports malformed caller input, rejected before any
// store access.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	return AsConflict(err) != nil
}

// AsConflict returns the ConflictError carried by err, or nil.
// Uses errors.As to handle wrapped errors.
func AsConflict(err error) *ConflictError {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
