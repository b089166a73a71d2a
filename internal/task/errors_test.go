package task

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionConflict(t *testing.T) {
	current := &Task{ID: "t-1", Column: "in_progress", Version: 2}
	err := NewVersionConflict(current)

	assert.Equal(t, ConflictVersionMismatch, err.Type)
	assert.Same(t, current, err.Current)
	// The message must name the column the record ended up in.
	assert.Contains(t, err.Message, `"in_progress"`)
	assert.Contains(t, err.Message, "version 2")
	assert.Contains(t, err.Error(), "version_mismatch")
}

func TestNewMoveConflict(t *testing.T) {
	current := &Task{ID: "t-1", Column: "done", Version: 5}
	err := NewMoveConflict(current)

	assert.Equal(t, ConflictConcurrentMove, err.Type)
	assert.Same(t, current, err.Current)
	assert.Contains(t, err.Message, `"done"`)
	assert.Contains(t, err.Error(), "concurrent_move")
}

func TestIsConflict_WrappedErrors(t *testing.T) {
	conflict := NewVersionConflict(&Task{Column: "todo", Version: 1})
	wrapped := fmt.Errorf("apply update: %w", conflict)

	assert.True(t, IsConflict(conflict))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsConflict(errors.New("boom")))
	assert.False(t, IsConflict(nil))

	// AsConflict must surface the original value through wrapping.
	got := AsConflict(wrapped)
	require.NotNil(t, got)
	assert.Same(t, conflict, got)
	assert.Nil(t, AsConflict(errors.New("boom")))
}

func TestIsNotFound(t *testing.T) {
	err := &NotFoundError{ID: "t-404"}

	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("get task: %w", err)))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.Contains(t, err.Error(), "t-404")
}

func TestIsValidation(t *testing.T) {
	err := &ValidationError{Field: "title", Reason: "must not be empty"}

	assert.True(t, IsValidation(err))
	assert.True(t, IsValidation(fmt.Errorf("create: %w", err)))
	assert.False(t, IsValidation(errors.New("boom")))
	assert.Equal(t, "invalid title: must not be empty", err.Error())
}

func TestErrorKindsAreDisjoint(t *testing.T) {
	conflict := NewMoveConflict(&Task{Column: "done", Version: 2})
	notFound := &NotFoundError{ID: "t-1"}
	invalid := &ValidationError{Field: "column", Reason: "unknown"}

	assert.False(t, IsNotFound(conflict))
	assert.False(t, IsValidation(conflict))
	assert.False(t, IsConflict(notFound))
	assert.False(t, IsConflict(invalid))
}
