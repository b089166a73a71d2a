package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tandem/internal/task"
)

// createTestStore creates a store backed by a throwaway database file.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTask creates a task with minimal required fields. Timestamps
// are fixed and millisecond-aligned so database round trips compare equal.
func createTestTask(id, column, position string, version int64) *task.Task {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &task.Task{
		ID:        id,
		Title:     "task " + id,
		Column:    column,
		Position:  position,
		Version:   version,
		CreatedAt: at,
		UpdatedAt: at,
	}
}
