// Package task defines the board domain model shared by the server and
// client packages: the task record, the column set, input validation,
// identifier generation, and the error taxonomy.
package task

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Validation bounds for caller-supplied text, measured in runes after
// NFC normalization.
const (
	MaxTitleLen       = 500
	MaxDescriptionLen = 4000
)

// Task is one board record.
//
// Position is a fractional order key (see internal/order); within a
// column, positions form a strict total order matching display order.
// Version starts at 1 and increments by exactly 1 on every accepted
// mutation; it never moves backward for a given ID.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Column      string    `json:"column"`
	Position    string    `json:"position"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns an independent copy of t, or nil for nil. Callers hold
// clones so that shared caches can be mutated without aliasing.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Columns is the fixed, ordered set of board columns.
type Columns []string

// DefaultColumns is the column set used when no configuration overrides it.
var DefaultColumns = Columns{"todo", "in_progress", "done"}

// Contains reports whether name is one of the configured columns.
func (c Columns) Contains(name string) bool {
	for _, col := range c {
		if col == name {
			return true
		}
	}
	return false
}

// Validate returns a ValidationError unless name is a configured column.
func (c Columns) Validate(name string) error {
	if !c.Contains(name) {
		return &ValidationError{
			Field:  "column",
			Reason: fmt.Sprintf("%q is not one of %s", name, strings.Join(c, ", ")),
		}
	}
	return nil
}

// NormalizeTitle canonicalizes and validates a caller-supplied title:
// NFC normalization, surrounding whitespace trimmed, non-empty, at most
// MaxTitleLen runes.
func NormalizeTitle(s string) (string, error) {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return "", &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(s); n > MaxTitleLen {
		return "", &ValidationError{
			Field:  "title",
			Reason: fmt.Sprintf("%d runes exceeds the %d limit", n, MaxTitleLen),
		}
	}
	return s, nil
}

// NormalizeDescription canonicalizes and validates a caller-supplied
// description. Empty is allowed.
func NormalizeDescription(s string) (string, error) {
	s = norm.NFC.String(s)
	if n := utf8.RuneCountInString(s); n > MaxDescriptionLen {
		return "", &ValidationError{
			Field:  "description",
			Reason: fmt.Sprintf("%d runes exceeds the %d limit", n, MaxDescriptionLen),
		}
	}
	return s, nil
}
