// Package board implements the write path for task records: every
// mutation runs as one read-modify-write transaction with an optimistic
// version check, so on a race the first committer wins and the loser
// receives a conflict carrying the authoritative record.
package board

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tandem/internal/order"
	"github.com/roach88/tandem/internal/store"
	"github.com/roach88/tandem/internal/task"
)

// Controller is the only writer of task rows.
//
// Thread-safety model:
//   - All methods are safe from any goroutine
//   - The store's single connection serializes transactions end to end,
//     which is what makes the version check race-free
type Controller struct {
	store   *store.Store
	columns task.Columns
	ids     task.IDGenerator
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator replaces the UUIDv7 id source.
// Tests use testutil.SequenceGenerator for deterministic ids.
func WithIDGenerator(gen task.IDGenerator) Option {
	return func(c *Controller) {
		c.ids = gen
	}
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a Controller over the given store and column set.
// An empty column set falls back to task.DefaultColumns.
func New(s *store.Store, columns task.Columns, opts ...Option) *Controller {
	if len(columns) == 0 {
		columns = task.DefaultColumns
	}
	c := &Controller{
		store:   s,
		columns: columns,
		ids:     task.UUIDv7Generator{},
		// Millisecond-aligned UTC so a stored record reads back equal.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Columns returns a copy of the configured column set.
func (c *Controller) Columns() task.Columns {
	cols := make(task.Columns, len(c.columns))
	copy(cols, c.columns)
	return cols
}

// CreateParams describes a task:create command.
type CreateParams struct {
	Title       string
	Description string
	Column      string
}

// UpdateParams describes a task:update command. Nil fields are left
// unchanged; at least one must be set.
type UpdateParams struct {
	ID          string
	Version     int64
	Title       *string
	Description *string
}

// MoveParams describes a task:move command. Index is the target slot in
// the destination column and is clamped to [0, len].
type MoveParams struct {
	ID      string
	Version int64
	Column  string
	Index   int
}

// DeleteParams describes a task:delete command.
type DeleteParams struct {
	ID      string
	Version int64
}

// Create inserts a new task at the tail of the target column.
//
// Creates carry no version check: the id is fresh, so nothing can race
// on it. Version starts at 1 and the position is derived from the last
// position in the column at commit time.
func (c *Controller) Create(ctx context.Context, p CreateParams) (*task.Task, error) {
	title, err := task.NormalizeTitle(p.Title)
	if err != nil {
		return nil, err
	}
	desc, err := task.NormalizeDescription(p.Description)
	if err != nil {
		return nil, err
	}
	if err := c.columns.Validate(p.Column); err != nil {
		return nil, err
	}

	now := c.now()
	t := &task.Task{
		ID:          c.ids.Generate(),
		Title:       title,
		Description: desc,
		Column:      p.Column,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		last, err := store.LastPosition(ctx, tx, p.Column)
		if err != nil {
			return err
		}
		if last == "" {
			t.Position = order.Initial()
		} else {
			t.Position, err = order.After(last)
			if err != nil {
				return fmt.Errorf("position after %q: %w", last, err)
			}
		}
		return store.InsertTask(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("task created", "id", t.ID, "column", t.Column, "position", t.Position)
	return t, nil
}

// Update changes the title and/or description of a task.
//
// The submitted version must equal the stored one; otherwise the
// mutation aborts with a version_mismatch conflict carrying the
// authoritative record.
func (c *Controller) Update(ctx context.Context, p UpdateParams) (*task.Task, error) {
	var title, desc *string
	if p.Title != nil {
		v, err := task.NormalizeTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		title = &v
	}
	if p.Description != nil {
		v, err := task.NormalizeDescription(*p.Description)
		if err != nil {
			return nil, err
		}
		desc = &v
	}
	if title == nil && desc == nil {
		return nil, &task.ValidationError{Field: "update", Reason: "no fields to change"}
	}

	var updated *task.Task
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := store.GetTask(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if current.Version != p.Version {
			return task.NewVersionConflict(current)
		}

		next := current.Clone()
		if title != nil {
			next.Title = *title
		}
		if desc != nil {
			next.Description = *desc
		}
		next.Version++
		next.UpdatedAt = c.now()
		if err := store.UpdateTask(ctx, tx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("task updated", "id", updated.ID, "version", updated.Version)
	return updated, nil
}

// Move relocates a task to a column and index.
//
// The index is translated into neighbor positions against the column's
// content at apply time, moved task excluded, so a move always lands
// relative to the current order rather than the submitter's stale view.
// A stale version aborts with concurrent_move when the record now sits
// in a different column than the move targeted, else version_mismatch.
func (c *Controller) Move(ctx context.Context, p MoveParams) (*task.Task, error) {
	if err := c.columns.Validate(p.Column); err != nil {
		return nil, err
	}

	var updated *task.Task
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := store.GetTask(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if current.Version != p.Version {
			if current.Column != p.Column {
				return task.NewMoveConflict(current)
			}
			return task.NewVersionConflict(current)
		}

		siblings, err := store.ColumnTasks(ctx, tx, p.Column)
		if err != nil {
			return err
		}
		siblings = withoutTask(siblings, p.ID)

		idx := p.Index
		if idx < 0 {
			idx = 0
		}
		if idx > len(siblings) {
			idx = len(siblings)
		}
		var lo, hi string
		if idx > 0 {
			lo = siblings[idx-1].Position
		}
		if idx < len(siblings) {
			hi = siblings[idx].Position
		}
		pos, err := order.Between(lo, hi)
		if err != nil {
			return fmt.Errorf("position between %q and %q: %w", lo, hi, err)
		}

		next := current.Clone()
		next.Column = p.Column
		next.Position = pos
		next.Version++
		next.UpdatedAt = c.now()
		if err := store.UpdateTask(ctx, tx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("task moved",
		"id", updated.ID,
		"column", updated.Column,
		"position", updated.Position,
		"version", updated.Version)
	return updated, nil
}

// Delete removes a task. The submitted version must equal the stored
// one; otherwise the record stays and a version_mismatch conflict is
// returned. The removed record is returned for logging and broadcast.
func (c *Controller) Delete(ctx context.Context, p DeleteParams) (*task.Task, error) {
	var removed *task.Task
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := store.GetTask(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if current.Version != p.Version {
			return task.NewVersionConflict(current)
		}
		if err := store.DeleteTask(ctx, tx, p.ID); err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("task deleted", "id", removed.ID)
	return removed, nil
}

// Snapshot returns the whole board in display order: configured column
// order first, then position order within each column.
func (c *Controller) Snapshot(ctx context.Context) ([]*task.Task, error) {
	all, err := c.store.AllTasks(ctx)
	if err != nil {
		return nil, err
	}
	// AllTasks rows are (column, position) sorted, so per-column order
	// survives the regroup into configured column order.
	byColumn := make(map[string][]*task.Task, len(c.columns))
	for _, t := range all {
		byColumn[t.Column] = append(byColumn[t.Column], t)
	}
	out := make([]*task.Task, 0, len(all))
	for _, col := range c.columns {
		out = append(out, byColumn[col]...)
	}
	return out, nil
}

// withoutTask filters id out of tasks, preserving order.
func withoutTask(tasks []*task.Task, id string) []*task.Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
