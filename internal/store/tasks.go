package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tandem/internal/task"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Row operations take a Querier so the same code serves direct reads and
// the transactional read-modify-write path.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// column is a SQLite keyword, hence the quoting.
const taskFields = `id, title, description, "column", position, version, created_at, updated_at`

// GetTask returns the task with the given id.
// Returns task.NotFoundError if no row exists.
func GetTask(ctx context.Context, q Querier, id string) (*task.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+taskFields+`
		FROM tasks
		WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &task.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ColumnTasks returns every task in one column ordered by position.
// Position keys compare as plain bytes, so BINARY collation is display order.
//
// Returns an empty slice (not nil) for an empty column.
func ColumnTasks(ctx context.Context, q Querier, column string) ([]*task.Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+taskFields+`
		FROM tasks
		WHERE "column" = ?
		ORDER BY position COLLATE BINARY ASC
	`, column)
	if err != nil {
		return nil, fmt.Errorf("query column tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// AllTasks returns every task ordered by (column, position).
func AllTasks(ctx context.Context, q Querier) ([]*task.Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+taskFields+`
		FROM tasks
		ORDER BY "column" COLLATE BINARY ASC, position COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// LastPosition returns the highest position key in a column, or ""
// when the column is empty.
func LastPosition(ctx context.Context, q Querier, column string) (string, error) {
	var pos string
	err := q.QueryRowContext(ctx, `
		SELECT position
		FROM tasks
		WHERE "column" = ?
		ORDER BY position COLLATE BINARY DESC
		LIMIT 1
	`, column).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last position: %w", err)
	}
	return pos, nil
}

// InsertTask inserts a new task row.
func InsertTask(ctx context.Context, q Querier, t *task.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskFields+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.Title,
		t.Description,
		t.Column,
		t.Position,
		t.Version,
		t.CreatedAt.UnixMilli(),
		t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask overwrites every mutable field of the stored row with t.
// Version discipline belongs to the caller; this is the write half of a
// read-modify-write transaction.
// Returns task.NotFoundError if no row has t.ID.
func UpdateTask(ctx context.Context, q Querier, t *task.Task) error {
	res, err := q.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, "column" = ?, position = ?, version = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Title,
		t.Description,
		t.Column,
		t.Position,
		t.Version,
		t.UpdatedAt.UnixMilli(),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return &task.NotFoundError{ID: t.ID}
	}
	return nil
}

// DeleteTask removes the task with the given id.
// Returns task.NotFoundError if no row exists.
func DeleteTask(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return &task.NotFoundError{ID: id}
	}
	return nil
}

// GetTask reads one task outside any transaction.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return GetTask(ctx, s.db, id)
}

// ColumnTasks reads one column outside any transaction.
func (s *Store) ColumnTasks(ctx context.Context, column string) ([]*task.Task, error) {
	return ColumnTasks(ctx, s.db, column)
}

// AllTasks reads the whole board outside any transaction.
func (s *Store) AllTasks(ctx context.Context) ([]*task.Task, error) {
	return AllTasks(ctx, s.db)
}

// rowScanner abstracts over *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var created, updated int64
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Column,
		&t.Position,
		&t.Version,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}
	// Timestamps are stored as unix milliseconds.
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	// Return empty slice instead of nil
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return tasks, nil
}
