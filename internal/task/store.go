// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	completed  INTEGER NOT NULL DEFAULT 0,
	due_at     TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at DESC);
`

// Store persists tasks in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if necessary) the task store at path.
// Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	// SQLite allows one writer; serialize all access through one connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("task store pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("task store schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Create inserts a new incomplete task for the user.
func (s *Store) Create(ctx context.Context, userID, title string, dueAt *time.Time) (*Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}

	now := s.now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Completed: false,
		DueAt:     dueAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, completed, due_at, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, formatNullableTime(t.DueAt), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// List returns the user's tasks, newest-created first. A non-nil completed
// pointer filters by completion state.
func (s *Store) List(ctx context.Context, userID string, completed *bool) ([]*Task, error) {
	query := `SELECT id, user_id, title, completed, due_at, created_at, updated_at
	          FROM tasks WHERE user_id = ?`
	args := []interface{}{userID}
	if completed != nil {
		query += " AND completed = ?"
		args = append(args, boolToInt(*completed))
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindByTitle resolves a title fragment to one task by case-insensitive
// substring match. Multiple matches resolve to the most recently created.
// Returns ErrTaskNotFound when nothing matches.
func (s *Store) FindByTitle(ctx context.Context, userID, fragment string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, completed, due_at, created_at, updated_at
		 FROM tasks
		 WHERE user_id = ? AND instr(lower(title), lower(?)) > 0
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		userID, fragment)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return t, nil
}

// SetCompleted sets the completion flag on one of the user's tasks.
func (s *Store) SetCompleted(ctx context.Context, userID, id string, completed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		boolToInt(completed), formatTime(s.now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("set completed: %w", err)
	}
	return requireRow(res)
}

// Rename changes the title of one of the user's tasks.
func (s *Store) Rename(ctx context.Context, userID, id, newTitle string) error {
	if strings.TrimSpace(newTitle) == "" {
		return ErrEmptyTitle
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		strings.TrimSpace(newTitle), formatTime(s.now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("rename task: %w", err)
	}
	return requireRow(res)
}

// Delete removes one of the user's tasks.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res)
}

// DeleteCompleted removes all of the user's completed tasks in one statement
// and reports how many were removed.
func (s *Store) DeleteCompleted(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE user_id = ? AND completed = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete completed tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete completed tasks: %w", err)
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t         Task
		completed int
		dueAt     sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &completed, &dueAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Completed = completed != 0
	if dueAt.Valid && dueAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, dueAt.String); err == nil {
			t.DueAt = &ts
		}
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("scan task created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("scan task updated_at: %w", err)
	}
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
