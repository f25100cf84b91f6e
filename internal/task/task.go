// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package task provides the per-user task store backing the tool executor.
//
// Every operation is scoped by user id; nothing in this package can read or
// mutate another user's rows. Matching by title is case-insensitive substring
// with a deterministic most-recently-created tie-break, which is the
// documented disambiguation policy for the whole service.
package task

import (
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrTaskNotFound indicates no task matched the given title or id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptyTitle indicates a create or rename with a blank title.
	ErrEmptyTitle = errors.New("task title must not be empty")
)

// Task is one to-do item belonging to a single user.
type Task struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Completed bool       `json:"completed"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
