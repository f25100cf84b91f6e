// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/taskchat/internal/llm"
	"github.com/jeranaias/taskchat/internal/task"
	"github.com/jeranaias/taskchat/internal/util"
)

// dueFormat is how due dates render in tool results.
const dueFormat = "2006-01-02 15:04"

// TaskStore is the task persistence surface the executor needs.
// *task.Store satisfies it.
type TaskStore interface {
	Create(ctx context.Context, userID, title string, dueAt *time.Time) (*task.Task, error)
	List(ctx context.Context, userID string, completed *bool) ([]*task.Task, error)
	FindByTitle(ctx context.Context, userID, fragment string) (*task.Task, error)
	SetCompleted(ctx context.Context, userID, id string, completed bool) error
	Rename(ctx context.Context, userID, id, newTitle string) error
	Delete(ctx context.Context, userID, id string) error
	DeleteCompleted(ctx context.Context, userID string) (int64, error)
}

// Executor maps tool calls onto task store operations.
//
// Execute never fails the surrounding request: store failures, bad arguments,
// and unknown tool names all come back as short human-readable strings the
// model can react to in its next turn.
type Executor struct {
	store TaskStore
}

// NewExecutor creates an executor over the given task store.
func NewExecutor(store TaskStore) *Executor {
	return &Executor{store: store}
}

// Execute runs one tool call for the user and returns the result text.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall, userID string) string {
	name := call.Function.Name
	result := e.dispatch(ctx, name, call.Function.Arguments, userID)
	log.Printf("TOOL_EXECUTED | tool=%s user=%s result=%q", name, userID, util.Preview(result, 80))
	return result
}

func (e *Executor) dispatch(ctx context.Context, name, rawArgs, userID string) string {
	switch name {
	case ToolAddTask:
		return e.addTask(ctx, rawArgs, userID)
	case ToolListTasks:
		return e.listTasks(ctx, rawArgs, userID)
	case ToolToggleTask:
		return e.toggleTask(ctx, rawArgs, userID)
	case ToolDeleteTask:
		return e.deleteTask(ctx, rawArgs, userID)
	case ToolUpdateTask:
		return e.updateTask(ctx, rawArgs, userID)
	default:
		return "Unknown tool: " + name
	}
}

// =============================================================================
// ARGUMENT DECODING
// =============================================================================

// Each tool decodes its arguments into its own typed struct before any store
// call; untyped field lookup on the raw JSON is never used.

type addTaskArgs struct {
	Title string `json:"title"`
	DueAt string `json:"due_at"`
}

type listTasksArgs struct {
	Completed *bool `json:"completed"`
}

type titleArgs struct {
	Title string `json:"title"`
}

type updateTaskArgs struct {
	OldTitle string `json:"old_title"`
	NewTitle string `json:"new_title"`
}

func decodeArgs(rawArgs string, v interface{}) error {
	if strings.TrimSpace(rawArgs) == "" {
		return nil
	}
	return json.Unmarshal([]byte(rawArgs), v)
}

// =============================================================================
// TOOL IMPLEMENTATIONS
// =============================================================================

func (e *Executor) addTask(ctx context.Context, rawArgs, userID string) string {
	var args addTaskArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "Error: invalid arguments for add_task: " + err.Error()
	}
	if strings.TrimSpace(args.Title) == "" {
		return `Error: missing required argument "title"`
	}

	var dueAt *time.Time
	if args.DueAt != "" {
		ts, err := parseDue(args.DueAt)
		if err != nil {
			return fmt.Sprintf("Error: invalid due_at %q, expected ISO-8601", args.DueAt)
		}
		dueAt = &ts
	}

	created, err := e.store.Create(ctx, userID, args.Title, dueAt)
	if err != nil {
		return "Error: " + err.Error()
	}
	if created.DueAt != nil {
		return fmt.Sprintf("Added task: %q (due %s)", created.Title, created.DueAt.Format(dueFormat))
	}
	return fmt.Sprintf("Added task: %q", created.Title)
}

func (e *Executor) listTasks(ctx context.Context, rawArgs, userID string) string {
	var args listTasksArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "Error: invalid arguments for list_tasks: " + err.Error()
	}

	tasks, err := e.store.List(ctx, userID, args.Completed)
	if err != nil {
		return "Error: " + err.Error()
	}
	if len(tasks) == 0 {
		return "No tasks found."
	}

	var b strings.Builder
	for i, t := range tasks {
		glyph := "[ ]"
		if t.Completed {
			glyph = "[x]"
		}
		fmt.Fprintf(&b, "%d. %s %s", i+1, glyph, t.Title)
		if t.DueAt != nil {
			fmt.Fprintf(&b, " (due %s)", t.DueAt.Format(dueFormat))
		}
		if i < len(tasks)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (e *Executor) toggleTask(ctx context.Context, rawArgs, userID string) string {
	var args titleArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "Error: invalid arguments for toggle_task: " + err.Error()
	}
	if strings.TrimSpace(args.Title) == "" {
		return `Error: missing required argument "title"`
	}

	t, err := e.store.FindByTitle(ctx, userID, args.Title)
	if errors.Is(err, task.ErrTaskNotFound) {
		return fmt.Sprintf("No task found matching %q.", args.Title)
	}
	if err != nil {
		return "Error: " + err.Error()
	}

	if err := e.store.SetCompleted(ctx, userID, t.ID, !t.Completed); err != nil {
		return "Error: " + err.Error()
	}
	if t.Completed {
		return fmt.Sprintf("Reopened: %q", t.Title)
	}
	return fmt.Sprintf("Completed: %q", t.Title)
}

func (e *Executor) deleteTask(ctx context.Context, rawArgs, userID string) string {
	var args titleArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "Error: invalid arguments for delete_task: " + err.Error()
	}
	if strings.TrimSpace(args.Title) == "" {
		return `Error: missing required argument "title"`
	}

	if args.Title == DeleteCompletedSentinel {
		n, err := e.store.DeleteCompleted(ctx, userID)
		if err != nil {
			return "Error: " + err.Error()
		}
		return fmt.Sprintf("Deleted %d completed task(s).", n)
	}

	t, err := e.store.FindByTitle(ctx, userID, args.Title)
	if errors.Is(err, task.ErrTaskNotFound) {
		return fmt.Sprintf("No task found matching %q.", args.Title)
	}
	if err != nil {
		return "Error: " + err.Error()
	}

	if err := e.store.Delete(ctx, userID, t.ID); err != nil {
		return "Error: " + err.Error()
	}
	return fmt.Sprintf("Deleted task: %q", t.Title)
}

func (e *Executor) updateTask(ctx context.Context, rawArgs, userID string) string {
	var args updateTaskArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "Error: invalid arguments for update_task: " + err.Error()
	}
	if strings.TrimSpace(args.OldTitle) == "" {
		return `Error: missing required argument "old_title"`
	}
	if strings.TrimSpace(args.NewTitle) == "" {
		return `Error: missing required argument "new_title"`
	}

	t, err := e.store.FindByTitle(ctx, userID, args.OldTitle)
	if errors.Is(err, task.ErrTaskNotFound) {
		return fmt.Sprintf("No task found matching %q.", args.OldTitle)
	}
	if err != nil {
		return "Error: " + err.Error()
	}

	if err := e.store.Rename(ctx, userID, t.ID, args.NewTitle); err != nil {
		return "Error: " + err.Error()
	}
	return fmt.Sprintf("Renamed %q to %q.", t.Title, strings.TrimSpace(args.NewTitle))
}

// parseDue accepts full RFC 3339 timestamps and bare dates.
func parseDue(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", s)
}
