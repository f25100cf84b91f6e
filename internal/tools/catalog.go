// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools defines the task-management tool catalog advertised to the
// model and the executor that maps the model's tool calls onto task store
// operations.
package tools

import "github.com/jeranaias/taskchat/internal/llm"

// Tool names recognized by the executor.
const (
	ToolAddTask    = "add_task"
	ToolListTasks  = "list_tasks"
	ToolToggleTask = "toggle_task"
	ToolDeleteTask = "delete_task"
	ToolUpdateTask = "update_task"
)

// DeleteCompletedSentinel is the delete_task title meaning "every completed
// task for this user".
const DeleteCompletedSentinel = "__completed__"

// Catalog returns the immutable tool declarations attached to every model
// call. Built once at process start.
func Catalog() []llm.Tool {
	return []llm.Tool{
		llm.NewTool(ToolAddTask,
			"Create a new task for the user. Use due_at for deadlines, as an ISO-8601 timestamp.",
			llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolProperty{
					"title":  {Type: "string", Description: "Title of the task to create"},
					"due_at": {Type: "string", Description: "Optional due date, ISO-8601 (e.g. 2026-09-01T17:00:00Z)"},
				},
				Required: []string{"title"},
			}),
		llm.NewTool(ToolListTasks,
			"List the user's tasks, newest first. Optionally filter by completion state.",
			llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolProperty{
					"completed": {Type: "boolean", Description: "If set, only tasks with this completion state"},
				},
			}),
		llm.NewTool(ToolToggleTask,
			"Toggle a task between completed and open. The title may be a fragment; the closest (most recent) match is used.",
			llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolProperty{
					"title": {Type: "string", Description: "Title or fragment of the task to toggle"},
				},
				Required: []string{"title"},
			}),
		llm.NewTool(ToolDeleteTask,
			"Delete a task by title fragment. Pass the special title __completed__ to delete every completed task.",
			llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolProperty{
					"title": {Type: "string", Description: "Title or fragment of the task to delete, or __completed__"},
				},
				Required: []string{"title"},
			}),
		llm.NewTool(ToolUpdateTask,
			"Rename a task. old_title may be a fragment; the closest (most recent) match is renamed.",
			llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolProperty{
					"old_title": {Type: "string", Description: "Title or fragment of the task to rename"},
					"new_title": {Type: "string", Description: "The new title"},
				},
				Required: []string{"old_title", "new_title"},
			}),
	}
}
