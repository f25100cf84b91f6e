// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/taskchat/internal/llm"
)

// scriptedModel replays a fixed sequence of responses and records every
// transcript it was sent.
type scriptedModel struct {
	responses []func() (*llm.Message, error)
	calls     int
	seen      [][]llm.Message
}

func (m *scriptedModel) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error) {
	m.seen = append(m.seen, append([]llm.Message(nil), messages...))
	idx := m.calls
	m.calls++
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx]()
}

func respondContent(content string) func() (*llm.Message, error) {
	return func() (*llm.Message, error) {
		msg := llm.NewAssistantMessage(content)
		return &msg, nil
	}
}

func respondToolCall(id, name, args string) func() (*llm.Message, error) {
	return func() (*llm.Message, error) {
		return &llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       id,
				Type:     "function",
				Function: llm.ToolCallFunction{Name: name, Arguments: args},
			}},
		}, nil
	}
}

func respondError(err error) func() (*llm.Message, error) {
	return func() (*llm.Message, error) { return nil, err }
}

// recordingRunner returns a canned result and records execution order.
type recordingRunner struct {
	executed []string
}

func (r *recordingRunner) Execute(ctx context.Context, call llm.ToolCall, userID string) string {
	r.executed = append(r.executed, call.Function.Name)
	return fmt.Sprintf("ran %s", call.Function.Name)
}

func TestRunSettlesOnPlainContent(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		respondContent("You have 2 tasks."),
	}}
	runner := &recordingRunner{}
	a := New(model, runner, nil, 5)

	res, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("what's on my list?")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Content != "You have 2 tasks." {
		t.Errorf("content = %q", res.Content)
	}
	if res.ToolsUsed {
		t.Error("ToolsUsed = true, want false")
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}
	if len(runner.executed) != 0 {
		t.Errorf("tools executed = %v, want none", runner.executed)
	}
}

func TestRunExecutesToolRoundThenSettles(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		respondToolCall("call_1", "add_task", `{"title":"Buy milk"}`),
		respondContent(`Added "Buy milk" to your list.`),
	}}
	runner := &recordingRunner{}
	a := New(model, runner, nil, 5)

	res, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("add buy milk")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.ToolsUsed {
		t.Error("ToolsUsed = false, want true")
	}
	if res.Content != `Added "Buy milk" to your list.` {
		t.Errorf("content = %q", res.Content)
	}
	if len(runner.executed) != 1 || runner.executed[0] != "add_task" {
		t.Errorf("executed = %v", runner.executed)
	}

	// The follow-up call sees the assistant tool-call message and the tool
	// result, in that order, with the call id threaded through.
	second := model.seen[1]
	n := len(second)
	if n < 2 {
		t.Fatalf("second transcript too short: %d messages", n)
	}
	assistant, toolMsg := second[n-2], second[n-1]
	if !assistant.HasToolCalls() {
		t.Error("assistant tool-call message missing from transcript")
	}
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if toolMsg.Content != "ran add_task" {
		t.Errorf("tool result content = %q", toolMsg.Content)
	}
}

func TestRunTerminatesAtRoundCap(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		respondToolCall("call_x", "list_tasks", `{}`),
	}}
	runner := &recordingRunner{}
	a := New(model, runner, nil, 5)

	res, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("loop forever")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if model.calls != 5 {
		t.Errorf("model calls = %d, want exactly 5", model.calls)
	}
	if res.Content == "" {
		t.Error("settled content is empty")
	}
	if res.Content != FallbackAnswer {
		t.Errorf("content = %q, want fallback %q", res.Content, FallbackAnswer)
	}
	if !res.ToolsUsed {
		t.Error("ToolsUsed = false, want true")
	}
}

func TestRunMultipleToolCallsExecuteInOrder(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		func() (*llm.Message, error) {
			return &llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{
					{ID: "c1", Type: "function", Function: llm.ToolCallFunction{Name: "toggle_task", Arguments: `{"title":"milk"}`}},
					{ID: "c2", Type: "function", Function: llm.ToolCallFunction{Name: "delete_task", Arguments: `{"title":"__completed__"}`}},
				},
			}, nil
		},
		respondContent("Cleaned up."),
	}}
	runner := &recordingRunner{}
	a := New(model, runner, nil, 5)

	_, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("finish milk and clean up")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []string{"toggle_task", "delete_task"}
	if len(runner.executed) != 2 || runner.executed[0] != want[0] || runner.executed[1] != want[1] {
		t.Errorf("executed = %v, want %v", runner.executed, want)
	}
}

func TestRunFirstCallFailureIsHardError(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		respondError(llm.ErrRateLimited),
	}}
	a := New(model, &recordingRunner{}, nil, 5)

	_, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("hi")})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Errorf("error = %v, want errors.Is(ErrRateLimited)", err)
	}
}

func TestRunFollowUpFailureSettlesOnAvailableContent(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		func() (*llm.Message, error) {
			return &llm.Message{
				Role:    llm.RoleAssistant,
				Content: "Working on it.",
				ToolCalls: []llm.ToolCall{{
					ID: "c1", Type: "function",
					Function: llm.ToolCallFunction{Name: "add_task", Arguments: `{"title":"x"}`},
				}},
			}, nil
		},
		respondError(errors.New("upstream exploded")),
	}}
	runner := &recordingRunner{}
	a := New(model, runner, nil, 5)

	res, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("add x")})
	if err != nil {
		t.Fatalf("follow-up failure should settle, got error: %v", err)
	}
	if res.Content != "Working on it." {
		t.Errorf("content = %q, want prior partial content", res.Content)
	}
	if !res.ToolsUsed {
		t.Error("ToolsUsed = false, want true")
	}
}

func TestSystemPromptEmbedsWallClock(t *testing.T) {
	model := &scriptedModel{responses: []func() (*llm.Message, error){
		respondContent("hi"),
	}}
	fixed := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	a := New(model, &recordingRunner{}, nil, 5).WithClock(func() time.Time { return fixed })

	_, err := a.Run(context.Background(), "u1", []llm.Message{llm.NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	system := model.seen[0][0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("first transcript message role = %q, want system", system.Role)
	}
	if !strings.Contains(system.Content, "2026-08-30T09:30:00Z") {
		t.Errorf("system prompt missing current time: %q", system.Content)
	}
}
