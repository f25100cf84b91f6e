// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent implements the tool-calling orchestration loop.
//
// One run alternates between the model client and the tool executor until the
// model stops requesting tools or the round cap is hit. The model-facing
// transcript (system prompt, caller history, tool chatter) lives only for the
// duration of the run.
package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jeranaias/taskchat/internal/llm"
)

// FallbackAnswer is returned when the loop settles without any textual
// content from the model.
const FallbackAnswer = "Done!"

// ModelClient is the completion surface the loop needs. *llm.Client
// satisfies it.
type ModelClient interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error)
}

// ToolRunner executes one tool call and returns its result text.
// *tools.Executor satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, call llm.ToolCall, userID string) string
}

// Result is the settled outcome of one orchestration run.
type Result struct {
	// Content is the settled answer text, never empty.
	Content string

	// ToolsUsed reports whether any tool round ran; it drives the task-list
	// refresh signal in the encoded stream.
	ToolsUsed bool
}

// Agent drives model/tool rounds for one request at a time.
type Agent struct {
	model     ModelClient
	runner    ToolRunner
	catalog   []llm.Tool
	maxRounds int
	now       func() time.Time
}

// New creates an agent. maxRounds bounds worst-case latency against a model
// that never stops requesting tools; values below 1 are clamped to 1.
func New(model ModelClient, runner ToolRunner, catalog []llm.Tool, maxRounds int) *Agent {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Agent{
		model:     model,
		runner:    runner,
		catalog:   catalog,
		maxRounds: maxRounds,
		now:       time.Now,
	}
}

// WithClock overrides the wall clock used for the system prompt.
func (a *Agent) WithClock(now func() time.Time) *Agent {
	a.now = now
	return a
}

// Run drives the loop for one request and returns the settled answer.
//
// A failure on the first model call is a hard error, surfaced with the llm
// error taxonomy intact. A failure on a follow-up call settles the run on
// whatever content is already available.
func (a *Agent) Run(ctx context.Context, userID string, history []llm.Message) (*Result, error) {
	transcript := make([]llm.Message, 0, len(history)+1)
	transcript = append(transcript, llm.NewSystemMessage(a.systemPrompt()))
	transcript = append(transcript, history...)

	var (
		lastContent string
		toolsUsed   bool
	)

	for round := 1; round <= a.maxRounds; round++ {
		msg, err := a.model.Complete(ctx, transcript, a.catalog)
		if err != nil {
			if round == 1 {
				return nil, fmt.Errorf("model call failed: %w", err)
			}
			log.Printf("AGENT_SETTLED_ON_ERROR | user=%s round=%d err=%v", userID, round, err)
			return &Result{Content: settled(lastContent), ToolsUsed: toolsUsed}, nil
		}

		if msg.Content != "" {
			lastContent = msg.Content
		}

		if !msg.HasToolCalls() {
			log.Printf("AGENT_SETTLED | user=%s rounds=%d tools_used=%t", userID, round, toolsUsed)
			return &Result{Content: settled(msg.Content), ToolsUsed: toolsUsed}, nil
		}

		toolsUsed = true
		log.Printf("AGENT_ROUND | user=%s round=%d tool_calls=%d", userID, round, len(msg.ToolCalls))

		// The assistant's tool-requesting message precedes its results, and
		// calls run sequentially so later calls see earlier side effects.
		transcript = append(transcript, *msg)
		for _, tc := range msg.ToolCalls {
			result := a.runner.Execute(ctx, tc, userID)
			transcript = append(transcript, llm.NewToolResultMessage(tc.ID, result))
		}
	}

	// Round cap reached while the model was still requesting tools. Not an
	// error: settle on best-effort content.
	log.Printf("AGENT_ROUND_CAP | user=%s rounds=%d", userID, a.maxRounds)
	return &Result{Content: settled(lastContent), ToolsUsed: toolsUsed}, nil
}

func settled(content string) string {
	if content == "" {
		return FallbackAnswer
	}
	return content
}

// systemPrompt embeds the current wall-clock time so the model can resolve
// relative dates ("tomorrow") into absolute timestamps.
func (a *Agent) systemPrompt() string {
	now := a.now()
	return fmt.Sprintf(`You are a helpful task management assistant. You manage the user's to-do list with the provided tools.

The current date and time is %s (%s).

Guidelines:
- Use the tools for every task operation; never invent task state.
- Resolve relative dates ("tomorrow", "next friday") into absolute ISO-8601 timestamps using the current time above.
- To clear finished items, call delete_task with the special title __completed__.
- After acting, answer the user in one or two short sentences.`,
		now.Format("Monday, January 2, 2006 at 15:04 MST"),
		now.Format(time.RFC3339))
}
