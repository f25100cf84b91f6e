// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements both ends of the line-oriented streaming
// protocol: the server-side encoder that frames a settled answer as
// server-sent events, and the client-side consumer that reassembles them.
//
// Protocol: only lines beginning "data: " carry payloads; lines beginning
// ":" are comments; blank lines are separators; the literal payload "[DONE]"
// terminates the logical stream.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Chunk is one streamed payload.
type Chunk struct {
	Choices []Choice `json:"choices"`
}

// Choice wraps one delta.
type Choice struct {
	Delta Delta `json:"delta"`
}

// Delta carries incremental content and, when tools ran, the tool-call
// metadata the consumer treats as a task-list refresh signal.
type Delta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []DeltaToolCall `json:"tool_calls,omitempty"`
}

// DeltaToolCall marks tool activity in a delta. Only its presence matters to
// the consumer.
type DeltaToolCall struct {
	Index int `json:"index"`
}

// doneSentinel is the payload that terminates the logical stream.
const doneSentinel = "[DONE]"

// =============================================================================
// ENCODER
// =============================================================================

// Encode frames the settled answer as one data event followed by the
// terminal sentinel. Token-level delivery from the upstream model is not
// exposed; the framing stays protocol-compatible with a future incremental
// encoder so the consumer's contract never changes.
func Encode(w io.Writer, content string, toolsUsed bool) error {
	delta := Delta{Content: content}
	if toolsUsed {
		delta.ToolCalls = []DeltaToolCall{{Index: 0}}
	}

	data, err := json.Marshal(Chunk{Choices: []Choice{{Delta: delta}}})
	if err != nil {
		return fmt.Errorf("encode stream chunk: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write stream chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", doneSentinel); err != nil {
		return fmt.Errorf("write stream sentinel: %w", err)
	}
	return nil
}
