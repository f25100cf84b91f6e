// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
)

// =============================================================================
// CONSUMER
// =============================================================================

// DisplayMessage is one turn of the client's visible transcript.
type DisplayMessage struct {
	Role    string
	Content string
}

// Consumer reassembles the streamed protocol incrementally and maintains the
// visible transcript. Feed it raw chunks as they arrive from the transport;
// chunk boundaries may fall anywhere, including mid-line.
type Consumer struct {
	buf           []byte
	messages      []DisplayMessage
	assistantOpen bool
	done          bool
	tasksChanged  bool
}

// NewConsumer creates an empty consumer.
func NewConsumer() *Consumer {
	return &Consumer{}
}

var dataPrefix = []byte("data: ")

// Feed ingests one chunk of bytes. Complete lines are processed immediately;
// a partial line at the tail is held back and prefixed onto the next chunk.
func (c *Consumer) Feed(chunk []byte) {
	if c.done {
		return
	}
	c.buf = append(c.buf, chunk...)

	for {
		idx := bytes.IndexByte(c.buf, '\n')
		if idx < 0 {
			return
		}
		line := c.buf[:idx]
		c.buf = c.buf[idx+1:]

		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := line[len(dataPrefix):]

		if bytes.Equal(payload, []byte(doneSentinel)) {
			c.done = true
			c.assistantOpen = false
			return
		}

		var parsed Chunk
		if err := json.Unmarshal(payload, &parsed); err != nil {
			// A payload split across an upstream read boundary parses as
			// malformed JSON. Push the line back so the next chunk's bytes
			// complete it, and wait for more input.
			rest := c.buf
			c.buf = append([]byte{}, line...)
			c.buf = append(c.buf, rest...)
			return
		}

		c.apply(&parsed)
	}
}

// apply folds one parsed delta into the visible transcript.
func (c *Consumer) apply(chunk *Chunk) {
	for _, choice := range chunk.Choices {
		if len(choice.Delta.ToolCalls) > 0 {
			// Pure refresh signal, independent of text content.
			c.tasksChanged = true
		}
		if choice.Delta.Content == "" {
			continue
		}
		if !c.assistantOpen {
			c.messages = append(c.messages, DisplayMessage{Role: "assistant"})
			c.assistantOpen = true
		}
		c.messages[len(c.messages)-1].Content += choice.Delta.Content
	}
}

// AddUserMessage appends a user turn to the visible transcript and begins a
// new exchange: the next content delta opens a fresh assistant message.
func (c *Consumer) AddUserMessage(content string) {
	c.messages = append(c.messages, DisplayMessage{Role: "user", Content: content})
	c.assistantOpen = false
	c.done = false
}

// Messages returns the visible transcript so far.
func (c *Consumer) Messages() []DisplayMessage {
	return c.messages
}

// Done reports whether the terminal sentinel has been seen.
func (c *Consumer) Done() bool {
	return c.done
}

// TasksChanged reports whether any delta carried tool-call metadata, and
// clears the flag.
func (c *Consumer) TasksChanged() bool {
	changed := c.tasksChanged
	c.tasksChanged = false
	return changed
}
