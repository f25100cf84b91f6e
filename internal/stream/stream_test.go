// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "All done.", false); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	out := buf.String()
	lines := strings.Split(out, "\n")
	if len(lines) != 5 {
		t.Fatalf("frame has %d lines, want 5 (data, blank, done, blank, trailing): %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "data: {") {
		t.Errorf("first line = %q, want data payload", lines[0])
	}
	if lines[1] != "" {
		t.Errorf("second line = %q, want blank separator", lines[1])
	}
	if lines[2] != "data: [DONE]" {
		t.Errorf("third line = %q, want sentinel", lines[2])
	}
	if strings.Contains(out, "tool_calls") {
		t.Error("tool_calls present without tool activity")
	}
}

func TestEncodeCarriesToolSignal(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "Added it.", true); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if !strings.Contains(buf.String(), `"tool_calls"`) {
		t.Errorf("tool activity not encoded: %q", buf.String())
	}
}

func TestRoundTripSingleAssistantMessage(t *testing.T) {
	var buf bytes.Buffer
	answer := `Added task: "Buy milk"`
	if err := Encode(&buf, answer, true); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	c := NewConsumer()
	c.Feed(buf.Bytes())

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want exactly 1: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != answer {
		t.Errorf("message = %+v", msgs[0])
	}
	if !c.Done() {
		t.Error("Done = false after sentinel")
	}
	if !c.TasksChanged() {
		t.Error("TasksChanged = false, want refresh signal")
	}
}

func TestSplitLineReassembly(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "Hello there, streamed world.", false); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	raw := buf.Bytes()

	// Split mid-payload, well inside the JSON.
	cut := bytes.IndexByte(raw, '{') + 10
	c := NewConsumer()
	c.Feed(raw[:cut])

	if len(c.Messages()) != 0 {
		t.Fatalf("partial chunk produced messages: %+v", c.Messages())
	}

	c.Feed(raw[cut:])
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "Hello there, streamed world." {
		t.Errorf("reassembled messages = %+v", msgs)
	}
	if !c.Done() {
		t.Error("Done = false after full stream")
	}
}

func TestByteAtATimeDelivery(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "drip", true); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	c := NewConsumer()
	for _, b := range buf.Bytes() {
		c.Feed([]byte{b})
	}

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "drip" {
		t.Errorf("messages = %+v", msgs)
	}
	if !c.TasksChanged() {
		t.Error("TasksChanged = false")
	}
}

func TestCommentAndBlankLinesIgnored(t *testing.T) {
	input := ": keep-alive\n" +
		"\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n" +
		"\n" +
		": another comment\r\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n" +
		"\n" +
		"data: [DONE]\n\n"

	c := NewConsumer()
	c.Feed([]byte(input))

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "Hi!" {
		t.Errorf("content = %q, want %q", msgs[0].Content, "Hi!")
	}
}

func TestCarriageReturnStripped(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"crlf\"}}]}\r\n\r\ndata: [DONE]\r\n\r\n"

	c := NewConsumer()
	c.Feed([]byte(input))

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "crlf" {
		t.Errorf("messages = %+v", msgs)
	}
	if !c.Done() {
		t.Error("Done = false with CRLF framing")
	}
}

func TestNothingProcessedAfterSentinel(t *testing.T) {
	input := "data: [DONE]\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n"

	c := NewConsumer()
	c.Feed([]byte(input))
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"later\"}}]}\n\n"))

	if len(c.Messages()) != 0 {
		t.Errorf("messages after sentinel = %+v, want none", c.Messages())
	}
}

func TestContentAppendsToOpenAssistantMessage(t *testing.T) {
	c := NewConsumer()
	c.AddUserMessage("add milk")
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Add\"}}]}\n\n"))
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ed.\"}}]}\n\n"))
	c.Feed([]byte("data: [DONE]\n\n"))

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + one assistant: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != "Added." {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}

	// A second exchange opens a fresh assistant message.
	c.AddUserMessage("and eggs")
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Done.\"}}]}\n\ndata: [DONE]\n\n"))
	msgs = c.Messages()
	if len(msgs) != 4 || msgs[3].Content != "Done." {
		t.Errorf("second exchange messages = %+v", msgs)
	}
}

func TestToolSignalIndependentOfContent(t *testing.T) {
	c := NewConsumer()
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0}]}}]}\n\n"))

	if len(c.Messages()) != 0 {
		t.Errorf("content-free delta created messages: %+v", c.Messages())
	}
	if !c.TasksChanged() {
		t.Error("TasksChanged = false, want true")
	}
	// Reading the flag clears it.
	if c.TasksChanged() {
		t.Error("TasksChanged did not clear")
	}
}

func TestMalformedPayloadPushedBack(t *testing.T) {
	c := NewConsumer()
	// A payload whose tail got separated upstream: the line ends mid-JSON.
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"par\n"))

	if len(c.Messages()) != 0 {
		t.Fatalf("malformed line produced messages: %+v", c.Messages())
	}

	// The rest of the payload arrives and completes the pushed-back line.
	c.Feed([]byte("tial\"}}]}\n\ndata: [DONE]\n\n"))

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "partial" {
		t.Errorf("messages = %+v, want recovered content", msgs)
	}
	if !c.Done() {
		t.Error("Done = false after recovery")
	}
}
