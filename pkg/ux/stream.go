// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ux provides the client side of the chat relay: parsing the
// event-stream wire format, reading response bodies incrementally, and
// orchestrating one in-flight chat session at a time.
package ux

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType represents the type of a parsed relay event.
type StreamEventType string

const (
	// StreamEventDelta carries one incremental fragment of model output.
	StreamEventDelta StreamEventType = "delta"
	// StreamEventDone marks normal completion. Always the last event.
	StreamEventDone StreamEventType = "done"
	// StreamEventError marks abnormal termination. Always the last event.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one parsed event from the relay's wire stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
	// Index is the zero-based arrival position, set by the reader.
	Index int `json:"index"`
}

// IsTerminal reports whether no further events may follow this one.
func (e *StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone || e.Type == StreamEventError
}

// StreamCallback receives parsed events in arrival order. Returning a
// non-nil error stops reading.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Aggregated Result
// =============================================================================

// StreamResult is the aggregate of a fully consumed stream, for callers
// that do not need event-by-event delivery.
type StreamResult struct {
	// Answer is the concatenation of every delta in arrival order.
	Answer string `json:"answer"`
	// Error is the terminal error message, if the stream ended with one.
	Error string `json:"error,omitempty"`
	// Truncated is set when the transport ended without a terminal event.
	Truncated bool `json:"truncated,omitempty"`

	TotalEvents  int   `json:"total_events"`
	TotalDeltas  int   `json:"total_deltas"`
	CreatedAt    int64 `json:"created_at"`
	FirstDeltaAt int64 `json:"first_delta_at,omitempty"`
	CompletedAt  int64 `json:"completed_at,omitempty"`
}
