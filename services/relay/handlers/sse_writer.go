// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Wire Frames
// =============================================================================

// doneSentinel is the literal payload marking normal stream completion.
const doneSentinel = "[DONE]"

// deltaFrame is the payload of one incremental content event.
type deltaFrame struct {
	Content string `json:"content"`
}

// errorFrame is the payload of the terminal error event.
type errorFrame struct {
	Error string `json:"error"`
}

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter frames relay events onto a committed event-stream response.
//
// The wire format is one "data: <payload>\n\n" frame per event:
//
//	data: {"content": "<delta text>"}      zero or more, in order
//	data: [DONE]                           terminal, or
//	data: {"error": "<message>"}           terminal
//
// A write error means the client is gone; the caller must stop pulling
// upstream tokens and tear down.
type SSEWriter interface {
	// WriteDelta frames one incremental content fragment.
	WriteDelta(text string) error

	// WriteDone frames the completion sentinel. Nothing may be written after.
	WriteDone() error

	// WriteError frames a terminal error event. Nothing may be written after.
	WriteError(message string) error
}

// sseWriter implements SSEWriter over an http.ResponseWriter, flushing
// after every event so deltas reach the client as they are generated.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps w for event-stream framing.
//
// Returns an error if w does not support flushing; streaming through a
// buffering middleware would hold every delta until the response ends.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// SetSSEHeaders marks the response as a live event stream. Must be called
// before the first write; the status is committed with the first byte.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (w *sseWriter) WriteDelta(text string) error {
	data, err := json.Marshal(deltaFrame{Content: text})
	if err != nil {
		return fmt.Errorf("failed to marshal delta frame: %w", err)
	}
	return w.writeFrame(data)
}

func (w *sseWriter) WriteDone() error {
	return w.writeFrame([]byte(doneSentinel))
}

func (w *sseWriter) WriteError(message string) error {
	data, err := json.Marshal(errorFrame{Error: message})
	if err != nil {
		return fmt.Errorf("failed to marshal error frame: %w", err)
	}
	return w.writeFrame(data)
}

// writeFrame performs one locked write-and-flush of a single frame.
func (w *sseWriter) writeFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

var _ SSEWriter = (*sseWriter)(nil)
