// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ux: this file converts raw event-stream lines into StreamEvent
// structs. Parsers are stateless; buffering across chunk boundaries is the
// reader's job.
package ux

import (
	"encoding/json"
	"strings"
)

// doneSentinel is the payload literal that terminates a stream normally.
const doneSentinel = "[DONE]"

// =============================================================================
// Parser Interface
// =============================================================================

// SSEParser parses one line of the relay wire format.
//
// The format, as written by the relay:
//
//	data: {"content": "<delta text>"}
//	data: [DONE]
//	data: {"error": "<message>"}
//
// Anything else on the wire (blank keep-alive lines, comments, payloads
// that do not parse, JSON without a content or error field) is noise to
// be skipped, not a protocol error: the relay may gain frame types
// independently of this client.
type SSEParser interface {
	// ParseLine parses a single line.
	//
	// Returns (nil, nil) for lines that carry no event. A non-nil event
	// has Type delta, done, or error. ParseLine never returns an error
	// for malformed payloads; the error return is reserved for future
	// stateful implementations.
	ParseLine(line string) (*StreamEvent, error)
}

// relayParser is the stateless parser for the relay wire format.
type relayParser struct{}

// NewSSEParser creates a parser for the relay wire format.
func NewSSEParser() SSEParser {
	return &relayParser{}
}

// relayPayload is the decoded shape of a data line. Exactly one of the
// two fields is expected to be present.
type relayPayload struct {
	Content *string `json:"content"`
	Error   *string `json:"error"`
}

func (p *relayParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimRight(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return nil, nil
	}

	var payload string
	switch {
	case strings.HasPrefix(line, "data: "):
		payload = strings.TrimPrefix(line, "data: ")
	case strings.HasPrefix(line, "data:"):
		payload = strings.TrimPrefix(line, "data:")
	default:
		// Not an event line (e.g. "event:" or "id:" fields). Skip.
		return nil, nil
	}

	if strings.TrimSpace(payload) == doneSentinel {
		return &StreamEvent{Type: StreamEventDone}, nil
	}

	var decoded relayPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		// Formatting noise; silently skipped for forward compatibility.
		return nil, nil
	}
	if decoded.Error != nil {
		return &StreamEvent{Type: StreamEventError, Error: *decoded.Error}, nil
	}
	if decoded.Content != nil && *decoded.Content != "" {
		return &StreamEvent{Type: StreamEventDelta, Content: *decoded.Content}, nil
	}
	return nil, nil
}

var _ SSEParser = (*relayParser)(nil)
