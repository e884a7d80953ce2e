// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ux: this file contains the stream reader that consumes a relay
// response body and emits parsed events via callbacks.
//
// Single Responsibility:
//
//	The reader handles I/O, frame reassembly across chunk boundaries, and
//	event sequencing. It uses a parser to convert lines to events and does
//	not render or accumulate output.
package ux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrTruncatedStream is returned when the transport ends before any
// terminal event was received. The caller must not treat whatever partial
// output it accumulated as a completed response.
var ErrTruncatedStream = errors.New("stream ended without a terminal event")

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads a relay event stream and invokes callbacks.
//
// Thread Safety:
//
//	Implementations are safe for concurrent use, but a single Read or
//	ReadAll call must not be shared across goroutines.
type StreamReader interface {
	// Read processes a stream, invoking callback for each event in
	// arrival order.
	//
	// Byte chunks arrive from the transport with arbitrary boundaries; a
	// frame split across chunks is reassembled and parsed exactly once.
	// Reading stops when a terminal event is delivered (returns nil),
	// the context is cancelled (returns ctx.Err()), the callback returns
	// an error (returned as-is), or the source ends without a terminal
	// event (returns ErrTruncatedStream).
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll consumes the whole stream into an aggregated StreamResult.
	//
	// A terminal error event is captured in StreamResult.Error and does
	// not produce a non-nil return. Truncation sets StreamResult.Truncated
	// and returns ErrTruncatedStream.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader over the relay wire format.
//
// bufio.Scanner provides the carry-over buffer: bytes are accumulated
// until a full line is available, so chunk boundaries never split an
// event frame in two or deliver it twice.
type sseStreamReader struct {
	parser SSEParser
}

// NewSSEStreamReader creates a stream reader using the given parser.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return &sseStreamReader{parser: parser}
}

func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	eventIndex := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		event.Index = eventIndex
		eventIndex++

		if err := callback(*event); err != nil {
			return err
		}

		// Terminal event: stop immediately, even if more bytes arrived
		// in the same chunk.
		if event.IsTerminal() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// Body reads fail once the request context is cancelled;
			// report the cancellation, not the transport error.
			return ctx.Err()
		}
		return err
	}

	return ErrTruncatedStream
}

func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{CreatedAt: time.Now().UnixMilli()}
	var answer strings.Builder

	err := r.Read(ctx, reader, func(event StreamEvent) error {
		result.TotalEvents++

		switch event.Type {
		case StreamEventDelta:
			if result.FirstDeltaAt == 0 {
				result.FirstDeltaAt = time.Now().UnixMilli()
			}
			answer.WriteString(event.Content)
			result.TotalDeltas++

		case StreamEventDone:
			result.CompletedAt = time.Now().UnixMilli()

		case StreamEventError:
			result.Error = event.Error
			result.CompletedAt = time.Now().UnixMilli()
		}
		return nil
	})

	result.Answer = answer.String()
	if errors.Is(err, ErrTruncatedStream) {
		result.Truncated = true
	}
	if result.CompletedAt == 0 {
		result.CompletedAt = time.Now().UnixMilli()
	}

	return result, err
}

var _ StreamReader = (*sseStreamReader)(nil)
