// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ux: this file contains the session controller that owns one
// in-flight chat stream and accumulates deltas into a single response.
package ux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
)

// =============================================================================
// Session State
// =============================================================================

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	// StatusIdle means no stream is in flight. Also the post-cancel state.
	StatusIdle SessionStatus = "idle"
	// StatusStreaming means deltas are being consumed.
	StatusStreaming SessionStatus = "streaming"
	// StatusCompleted means the stream ended with the done sentinel.
	StatusCompleted SessionStatus = "completed"
	// StatusFailed means the stream ended with an error or was truncated.
	StatusFailed SessionStatus = "failed"
)

// SessionState is the observable snapshot of a session. Text holds the
// accumulated response; on failure it keeps whatever had streamed in.
type SessionState struct {
	Text   string
	Status SessionStatus
	Error  string
}

// =============================================================================
// Session Controller
// =============================================================================

// Doer abstracts the HTTP client so tests can inject transports.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionConfig configures a SessionController.
type SessionConfig struct {
	// Endpoint is the full URL of the relay's streaming chat endpoint.
	Endpoint string
	// UserID is the opaque session identifier sent with every prompt.
	UserID string
	// Client defaults to http.DefaultClient.
	Client Doer
	// Reader defaults to NewSSEStreamReader(NewSSEParser()).
	Reader StreamReader
	// OnUpdate, when set, is called after every state change with a
	// snapshot. Called from the streaming goroutine; must not block.
	OnUpdate func(SessionState)
}

// SessionController drives at most one relay stream at a time.
//
// SendPrompt supersedes any in-flight stream: the old stream is cancelled
// and can no longer mutate state. Cancellation is never reported as a
// failure; an aborted session returns to idle with its text intact.
type SessionController struct {
	cfg SessionConfig

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
	state  SessionState
}

// promptBody is the relay's inbound request shape.
type promptBody struct {
	UserID string `json:"userId"`
	Prompt string `json:"prompt"`
}

// errorBody is the relay's pre-flight error response shape.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewSessionController creates a controller in the idle state. Panics on
// an empty endpoint (a wiring bug, not a runtime condition).
func NewSessionController(cfg SessionConfig) *SessionController {
	if cfg.Endpoint == "" {
		panic("NewSessionController: Endpoint must not be empty")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Reader == nil {
		cfg.Reader = NewSSEStreamReader(NewSSEParser())
	}
	return &SessionController{
		cfg:   cfg,
		state: SessionState{Status: StatusIdle},
	}
}

// State returns a snapshot of the current session state.
func (s *SessionController) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SendPrompt starts streaming a response for prompt, cancelling any
// in-flight stream first and clearing the accumulated text.
//
// It returns immediately; the returned channel closes when this stream's
// processing ends (completed, failed, cancelled, or superseded). Observe
// progress via State or the OnUpdate hook.
func (s *SessionController) SendPrompt(prompt string) <-chan struct{} {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.state = SessionState{Status: StatusStreaming}
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(ctx, gen, prompt)
	}()
	return done
}

// Cancel aborts the in-flight stream, if any. The session returns to
// idle and keeps the text accumulated so far; cancellation is not a
// failure. With no stream in flight, Cancel changes nothing: a session
// that already completed or failed keeps its terminal state.
func (s *SessionController) Cancel() {
	s.mu.Lock()
	if s.state.Status != StatusStreaming {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.state.Status = StatusIdle
	s.state.Error = ""
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)
}

// Reset aborts any in-flight stream and clears all accumulated state.
func (s *SessionController) Reset() {
	s.mu.Lock()
	s.stopLocked()
	s.state = SessionState{Status: StatusIdle}
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)
}

func (s *SessionController) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// =============================================================================
// Stream Consumption
// =============================================================================

func (s *SessionController) run(ctx context.Context, gen int, prompt string) {
	body, err := json.Marshal(promptBody{UserID: s.cfg.UserID, Prompt: prompt})
	if err != nil {
		s.fail(gen, "failed to encode the chat request")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		s.fail(gen, "failed to build the chat request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			s.cancelled(gen)
			return
		}
		s.fail(gen, "failed to reach the chat service")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.fail(gen, preflightMessage(resp.Body))
		return
	}

	err = s.cfg.Reader.Read(ctx, resp.Body, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventDelta:
			s.appendDelta(gen, event.Content)
		case StreamEventDone:
			s.complete(gen)
		case StreamEventError:
			msg := event.Error
			if msg == "" {
				msg = "the AI service reported an error"
			}
			s.fail(gen, msg)
		}
		return nil
	})

	switch {
	case err == nil:
		// Terminal event already applied the final state.
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		s.cancelled(gen)
	case errors.Is(err, ErrTruncatedStream):
		s.fail(gen, "the response stream was interrupted before completing")
	default:
		s.fail(gen, "failed to read the response stream")
	}
}

// preflightMessage extracts the structured error message of a non-200
// response, falling back to a generic message.
func preflightMessage(r io.Reader) string {
	var decoded errorBody
	if err := json.NewDecoder(io.LimitReader(r, 8192)).Decode(&decoded); err == nil &&
		decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return "the chat service rejected the request"
}

// =============================================================================
// Guarded State Mutation
// =============================================================================

// mutate applies f to the state if gen is still the active stream and the
// session is still streaming. Superseded or aborted streams mutate nothing.
func (s *SessionController) mutate(gen int, f func(*SessionState)) {
	s.mu.Lock()
	if gen != s.gen || s.state.Status != StatusStreaming {
		s.mu.Unlock()
		return
	}
	f(&s.state)
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)
}

func (s *SessionController) appendDelta(gen int, text string) {
	s.mutate(gen, func(st *SessionState) {
		st.Text += text
	})
}

func (s *SessionController) complete(gen int) {
	s.mutate(gen, func(st *SessionState) {
		st.Status = StatusCompleted
	})
}

func (s *SessionController) fail(gen int, message string) {
	s.mutate(gen, func(st *SessionState) {
		st.Status = StatusFailed
		st.Error = message
	})
}

func (s *SessionController) cancelled(gen int) {
	s.mutate(gen, func(st *SessionState) {
		st.Status = StatusIdle
		st.Error = ""
	})
}

func (s *SessionController) publish(state SessionState) {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(state)
	}
}
