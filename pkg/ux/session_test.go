// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ux

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

// relayScript maps a prompt to the behavior of the fake relay.
type relayScript func(w http.ResponseWriter, r *http.Request, prompt string)

// newFakeRelay runs an httptest server that decodes the prompt body and
// delegates to the script.
func newFakeRelay(t *testing.T, script relayScript) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body promptBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		script(w, r, body.Prompt)
	}))
}

func writeDelta(w http.ResponseWriter, text string) {
	fmt.Fprintf(w, "data: {\"content\": %q}\n\n", text)
	w.(http.Flusher).Flush()
}

func writeDone(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	w.(http.Flusher).Flush()
}

func writeErrorEvent(w http.ResponseWriter, msg string) {
	fmt.Fprintf(w, "data: {\"error\": %q}\n\n", msg)
	w.(http.Flusher).Flush()
}

func newTestController(srv *httptest.Server, onUpdate func(SessionState)) *SessionController {
	return NewSessionController(SessionConfig{
		Endpoint: srv.URL,
		UserID:   "123e4567-e89b-12d3-a456-426614174000",
		Client:   srv.Client(),
		OnUpdate: onUpdate,
	})
}

// =============================================================================
// Happy Path Tests
// =============================================================================

// TestSendPrompt_Success verifies deltas accumulate in order and the done
// sentinel completes the session.
func TestSendPrompt_Success(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, "안")
		writeDelta(w, "녕")
		writeDone(w)
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")

	state := controller.State()
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "안녕", state.Text)
	assert.Empty(t, state.Error)
}

// TestSendPrompt_PublishesIncrementalStates verifies every delta
// republishes the growing text via the update hook.
func TestSendPrompt_PublishesIncrementalStates(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, "a")
		writeDelta(w, "b")
		writeDone(w)
	})
	defer srv.Close()

	var mu sync.Mutex
	var texts []string
	controller := newTestController(srv, func(state SessionState) {
		mu.Lock()
		texts = append(texts, state.Text)
		mu.Unlock()
	})
	<-controller.SendPrompt("hello")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "a", "ab", "ab"}, texts,
		"streaming start, two deltas, completion")
}

// TestSendPrompt_ClearsPreviousText verifies a new prompt starts
// accumulation from empty.
func TestSendPrompt_ClearsPreviousText(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, prompt+"-answer")
		writeDone(w)
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("first")
	require.Equal(t, "first-answer", controller.State().Text)

	<-controller.SendPrompt("second")
	assert.Equal(t, "second-answer", controller.State().Text)
}

// =============================================================================
// Failure Tests
// =============================================================================

// TestSendPrompt_MidStreamError verifies a terminal error event fails the
// session while keeping the partial text.
func TestSendPrompt_MidStreamError(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, "partial")
		writeErrorEvent(w, "upstream failed")
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")

	state := controller.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "partial", state.Text, "partial output is preserved")
	assert.Equal(t, "upstream failed", state.Error)
}

// TestSendPrompt_Truncation verifies a stream that ends without a
// terminal event fails with a truncation message, keeping partial text.
func TestSendPrompt_Truncation(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, "cut off")
		// Return without a terminal event: truncated transport.
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")

	state := controller.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "cut off", state.Text)
	assert.Contains(t, state.Error, "interrupted")
}

// TestSendPrompt_PreflightError verifies a non-200 response fails the
// session with the structured error message from the body.
func TestSendPrompt_PreflightError(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"code": "AI_API_QUOTA_EXCEEDED", "message": "quota exhausted"}}`)
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")

	state := controller.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "quota exhausted", state.Error)
	assert.Empty(t, state.Text)
}

// =============================================================================
// Cancellation Tests
// =============================================================================

// blockingRelay streams firstDelta, then holds the connection open until
// the client goes away.
func blockingRelay(t *testing.T, firstDelta string) *httptest.Server {
	t.Helper()
	return newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, firstDelta)
		<-r.Context().Done()
	})
}

// waitForText polls until the accumulated text is non-empty.
func waitForText(t *testing.T, controller *SessionController) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if controller.State().Text != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the first delta")
}

// TestCancel_MidStream verifies cancelling an in-flight stream returns
// the session to idle, not failed, keeping the text received so far.
func TestCancel_MidStream(t *testing.T) {
	srv := blockingRelay(t, "so far")
	defer srv.Close()

	controller := newTestController(srv, nil)
	done := controller.SendPrompt("hello")
	waitForText(t, controller)

	controller.Cancel()
	<-done

	state := controller.State()
	assert.Equal(t, StatusIdle, state.Status, "cancellation is not a failure")
	assert.Equal(t, "so far", state.Text)
	assert.Empty(t, state.Error)
}

// TestCancel_AfterCompletion verifies a stray cancel on a finished
// session is a no-op: the completed result stays observable.
func TestCancel_AfterCompletion(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, "answer")
		writeDone(w)
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")
	require.Equal(t, StatusCompleted, controller.State().Status)

	controller.Cancel()

	state := controller.State()
	assert.Equal(t, StatusCompleted, state.Status, "terminal state survives a late cancel")
	assert.Equal(t, "answer", state.Text)
}

// TestCancel_AfterFailure verifies a late cancel does not erase the
// error of a failed session.
func TestCancel_AfterFailure(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeErrorEvent(w, "upstream failed")
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")
	require.Equal(t, StatusFailed, controller.State().Status)

	controller.Cancel()

	state := controller.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "upstream failed", state.Error)
}

// TestSendPrompt_SupersedesInFlightStream verifies a second prompt
// cancels the first and accumulates only its own deltas.
func TestSendPrompt_SupersedesInFlightStream(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		if prompt == "slow" {
			writeDelta(w, "stale ")
			<-r.Context().Done()
			return
		}
		writeDelta(w, "fresh")
		writeDone(w)
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	first := controller.SendPrompt("slow")
	waitForText(t, controller)

	second := controller.SendPrompt("fast")
	<-second
	<-first

	state := controller.State()
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "fresh", state.Text, "superseded stream must not contribute text")
}

// TestReset_ClearsState verifies reset aborts and wipes the session.
func TestReset_ClearsState(t *testing.T) {
	srv := newFakeRelay(t, func(w http.ResponseWriter, r *http.Request, prompt string) {
		writeDelta(w, "something")
		writeDone(w)
	})
	defer srv.Close()

	controller := newTestController(srv, nil)
	<-controller.SendPrompt("hello")
	require.NotEmpty(t, controller.State().Text)

	controller.Reset()

	state := controller.State()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Empty(t, state.Text)
	assert.Empty(t, state.Error)
}
