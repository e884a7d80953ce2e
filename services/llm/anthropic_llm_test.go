package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

// newAnthropicTestClient points a client at a mock Messages endpoint.
func newAnthropicTestClient(srv *httptest.Server) *AnthropicClient {
	return &AnthropicClient{
		httpClient: srv.Client(),
		apiKey:     "test-key",
		model:      "claude-test",
		baseURL:    srv.URL,
	}
}

// sseHandler writes the given SSE lines and returns.
func sseHandler(t *testing.T, lines ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}
}

func collectTokens(t *testing.T, client *AnthropicClient) ([]string, error) {
	t.Helper()
	var tokens []string
	err := client.ChatStream(context.Background(), "hello", GenerationParams{},
		func(event StreamEvent) error {
			if event.Type == StreamEventToken {
				tokens = append(tokens, event.Content)
			}
			return nil
		})
	return tokens, err
}

// =============================================================================
// Streaming Tests
// =============================================================================

// TestAnthropicChatStream_TextDeltas verifies text deltas are normalized
// to token events in order and message_stop ends the stream cleanly.
func TestAnthropicChatStream_TextDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1"}}`,
		``,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"안"}}`,
		``,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"녕"}}`,
		``,
		`data: {"type":"message_stop"}`,
	))
	defer srv.Close()

	tokens, err := collectTokens(t, newAnthropicTestClient(srv))

	require.NoError(t, err)
	assert.Equal(t, []string{"안", "녕"}, tokens)
}

// TestAnthropicChatStream_SkipsNonTextFrames verifies pings, block
// boundaries, and non-text deltas are dropped, not treated as errors.
func TestAnthropicChatStream_SkipsNonTextFrames(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`data: {"type":"ping"}`,
		`data: {"type":"content_block_start","content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{}"}}`,
		`data: {"type":"some_future_frame_type"}`,
		`data: this is not json at all`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}`,
		`data: {"type":"message_stop"}`,
	))
	defer srv.Close()

	tokens, err := collectTokens(t, newAnthropicTestClient(srv))

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, tokens)
}

// TestAnthropicChatStream_MidStreamError verifies an error frame after
// deltas surfaces as a returned error, after the deltas were delivered.
func TestAnthropicChatStream_MidStreamError(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`,
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	))
	defer srv.Close()

	tokens, err := collectTokens(t, newAnthropicTestClient(srv))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
	assert.Equal(t, []string{"partial"}, tokens, "deltas before the error are delivered")
}

// TestAnthropicChatStream_TruncatedStream verifies the body ending
// without message_stop is reported as an error.
func TestAnthropicChatStream_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"cut"}}`,
	))
	defer srv.Close()

	tokens, err := collectTokens(t, newAnthropicTestClient(srv))

	require.Error(t, err)
	assert.Equal(t, []string{"cut"}, tokens)
}

// TestAnthropicChatStream_CallbackStopsStream verifies a callback error
// aborts the pull and propagates unchanged.
func TestAnthropicChatStream_CallbackStopsStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"one"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"two"}}`,
		`data: {"type":"message_stop"}`,
	))
	defer srv.Close()

	stop := errors.New("client gone")
	err := newAnthropicTestClient(srv).ChatStream(context.Background(), "hello",
		GenerationParams{}, func(event StreamEvent) error {
			return stop
		})

	assert.ErrorIs(t, err, stop)
}

// =============================================================================
// Open Failure Classification Tests
// =============================================================================

// TestAnthropicChatStream_OpenFailureClassification verifies non-200 open
// responses map onto the shared sentinels.
func TestAnthropicChatStream_OpenFailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantSentin error
	}{
		{
			name:       "authentication",
			status:     http.StatusUnauthorized,
			body:       `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantSentin: ErrAuthentication,
		},
		{
			name:       "quota",
			status:     http.StatusTooManyRequests,
			body:       `{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`,
			wantSentin: ErrQuotaExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			tokens, err := collectTokens(t, newAnthropicTestClient(srv))

			assert.ErrorIs(t, err, tt.wantSentin)
			assert.Empty(t, tokens, "no tokens on open failure")
		})
	}
}

// TestAnthropicChatStream_OpenFailureTransient verifies a 500 is neither
// an auth nor a quota error.
func TestAnthropicChatStream_OpenFailureTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	_, err := collectTokens(t, newAnthropicTestClient(srv))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "boom")
}
