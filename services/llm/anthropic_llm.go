package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	defaultAnthropicMax = 4096
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	Temperature *float32           `json:"temperature,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamFrame covers every event type we care about on the
// messages stream. Unknown types unmarshal with zero fields and are skipped.
type anthropicStreamFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error"`
}

// AnthropicClient streams chat completions from the Anthropic Messages API.
// There is no official Go SDK, so the SSE decode is done by hand.
// Safe for concurrent use; construct once and share.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicClient reads ANTHROPIC_API_KEY (falling back to the container
// secret at /run/secrets/anthropic_api_key), ANTHROPIC_MODEL, and an
// optional ANTHROPIC_BASE_URL override.
func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the Anthropic API Key from container secrets")
		} else {
			slog.Error("ANTHROPIC_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
	}
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	baseURL := os.Getenv("ANTHROPIC_BASE_URL")
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}

	return &AnthropicClient{
		// No overall timeout: a streaming response stays open for the
		// whole generation. Cancellation comes from the request context.
		httpClient: &http.Client{Timeout: 0},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}, nil
}

// ChatStream implements StreamClient against the Anthropic Messages API
// with stream=true.
//
// Normalization: only content_block_delta frames whose delta is a
// text_delta become token events. Every other frame type (message_start,
// ping, content_block_start, unknown future types) is skipped, since the
// upstream protocol gains frame types independently of this client.
func (a *AnthropicClient) ChatStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "AnthropicClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model))

	maxTokens := defaultAnthropicMax
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	payload := anthropicRequest{
		Model:       a.model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      DefaultSystemPrompt,
		MaxTokens:   maxTokens,
		Stream:      true,
		Temperature: params.Temperature,
		StopSeqs:    params.Stop,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create Anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Anthropic API call failed", "error", err)
		return fmt.Errorf("anthropic API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		err := classifyAnthropicStatus(resp.StatusCode, body)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Anthropic returned an error", "status_code", resp.StatusCode, "response", string(body))
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	tokens := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var frame anthropicStreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			slog.Debug("Skipping unparseable Anthropic frame", "data", data)
			continue
		}

		switch frame.Type {
		case "content_block_delta":
			if frame.Delta.Type != "text_delta" || frame.Delta.Text == "" {
				slog.Debug("Skipping non-text delta", "delta_type", frame.Delta.Type)
				continue
			}
			tokens++
			if err := callback(StreamEvent{Type: StreamEventToken, Content: frame.Delta.Text}); err != nil {
				return err
			}
		case "message_stop":
			slog.Debug("Anthropic stream completed", "tokens", tokens, "duration", time.Since(start))
			return nil
		case "error":
			msg := "stream interrupted"
			if frame.Error != nil {
				msg = frame.Error.Message
			}
			err := fmt.Errorf("anthropic stream error: %s", msg)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		default:
			// message_start, content_block_start, ping, usage frames
			slog.Debug("Skipping non-delta frame", "frame_type", frame.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("anthropic stream read failed: %w", err)
	}

	return fmt.Errorf("anthropic stream ended without message_stop")
}

// classifyAnthropicStatus maps a non-200 open response onto the shared
// sentinels, carrying the API's own message where one parses.
func classifyAnthropicStatus(status int, body []byte) error {
	msg := string(body)
	var errResp struct {
		Error anthropicError `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthentication, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	default:
		return fmt.Errorf("anthropic failed with status %d: %s", status, msg)
	}
}

var _ StreamClient = (*AnthropicClient)(nil)
