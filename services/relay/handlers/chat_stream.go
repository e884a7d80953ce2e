// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package handlers implements the HTTP handlers of the chat relay service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/learnershighbk/Prompt-Engineering-Studio/services/llm"
	"github.com/learnershighbk/Prompt-Engineering-Studio/services/relay/datatypes"
	"github.com/learnershighbk/Prompt-Engineering-Studio/services/relay/observability"
)

var tracer = otel.Tracer("studio.relay.handlers")

// errClientGone marks a downstream write failure, meaning the client has
// disconnected and the upstream pull must stop.
var errClientGone = errors.New("client disconnected")

// =============================================================================
// Handler
// =============================================================================

// StreamingChatHandler serves the token-streaming chat endpoint.
type StreamingChatHandler interface {
	// HandleChatStream handles POST /v1/chat/stream.
	HandleChatStream(c *gin.Context)
}

// streamingChatHandler relays one upstream LLM stream per request onto a
// chunked SSE response. The llmClient is process-wide and must be safe for
// concurrent use; the handler keeps no per-request state outside the
// request goroutine.
type streamingChatHandler struct {
	llmClient llm.StreamClient
	metrics   *observability.StreamingMetrics
}

// NewStreamingChatHandler creates the handler. Panics on nil llmClient
// (a wiring bug, not a runtime condition). metrics may be nil, in which
// case no metrics are recorded.
func NewStreamingChatHandler(llmClient llm.StreamClient, metrics *observability.StreamingMetrics) StreamingChatHandler {
	if llmClient == nil {
		panic("NewStreamingChatHandler: llmClient must not be nil")
	}
	return &streamingChatHandler{llmClient: llmClient, metrics: metrics}
}

// HandleChatStream relays a prompt to the upstream LLM and streams the
// response as Server-Sent Events.
//
// # Description
//
// Phases, in order:
//  1. Decode and validate the body. Failures end here with a 400 and a
//     structured error body.
//  2. Open the upstream stream. Open-time failures (auth, quota, other)
//     still produce a status-coded JSON body because no response byte has
//     been written yet.
//  3. Once the first event is written the response is committed to
//     text/event-stream with status 200. From that point every outcome,
//     including upstream failure, is expressed as a terminal wire event:
//     "data: [DONE]" on success, `data: {"error": ...}` on failure. The
//     status can never change after commit; mid-stream failure detection
//     is the client's job.
//
// # Limitations
//
//   - A client disconnect mid-stream cannot receive a terminal event; the
//     upstream pull is cancelled and the request ends quietly.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	ctx := c.Request.Context()
	ctx, span := tracer.Start(ctx, "HandleChatStream")
	defer span.End()

	requestID := uuid.New().String()
	log := slog.With("request_id", requestID)
	span.SetAttributes(attribute.String("chat.request_id", requestID))

	var req datatypes.PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Rejecting malformed chat request body", "error", err)
		h.recordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(
			datatypes.ErrCodeMissingPrompt, "request body is not valid JSON"))
		return
	}
	if verr := req.Validate(); verr != nil {
		log.Warn("Rejecting invalid chat request", "kind", string(verr.Kind))
		h.recordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(
			datatypes.CodeForValidation(verr), verr.Error()))
		return
	}

	span.SetAttributes(
		attribute.String("chat.user_id", req.UserID),
		attribute.Int("chat.prompt_chars", utf8.RuneCountInString(req.Prompt)),
	)

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		log.Error("Streaming not supported by response writer", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(
			datatypes.ErrCodeAIAPIError, "streaming is not supported"))
		return
	}

	h.streamStarted()
	defer h.streamEnded()
	start := time.Now()

	committed := false
	tokenCount := 0
	var firstTokenAt time.Time

	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if event.Type != llm.StreamEventToken {
			return nil
		}
		if !committed {
			// First byte: the status and media type are locked in here.
			SetSSEHeaders(c.Writer)
			c.Status(http.StatusOK)
			committed = true
			firstTokenAt = time.Now()
			h.recordTimeToFirstToken(firstTokenAt.Sub(start))
		}
		tokenCount++
		if err := writer.WriteDelta(event.Content); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		return nil
	}

	streamErr := h.llmClient.ChatStream(ctx, req.Prompt, llm.GenerationParams{}, callback)

	switch {
	case streamErr == nil:
		if !committed {
			// Zero-delta completion still gets a well-formed stream.
			SetSSEHeaders(c.Writer)
			c.Status(http.StatusOK)
		}
		if err := writer.WriteDone(); err != nil {
			log.Warn("Client disconnected before completion sentinel", "error", err)
			h.recordClientDisconnect()
		}
		log.Info("Chat stream completed", "tokens", tokenCount, "duration", time.Since(start))
		h.recordRequest(true, time.Since(start), tokenCount)

	case errors.Is(streamErr, context.Canceled), errors.Is(streamErr, errClientGone):
		// Client went away; nobody is listening for a terminal event.
		log.Info("Client disconnected mid-stream", "tokens", tokenCount)
		span.SetStatus(codes.Error, "client disconnected")
		h.recordClientDisconnect()
		h.recordRequest(false, time.Since(start), tokenCount)

	case !committed:
		// Open failed before any byte was written: the last chance to
		// answer with a real status code.
		status, code, message := preflightError(streamErr)
		log.Error("Upstream open failed", "status", status, "error", streamErr)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		h.recordError(observability.ErrorCodeLLMError)
		h.recordRequest(false, time.Since(start), tokenCount)
		c.JSON(status, datatypes.NewErrorResponse(code, message))

	default:
		// Mid-stream failure after commit: downgrade to a terminal wire
		// event. Partial output already reached the client and stays valid.
		log.Error("Upstream stream failed mid-flight", "tokens", tokenCount, "error", streamErr)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		h.recordError(observability.ErrorCodeLLMError)
		h.recordRequest(false, time.Since(start), tokenCount)
		if err := writer.WriteError(clientErrorMessage(streamErr)); err != nil {
			h.recordClientDisconnect()
		}
	}
}

// =============================================================================
// Error Mapping
// =============================================================================

// preflightError maps an open-time upstream failure onto the status code
// and wire error code of the non-streaming error body.
func preflightError(err error) (int, datatypes.ErrorCode, string) {
	switch {
	case errors.Is(err, llm.ErrAuthentication):
		return http.StatusUnauthorized, datatypes.ErrCodeAIAuthError,
			"AI service authentication failed. Check the configured API key."
	case errors.Is(err, llm.ErrQuotaExceeded):
		return http.StatusTooManyRequests, datatypes.ErrCodeAIQuotaExceeded,
			"AI service quota exceeded. Check your plan and billing details."
	default:
		return http.StatusInternalServerError, datatypes.ErrCodeAIAPIError,
			"Failed to generate an AI response. Please try again shortly."
	}
}

// clientErrorMessage picks the human-readable message for a terminal wire
// error event.
func clientErrorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "Stream interrupted"
	}
	return err.Error()
}

// =============================================================================
// Metrics Guards
// =============================================================================

func (h *streamingChatHandler) streamStarted() {
	if h.metrics != nil {
		h.metrics.StreamStarted(observability.EndpointChatStream)
	}
}

func (h *streamingChatHandler) streamEnded() {
	if h.metrics != nil {
		h.metrics.StreamEnded(observability.EndpointChatStream)
	}
}

func (h *streamingChatHandler) recordRequest(success bool, elapsed time.Duration, tokens int) {
	if h.metrics != nil {
		h.metrics.RecordRequest(observability.EndpointChatStream, success)
		h.metrics.RecordStreamDuration(observability.EndpointChatStream, elapsed.Seconds(), success)
		h.metrics.RecordTokens(observability.EndpointChatStream, tokens)
	}
}

func (h *streamingChatHandler) recordError(code observability.ErrorCode) {
	if h.metrics != nil {
		h.metrics.RecordError(observability.EndpointChatStream, code)
	}
}

func (h *streamingChatHandler) recordClientDisconnect() {
	if h.metrics != nil {
		h.metrics.RecordClientDisconnect(observability.EndpointChatStream)
	}
}

func (h *streamingChatHandler) recordTimeToFirstToken(d time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordTimeToFirstToken(observability.EndpointChatStream, d.Seconds())
	}
}

var _ StreamingChatHandler = (*streamingChatHandler)(nil)
