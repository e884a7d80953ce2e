// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package datatypes defines the request/response types for the chat relay
// and their validation rules.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

// MaxPromptLength is the maximum prompt size in characters. Prompts above
// this are rejected before any upstream call is made.
const MaxPromptLength = 4000

// =============================================================================
// Request Types
// =============================================================================

// PromptRequest is the inbound body of POST /v1/chat/stream.
//
// UserID is an opaque session reference issued by the identity service;
// the relay only checks that it is UUID-shaped. Prompt is the user's text.
type PromptRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

// chatValidate is the shared validator instance for this package.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
}

// =============================================================================
// Validation
// =============================================================================

// ValidationKind categorizes why a PromptRequest was rejected.
type ValidationKind string

const (
	ValidationMissingIdentity ValidationKind = "missing_identity"
	ValidationMissingPrompt   ValidationKind = "missing_prompt"
	ValidationPromptTooLong   ValidationKind = "prompt_too_long"
)

// ValidationError reports a rejected PromptRequest. Limit is set for
// prompt_too_long so the caller can render the configured maximum.
type ValidationError struct {
	Kind  ValidationKind
	Limit int
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationPromptTooLong:
		return fmt.Sprintf("prompt exceeds the maximum length of %d characters", e.Limit)
	case ValidationMissingIdentity:
		return "userId is missing or not a valid identifier"
	default:
		return "prompt is missing or empty"
	}
}

// Validate checks the request against the relay's input bounds. It is a
// pure function over the payload; nothing upstream is touched.
//
// Precedence follows the web app's behavior: prompt problems win over
// identity problems, and an over-long prompt is reported as such rather
// than as a generic validation failure.
func (r *PromptRequest) Validate() *ValidationError {
	if err := chatValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var identityErr *ValidationError
			for _, fe := range verrs {
				switch fe.Field() {
				case "Prompt":
					if fe.Tag() == "max" {
						return &ValidationError{Kind: ValidationPromptTooLong, Limit: MaxPromptLength}
					}
					return &ValidationError{Kind: ValidationMissingPrompt}
				case "UserID":
					identityErr = &ValidationError{Kind: ValidationMissingIdentity}
				}
			}
			if identityErr != nil {
				return identityErr
			}
		}
		return &ValidationError{Kind: ValidationMissingPrompt}
	}

	// The validator's max tag counts runes, matching the web client's
	// character counter. Guard explicitly in case the tag and constant
	// ever drift apart.
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLength {
		return &ValidationError{Kind: ValidationPromptTooLong, Limit: MaxPromptLength}
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Kind: ValidationMissingPrompt}
	}
	return nil
}

// =============================================================================
// Error Response Types
// =============================================================================

// ErrorCode is the machine-readable code carried in pre-flight error bodies.
type ErrorCode string

const (
	ErrCodeMissingPrompt   ErrorCode = "MISSING_PROMPT"
	ErrCodeMissingIdentity ErrorCode = "MISSING_IDENTITY"
	ErrCodePromptTooLong   ErrorCode = "PROMPT_TOO_LONG"
	ErrCodeAIAPIError      ErrorCode = "AI_API_ERROR"
	ErrCodeAIQuotaExceeded ErrorCode = "AI_API_QUOTA_EXCEEDED"
	ErrCodeAIAuthError     ErrorCode = "AI_API_AUTHENTICATION_ERROR"
)

// APIError is the structured error carried in a pre-flight response body.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the JSON body of every non-streaming error response:
// { "error": { "code": ..., "message": ... } }.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// NewErrorResponse builds an ErrorResponse for the given code and message.
func NewErrorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{Error: APIError{Code: code, Message: message}}
}

// CodeForValidation maps a validation failure onto its wire error code.
func CodeForValidation(v *ValidationError) ErrorCode {
	switch v.Kind {
	case ValidationPromptTooLong:
		return ErrCodePromptTooLong
	case ValidationMissingIdentity:
		return ErrCodeMissingIdentity
	default:
		return ErrCodeMissingPrompt
	}
}
