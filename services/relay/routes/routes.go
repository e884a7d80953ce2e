// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package routes wires the relay's HTTP endpoints onto a gin router.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnershighbk/Prompt-Engineering-Studio/services/llm"
	"github.com/learnershighbk/Prompt-Engineering-Studio/services/relay/handlers"
	"github.com/learnershighbk/Prompt-Engineering-Studio/services/relay/observability"
)

// SetupRoutes registers every relay endpoint. Dependencies are passed in
// explicitly so tests can wire mocks without touching process globals.
func SetupRoutes(router *gin.Engine, llmClient llm.StreamClient, metrics *observability.StreamingMetrics) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chat := handlers.NewStreamingChatHandler(llmClient, metrics)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", chat.HandleChatStream)
	}
}
