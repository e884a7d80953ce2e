// Copyright (C) 2026 Prompt Engineering Studio contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// relaychat is an interactive terminal client for the chat relay service.
// It streams responses token by token, the same way the web UI does.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/learnershighbk/Prompt-Engineering-Studio/pkg/ux"
)

var (
	flagEndpoint string
	flagUserID   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaychat",
		Short: "Interactive client for the chat relay service",
		Long: "relaychat sends prompts to the chat relay and renders the " +
			"streamed response incrementally. Type /quit to exit.",
		RunE:          runChat,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.Flags().StringVar(&flagEndpoint, "endpoint",
		"http://localhost:12310/v1/chat/stream", "URL of the relay streaming endpoint")
	rootCmd.Flags().StringVar(&flagUserID, "user", "",
		"session identifier (defaults to a fresh UUID)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	userID := flagUserID
	if userID == "" {
		userID = uuid.New().String()
	}

	// printer renders each state snapshot incrementally: only the text
	// appended since the last snapshot is written.
	printer := &incrementalPrinter{out: os.Stdout}

	controller := ux.NewSessionController(ux.SessionConfig{
		Endpoint: flagEndpoint,
		UserID:   userID,
		OnUpdate: printer.update,
	})
	defer controller.Reset()

	fmt.Printf("Connected to %s (session %s)\n", flagEndpoint, userID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "/quit" || prompt == "/exit" {
			break
		}

		printer.reset()
		<-controller.SendPrompt(prompt)
		fmt.Println()
	}

	return scanner.Err()
}

// incrementalPrinter writes only the newly appended portion of the
// accumulated text on each update.
type incrementalPrinter struct {
	mu      sync.Mutex
	out     *os.File
	printed int
}

func (p *incrementalPrinter) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = 0
}

func (p *incrementalPrinter) update(state ux.SessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(state.Text) > p.printed {
		fmt.Fprint(p.out, state.Text[p.printed:])
		p.printed = len(state.Text)
	}
	if state.Status == ux.StatusFailed {
		fmt.Fprintf(p.out, "\n[error] %s", state.Error)
	}
}
