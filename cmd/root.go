// Package cmd provides the aster CLI.
//
// Commands:
//   - chat: interactive terminal chat (Bubble Tea TUI), the default
//   - ask: one-shot question, answer rendered to stdout
//   - serve: HTTP API server with SSE streaming
//   - sessions: list and delete stored sessions
//   - migrate: run database schema migrations
//   - mcp: Model Context Protocol server for editor integration
//   - version: build information
//
// All long-running commands handle SIGINT/SIGTERM via context
// cancellation and shut down gracefully.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aster0/aster/internal/log"
)

// localOwnerID owns sessions created from this machine's CLI. The HTTP API
// uses signed per-browser identities instead.
const localOwnerID = "local"

var rootCmd = &cobra.Command{
	Use:   "aster",
	Short: "aster - a conversational assistant that picks the right mode for each question",
	Long: `aster answers questions in the terminal and escalates to web search,
deep research, extended reasoning, image generation and other modes when
the conversation calls for it.

Running aster without a subcommand starts the interactive chat.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the root command. Called from main.
func Execute() error {
	logger := newLogger()
	slog.SetDefault(logger)
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment enables
// debug level. Logs go to stderr: stdout is reserved for answers in ask
// mode and JSON-RPC in mcp mode.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// checkRequiredEnv verifies GEMINI_API_KEY is set for commands that call
// the model.
func checkRequiredEnv() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}
