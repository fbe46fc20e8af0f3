package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/aster0/aster/internal/app"
	"github.com/aster0/aster/internal/config"
	"github.com/aster0/aster/internal/dispatch"
)

var askMode string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Long: `Ask a single question and print the answer to stdout.

The model may escalate to search, research or another mode on its own;
--mode forces the starting mode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askMode, "mode", "", "Starting mode (chat, search, research, think, image, canvas, project, study)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := checkRequiredEnv(); err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}
	mode, err := dispatch.ParseMode(askMode)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	// One-shot questions still get a session so the turn is recallable
	// from aster sessions and the memory extractor.
	sess, err := a.Sessions.Create(ctx, localOwnerID, question)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	outcome, err := a.Router.Run(ctx, dispatch.Request{
		SessionID: sess.ID,
		Query:     question,
		Mode:      mode,
	}, nil)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	printAnswer(cmd, outcome)
	return nil
}

// printAnswer renders the answer as styled markdown, falling back to plain
// text when the terminal renderer is unavailable.
func printAnswer(cmd *cobra.Command, outcome *dispatch.Outcome) {
	out := cmd.OutOrStdout()

	text := outcome.Text
	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
		if rendered, err := r.Render(text); err == nil {
			text = rendered
		}
	}
	fmt.Fprint(out, text)

	if outcome.Mode != dispatch.ModeChat || outcome.Hops > 0 {
		fmt.Fprintf(out, "\n(mode: %s, hops: %d)\n", outcome.Mode, outcome.Hops)
	}

	if len(outcome.Citations) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, c := range outcome.Citations {
			if c.Title != "" {
				fmt.Fprintf(out, "  [%d] %s - %s\n", c.Index, c.Title, c.URL)
			} else {
				fmt.Fprintf(out, "  [%d] %s\n", c.Index, c.URL)
			}
		}
	}

	for _, ref := range outcome.Artifacts {
		fmt.Fprintf(out, "\nArtifact stored: %s (%s) %s\n", ref.Title, ref.Kind, ref.ID)
	}
}
