package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aster0/aster/internal/app"
	"github.com/aster0/aster/internal/config"
	"github.com/aster0/aster/internal/session"
	"github.com/aster0/aster/internal/tui"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive terminal chat",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Resume an existing session by ID")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	if err := checkRequiredEnv(); err != nil {
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

	sess, err := resolveChatSession(ctx, a, chatSessionID)
	if err != nil {
		return err
	}

	// One terminal per session: concurrent appends would interleave turns.
	unlock, err := lockSession(sess.ID)
	if err != nil {
		return err
	}
	defer unlock()

	ui, err := tui.New(ctx, a.Flow, sess.ID.String())
	if err != nil {
		return fmt.Errorf("creating TUI: %w", err)
	}

	program := tea.NewProgram(ui, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}

	fmt.Printf("Session saved: %s\n", sess.ID)
	return nil
}

// resolveChatSession resumes the session named by --session or creates a
// fresh one.
func resolveChatSession(ctx context.Context, a *app.App, raw string) (*session.Session, error) {
	if raw == "" {
		sess, err := a.Sessions.Create(ctx, localOwnerID, "")
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		return sess, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid session ID %q: %w", raw, err)
	}
	sess, err := a.Sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resuming session: %w", err)
	}
	if sess.OwnerID != localOwnerID {
		return nil, fmt.Errorf("session %s was not created from this CLI", id)
	}
	return sess, nil
}

// lockSession takes an advisory file lock for the session so two chat
// processes cannot write interleaved turns. Returns the unlock function.
func lockSession(id uuid.UUID) (func(), error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	lockDir := filepath.Join(home, ".aster", "locks")
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	lock := flock.New(filepath.Join(lockDir, id.String()+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring session lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("session %s is already open in another terminal", id)
	}
	return func() {
		if err := lock.Unlock(); err == nil {
			_ = os.Remove(lock.Path())
		}
	}, nil
}
