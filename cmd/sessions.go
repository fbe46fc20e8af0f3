package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aster0/aster/internal/config"
	"github.com/aster0/aster/internal/database"
	"github.com/aster0/aster/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions created from this CLI",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and all its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openSessionStore connects to the database without the model stack;
// session management must work without an API key.
func openSessionStore(ctx context.Context) (*session.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString(), database.PoolConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	store, err := session.NewStore(pool, newLogger())
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("creating session store: %w", err)
	}
	return store, pool.Close, nil
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, closeStore, err := openSessionStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := store.List(ctx, localOwnerID, 100, 0)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, title, s.MessageCount, formatTime(s.UpdatedAt))
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session ID %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	store, closeStore, err := openSessionStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	// Ownership check keeps the CLI from deleting web sessions by ID.
	sess, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting session: %w", err)
	}
	if sess.OwnerID != localOwnerID {
		return fmt.Errorf("session %s was not created from this CLI", id)
	}

	if err := store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
	return nil
}

// formatTime renders a timestamp relative to now for recent sessions.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
