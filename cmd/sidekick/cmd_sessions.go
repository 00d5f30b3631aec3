package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sidekick/internal/history"
	"sidekick/internal/types"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

// sessionsCmd manages archived conversations
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage archived conversations",
	Long: `List and inspect archived conversations.

Subcommands:
  list - List all archived sessions
  show - Print the transcript of one session`,
	RunE: runSessionsList,
}

// sessionsListCmd lists the archive
var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all archived sessions",
	RunE:  runSessionsList,
}

// sessionsShowCmd prints one transcript
var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the transcript of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func openHistory() (*history.Store, error) {
	store, err := history.NewStore(cfg.History.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session archive: %w", err)
	}
	return store, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No archived sessions.")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %s\n", "ID", "CREATED", "TITLE")
	for _, s := range sessions {
		fmt.Printf("%-36s  %-19s  %s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Title)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", sess.Title, sess.CreatedAt.Format("2006-01-02 15:04:05"))
	if len(sess.ContextRefs) > 0 {
		fmt.Println("Context:")
		for _, ref := range sess.ContextRefs {
			fmt.Printf("  %s\n", ref)
		}
	}
	fmt.Println()
	for _, turn := range sess.Turns {
		label := "You"
		if turn.Role == types.RoleModel {
			label = "Sidekick"
		}
		fmt.Printf("── %s ──\n%s\n\n", label, turn.Text)
	}
	return nil
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}
