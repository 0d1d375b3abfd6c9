package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect worktree sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known worktree sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.worktrees.ListSessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if GetOutput() == "json" {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\n", r.SessionID, r.Status, r.WorktreeBranch)
	}
	return nil
}
