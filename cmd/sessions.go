package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/output"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List specification chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a chat session with its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(args[0])
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := rootCmd.Context()

	sessions, err := s.ListChatSessions(ctx, sessionsLimit)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No sessions found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Idea", "Stage", "Tracker Project", "Updated"})
	for _, cs := range sessions {
		_ = table.Append([]string{
			shortID(cs.ID),
			truncate(cs.Idea, 40),
			output.StageColor(string(cs.Stage())),
			cs.DevOpsProjectName,
			cs.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func sessionsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := rootCmd.Context()

	cs, err := s.GetChatSession(ctx, id)
	if err != nil {
		return err
	}

	ui.Info("Session %s", cs.ID)
	fmt.Fprintf(ui.Out, "  Idea:    %s\n", cs.Idea)
	fmt.Fprintf(ui.Out, "  Stage:   %s\n", output.StageColor(string(cs.Stage())))
	if cs.DevOpsProjectName != "" {
		fmt.Fprintf(ui.Out, "  Tracker: %s (%s)\n", cs.DevOpsProjectName, cs.DevOpsProjectURL)
	}
	fmt.Fprintf(ui.Out, "  Created: %s\n", cs.CreatedAt.Format("2006-01-02 15:04"))

	msgs, err := s.ListChatMessages(ctx, cs.ID, 0)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	fmt.Fprintln(ui.Out)
	for _, m := range msgs {
		fmt.Fprintf(ui.Out, "[%s] %s\n%s\n\n", m.CreatedAt.Format("15:04"), m.Author, m.Text)
	}
	return nil
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
