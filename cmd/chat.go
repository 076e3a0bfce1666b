package cmd

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/models"
	"github.com/rodcar/agentic-software-factory/internal/spec"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive specification chat",
	Long: `Start an interactive chat with the specification agents.

Describe a project idea and the agents will draft a functional
specification, a test plan, and a review. Approve the result to
create tracker artifacts and launch an implementation job.

Agent replies can offer numbered actions; type the number to take one.
Type 'exit' or press Ctrl-D to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Resume an existing session ID")
	rootCmd.AddCommand(chatCmd)
}

func chatRun() error {
	st, err := getStore()
	if err != nil {
		return err
	}

	agents, err := newAgents()
	if err != nil {
		return err
	}
	engine := spec.NewEngine(agents, engineOptions(st))

	ctx := rootCmd.Context()

	sessionID := chatSessionID
	if sessionID == "" {
		entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
		sessionID = ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
		ui.Info("Session %s", sessionID)
	} else {
		if _, err := st.GetChatSession(ctx, sessionID); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		ui.Info("Resuming session %s", sessionID)
	}
	fmt.Fprintln(ui.Out, "Describe your project idea, or type 'exit' to leave.")
	fmt.Fprintln(ui.Out)

	// Actions offered by the latest replies, selectable by number.
	var pending []models.Action

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(ui.Out, color.CyanString("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(ui.Out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		var (
			replies []models.Reply
			herr    error
		)
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(pending) {
			action := pending[n-1]
			replies, herr = engine.HandleAction(ctx, sessionID, action.Name, action.Payload)
		} else {
			replies, herr = engine.HandleMessage(ctx, sessionID, line)
		}
		if herr != nil {
			ui.Error("%v", herr)
			continue
		}

		pending = pending[:0]
		for _, reply := range replies {
			printReply(reply)
			for _, a := range reply.Actions {
				pending = append(pending, a)
				fmt.Fprintf(ui.Out, "  %s %s\n", color.YellowString("[%d]", len(pending)), a.Label)
			}
			if reply.Attachment != nil {
				saveAttachment(reply.Attachment)
			}
		}
		fmt.Fprintln(ui.Out)
	}
}

func printReply(reply models.Reply) {
	fmt.Fprintf(ui.Out, "%s\n%s\n", color.GreenString("%s>", reply.Author), reply.Text)
}

// saveAttachment writes a reply attachment to the current directory.
func saveAttachment(att *models.Attachment) {
	if err := os.WriteFile(att.Name, att.Content, 0644); err != nil {
		ui.Warning("Could not save %s: %v", att.Name, err)
		return
	}
	ui.Success("Saved %s", att.Name)
}
