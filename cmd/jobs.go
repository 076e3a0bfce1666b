package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/models"
	"github.com/rodcar/agentic-software-factory/internal/output"
	"github.com/rodcar/agentic-software-factory/internal/store"
)

var (
	jobsProject string
	jobsStatus  string
	jobsLimit   int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List coding agent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobsListRun()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobsShowRun(args[0])
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsProject, "project", "", "Filter by project name")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (pending, running, completed, timeout, failed)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum jobs to list")
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

func jobsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := rootCmd.Context()

	jobs, err := s.ListJobs(ctx, store.JobListFilter{
		ProjectName: jobsProject,
		Status:      models.JobStatus(jobsStatus),
		Limit:       jobsLimit,
	})
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		ui.Info("No jobs found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Project", "Type", "Agent", "Container", "Status", "Started"})
	for _, j := range jobs {
		_ = table.Append([]string{
			shortID(j.ID),
			j.ProjectName,
			string(j.Type),
			string(j.CodeAgent),
			j.Container,
			output.JobStatusColor(string(j.Status)),
			j.StartedAt.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func jobsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	j, err := s.GetJob(rootCmd.Context(), id)
	if err != nil {
		return err
	}

	ui.Info("Job %s", j.ID)
	fmt.Fprintf(ui.Out, "  Project:   %s\n", j.ProjectName)
	fmt.Fprintf(ui.Out, "  Type:      %s\n", j.Type)
	fmt.Fprintf(ui.Out, "  Agent:     %s\n", j.CodeAgent)
	fmt.Fprintf(ui.Out, "  Container: %s\n", j.Container)
	fmt.Fprintf(ui.Out, "  Status:    %s\n", output.JobStatusColor(string(j.Status)))
	fmt.Fprintf(ui.Out, "  Started:   %s\n", j.StartedAt.Format("2006-01-02 15:04:05"))
	if j.EndedAt != nil {
		fmt.Fprintf(ui.Out, "  Ended:     %s\n", j.EndedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(ui.Out, "  Exit code: %d\n", j.ExitCode)
	}
	if j.Message != "" {
		fmt.Fprintf(ui.Out, "  Message:   %s\n", j.Message)
	}
	return nil
}
