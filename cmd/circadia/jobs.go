package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fentz26/circadia/internal/models"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest scheduled first",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var (
	jobStatus string
	jobUser   string
)

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd)

	jobsListCmd.Flags().StringVar(&jobStatus, "status", "", "Filter by status (pending, running, completed, failed, skipped)")
	jobsListCmd.Flags().StringVar(&jobUser, "user", "", "Filter by user ID")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if jobStatus != "" {
		q.Set("status", jobStatus)
	}
	if jobUser != "" {
		q.Set("user_id", jobUser)
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []models.Job
	if err := getJSON(path, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tTYPE\tSTATUS\tSCHEDULED FOR\tNOTE")
	for _, j := range jobs {
		note := j.ErrorMessage
		if note == "" {
			note = j.SkipReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(j.ID), j.UserID, j.Type, j.Status,
			j.ScheduledFor.Local().Format(time.DateTime), truncate(note, 40))
	}
	return w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	var job models.Job
	if err := getJSON("/jobs/"+url.PathEscape(args[0]), &job); err != nil {
		return err
	}

	fmt.Printf("ID:            %s\n", job.ID)
	fmt.Printf("User:          %s\n", job.UserID)
	fmt.Printf("Type:          %s\n", job.Type)
	fmt.Printf("Status:        %s\n", job.Status)
	fmt.Printf("Scheduled For: %s\n", job.ScheduledFor.Local().Format(time.DateTime))
	if job.StartedAt != nil {
		fmt.Printf("Started:       %s\n", job.StartedAt.Local().Format(time.DateTime))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed:     %s\n", job.CompletedAt.Local().Format(time.DateTime))
	}
	if job.SkipReason != "" {
		fmt.Printf("Skip Reason:   %s\n", job.SkipReason)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error:         %s\n", job.ErrorMessage)
	}
	if job.Status == models.JobStatusCompleted {
		fmt.Printf("Produced:      %d thoughts, %d research tasks\n", job.ThoughtsGenerated, job.ResearchTasksCreated)
	}
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
