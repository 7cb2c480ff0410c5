package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/circadia/internal/models"
)

// Stats mirrors the /stats payload.
type Stats struct {
	Scheduler struct {
		ActiveUsers        int        `json:"active_users"`
		MaxConcurrentUsers int        `json:"max_concurrent_users"`
		Completed          int        `json:"completed"`
		Failed             int        `json:"failed"`
		Skipped            int        `json:"skipped"`
		NotRun             int        `json:"not_run"`
		Deferred           int        `json:"deferred"`
		LastGenerationAt   *time.Time `json:"last_generation_at"`
		LastDispatchAt     *time.Time `json:"last_dispatch_at"`
	} `json:"scheduler"`
	Research *struct {
		Running     bool       `json:"running"`
		Runs        int        `json:"runs"`
		Overlaps    int        `json:"overlaps"`
		Processed   int        `json:"processed"`
		Successful  int        `json:"successful"`
		Failed      int        `json:"failed"`
		Unclaimed   int        `json:"unclaimed"`
		Interrupted int        `json:"interrupted"`
		Reclaimed   int        `json:"reclaimed"`
		LastRunAt   *time.Time `json:"last_run_at"`
	} `json:"research"`
	Jobs  map[string]int `json:"jobs"`
	Tasks map[string]int `json:"tasks"`
}

// JobItem implements list.Item for the job list
type JobItem struct {
	models.Job
}

func (i JobItem) FilterValue() string { return i.UserID + " " + string(i.Type) }
func (i JobItem) Title() string {
	return fmt.Sprintf("%s  %s", string(i.Type), i.UserID)
}
func (i JobItem) Description() string {
	desc := formatStatus(string(i.Status)) + " • " + i.ScheduledFor.Local().Format("Jan 2 15:04")
	switch {
	case i.ErrorMessage != "":
		desc += " • " + truncate(i.ErrorMessage, 60)
	case i.SkipReason != "":
		desc += " • " + truncate(i.SkipReason, 60)
	case i.Status == models.JobStatusCompleted:
		desc += fmt.Sprintf(" • %d thoughts, %d tasks", i.ThoughtsGenerated, i.ResearchTasksCreated)
	}
	return desc
}

// TaskItem implements list.Item for the research task list
type TaskItem struct {
	models.ResearchTask
}

func (i TaskItem) FilterValue() string { return i.Query }
func (i TaskItem) Title() string       { return i.Query }
func (i TaskItem) Description() string {
	desc := fmt.Sprintf("%s • %s • %s • attempts %d", formatStatus(string(i.Status)), i.Depth, i.UserID, i.AttemptCount)
	if i.ErrorMessage != "" {
		desc += " • " + truncate(i.ErrorMessage, 50)
	} else if i.ResultSummary != "" {
		desc += " • " + truncate(i.ResultSummary, 50)
	}
	return desc
}

var (
	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusSkipped   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

func formatStatus(status string) string {
	switch status {
	case "pending":
		return statusPending.Render("● pending")
	case "running", "in_progress":
		return statusRunning.Render("● " + status)
	case "completed":
		return statusCompleted.Render("● completed")
	case "skipped":
		return statusSkipped.Render("● skipped")
	case "failed":
		return statusFailed.Render("● failed")
	default:
		return status
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
