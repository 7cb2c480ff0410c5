package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fentz26/circadia/internal/models"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task"},
	Short:   "Manage research tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a research task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research tasks by priority",
	RunE:  runTaskList,
}

var (
	taskUser     string
	taskQuery    string
	taskDepth    string
	taskPriority int
	taskStatus   string
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd)

	taskAddCmd.Flags().StringVar(&taskUser, "user", "", "User ID (required)")
	taskAddCmd.Flags().StringVar(&taskQuery, "query", "", "Search query (required)")
	taskAddCmd.Flags().StringVar(&taskDepth, "depth", string(models.DepthShallow), "Research depth (shallow, deep)")
	taskAddCmd.Flags().IntVar(&taskPriority, "priority", 0, "Higher runs first")
	taskAddCmd.MarkFlagRequired("user")
	taskAddCmd.MarkFlagRequired("query")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, in_progress, completed, failed)")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"user_id":  taskUser,
		"query":    taskQuery,
		"depth":    taskDepth,
		"priority": taskPriority,
		"approach": "manual",
	}

	var task models.ResearchTask
	if err := postJSON("/tasks", body, &task); err != nil {
		return err
	}

	fmt.Printf("Queued %s research task: %s\n", task.Depth, task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	path := "/tasks"
	if taskStatus != "" {
		path += "?status=" + taskStatus
	}

	var tasks []models.ResearchTask
	if err := getJSON(path, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tQUERY\tDEPTH\tPRIO\tSTATUS\tATTEMPTS\tRESULT")
	for _, t := range tasks {
		result := t.ResultSummary
		if t.ErrorMessage != "" {
			result = t.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			truncateID(t.ID), t.UserID, truncate(t.Query, 40), t.Depth, t.Priority, t.Status, t.AttemptCount, truncate(result, 40))
	}
	return w.Flush()
}
