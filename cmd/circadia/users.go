package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fentz26/circadia/internal/models"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:     "users",
	Aliases: []string{"user"},
	Short:   "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add [user-id]",
	Short: "Register a user and schedule their jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var thoughtsCmd = &cobra.Command{
	Use:   "thoughts [user-id]",
	Short: "Show a user's recent thoughts",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserThoughts,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scheduler and research runner stats",
	RunE:  runStats,
}

var (
	userTimezone   string
	userAutonomous bool
	thoughtsLimit  int
)

func init() {
	userCmd.AddCommand(userAddCmd)

	userAddCmd.Flags().StringVar(&userTimezone, "tz", "UTC", "IANA timezone, e.g. Europe/Berlin")
	userAddCmd.Flags().BoolVar(&userAutonomous, "autonomous", true, "Enable autonomous daily jobs")

	thoughtsCmd.Flags().IntVar(&thoughtsLimit, "limit", 20, "Maximum thoughts to show")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"id":                 args[0],
		"timezone":           userTimezone,
		"autonomous_enabled": userAutonomous,
	}

	var resp struct {
		User          models.User `json:"user"`
		JobsScheduled int         `json:"jobs_scheduled"`
	}
	if err := postJSON("/users", body, &resp); err != nil {
		return err
	}

	fmt.Printf("Registered %s (%s), %d jobs scheduled\n", resp.User.ID, resp.User.Timezone, resp.JobsScheduled)
	return nil
}

func runUserThoughts(cmd *cobra.Command, args []string) error {
	path := "/users/" + url.PathEscape(args[0]) + "/thoughts?limit=" + strconv.Itoa(thoughtsLimit)

	var thoughts []models.Thought
	if err := getJSON(path, &thoughts); err != nil {
		return err
	}

	if len(thoughts) == 0 {
		fmt.Println("No thoughts yet")
		return nil
	}

	for _, t := range thoughts {
		fmt.Printf("=== %s  [%s] ===\n", t.CreatedAt.Local().Format(time.DateTime), t.Kind)
		fmt.Println(t.Content)
		fmt.Println()
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats json.RawMessage
	if err := getJSON("/stats", &stats); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
