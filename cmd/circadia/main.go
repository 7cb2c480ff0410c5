package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "circadia",
	Short:        "Circadia - autonomous job scheduler",
	Long:         `Circadia schedules each user's daily reflection jobs at fixed local times, dispatches them one at a time per user, and works through a queue of background research tasks.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7477", "API server address")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(thoughtsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
