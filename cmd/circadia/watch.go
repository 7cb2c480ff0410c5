package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/circadia/internal/tui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"tui"},
	Short:   "Launch the live dashboard",
	RunE:    runWatch,
}

var noStart bool

func init() {
	watchCmd.Flags().BoolVar(&noStart, "no-start", false, "Do not start a background daemon when none is running")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning() {
		if noStart {
			return fmt.Errorf("daemon not reachable at %s", apiAddr)
		}
		fmt.Println("Circadia daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning() bool {
	health, err := CheckHealth()
	return err == nil && health.OK
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// Detach so the daemon survives the dashboard exiting.
	cmd := exec.Command(exe, "daemon")
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning() {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
