//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProc detaches the daemon into its own session.
func configureDaemonProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
