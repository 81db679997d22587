//go:build windows

package main

import "os/exec"

// Windows has no Setsid; a started process already outlives its parent.
func configureMasterProc(cmd *exec.Cmd) {}
