package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/taskhive/internal/tui"
	"github.com/spf13/cobra"
)

var refreshInterval time.Duration

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the status dashboard",
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().DurationVar(&refreshInterval, "refresh", tui.DefaultRefreshInterval, "Dashboard refresh interval")
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !isMasterRunning(apiAddr) {
		fmt.Println("taskhive master not running. Starting background service...")
		if err := startMaster(); err != nil {
			return fmt.Errorf("failed to start master: %w", err)
		}
	}

	app := tui.New(newAPIClient(), refreshInterval)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func startMaster() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	masterArgs := []string{"master"}
	if configPath != "" {
		masterArgs = append(masterArgs, "--config", configPath)
	}
	c := exec.Command(exe, masterArgs...)
	// Detach so the master survives the dashboard exiting.
	configureMasterProc(c)
	c.Stdin = nil
	c.Stdout = nil
	c.Stderr = nil

	if err := c.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for master...")
	for i := 0; i < 20; i++ {
		if isMasterRunning(apiAddr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("master started but API not reachable at %s", apiAddr)
}
