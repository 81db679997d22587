package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fentz26/taskhive/internal/connectors"
	"github.com/fentz26/taskhive/internal/connectors/compute"
	"github.com/fentz26/taskhive/internal/connectors/localexec"
	"github.com/fentz26/taskhive/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workerID          string
	workerConcurrency int
	allowExec         bool
	execWorkDir       string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker agent",
	Long: `Registers with the master, then leases and executes tasks until
interrupted. Built-in compute task types are always available; shell commands
("exec" tasks) run only with --allow-exec.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerID, "id", "", "Worker id (generated by the master if empty)")
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Tasks executed at once (overrides config)")
	workerCmd.Flags().BoolVar(&allowExec, "allow-exec", false, "Accept allowlisted shell command tasks")
	workerCmd.Flags().StringVar(&execWorkDir, "workdir", "", "Working directory for exec tasks (default: current directory)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workerID != "" {
		cfg.Worker.ID = workerID
	}
	if workerConcurrency > 0 {
		cfg.Worker.Concurrency = workerConcurrency
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	conns := []connectors.Connector{compute.New()}
	if allowExec {
		dir := execWorkDir
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return fmt.Errorf("resolve workdir: %w", err)
			}
		}
		conns = append(conns, localexec.New(dir, localexec.DefaultAllowlist))
		logger.Info("exec tasks enabled", zap.String("workdir", dir))
	}

	agent := worker.New(newAPIClient(), connectors.NewMux(conns...), worker.Config{
		ID:                cfg.Worker.ID,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Worker.PollInterval,
		Concurrency:       cfg.Worker.Concurrency,
	}, worker.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting worker", zap.String("master", apiAddr))
	return agent.Run(ctx)
}
