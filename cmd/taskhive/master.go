package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fentz26/taskhive/internal/audit"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/scheduler"
	"github.com/fentz26/taskhive/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr string
	dbPath     string
	noJournal  bool
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Start the taskhive master",
	Long: `Starts the master: the scheduler, the failure monitor, the HTTP API and
the event journal.`,
	RunE: runMaster,
}

func init() {
	masterCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	masterCmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite event journal (overrides config)")
	masterCmd.Flags().BoolVar(&noJournal, "no-journal", false, "Disable the event journal")
}

func runMaster(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if noJournal {
		cfg.Store.Disabled = true
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting taskhive master",
		zap.String("listen", cfg.Server.Listen),
		zap.String("version", controlplane.Version))

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}

	// The journal stays a nil interface when disabled.
	var journal controlplane.Journal
	var st *store.Store
	stopRetention := func() {}
	if !cfg.Store.Disabled {
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		journal = st
		schedOpts = append(schedOpts, scheduler.WithEventSink(audit.NewRecorder(st, logger)))
		logger.Info("event journal opened", zap.String("path", cfg.Store.Path))

		if cfg.Store.Retention > 0 {
			retention, err := audit.NewRetention(st, cfg.Store.Retention, cfg.Store.PruneSchedule,
				audit.WithRetentionLogger(logger))
			if err != nil {
				closeStore(st, logger)
				return err
			}
			retention.Start()
			stopRetention = func() {
				if err := retention.Stop(); err != nil {
					logger.Warn("journal retention stop error", zap.Error(err))
				}
			}
		}
	} else {
		logger.Warn("event journal disabled")
	}

	sched, err := scheduler.New(&cfg.Scheduler, schedOpts...)
	if err != nil {
		stopRetention()
		closeStore(st, logger)
		return err
	}

	monitor := scheduler.NewMonitor(sched)
	monitor.Start()

	server := controlplane.NewServer(controlplane.NewService(sched, journal), cfg.Server.Listen,
		controlplane.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		controlplane.WithServerLogger(logger))

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			monitor.Stop()
			stopRetention()
			closeStore(st, logger)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	monitor.Stop()
	stopRetention()
	closeStore(st, logger)
	logger.Info("shutdown complete")
	return nil
}

func closeStore(st *store.Store, logger *zap.Logger) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		logger.Error("journal close error", zap.Error(err))
	}
}
