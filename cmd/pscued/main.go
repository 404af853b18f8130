// Command pscued runs the PSCue core as a long-lived background daemon: it
// loads configuration, starts the learners and the local completion
// listener, and blocks until asked to shut down.
//
// There is deliberately no command tree here: shell integration, CLI
// ergonomics, and command-specific argument schemas are external
// collaborators that talk to this process over the IPC protocol, not
// subcommands of this binary.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pscue/internal/config"
	"pscue/internal/daemon"
	"pscue/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pscued:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (defaults used if omitted or missing)")
	verbose := flag.Bool("verbose", false, "enable debug-level boundary logging")
	flag.Parse()

	zapCfg := zap.NewProductionConfig()
	if *verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	boundaryLog, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("init boundary logger: %w", err)
	}
	defer boundaryLog.Sync() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		boundaryLog.Error("config load failed", zap.Error(err))
		return fmt.Errorf("load config: %w", err)
	}

	// daemon.New initializes internal/logging's categorized subsystem
	// tracing against cfg.DataDir; boundaryLog here only covers this
	// process's own startup/shutdown/fatal-error path.
	d, err := daemon.New(cfg)
	if err != nil {
		boundaryLog.Error("daemon construction failed", zap.Error(err))
		return fmt.Errorf("construct daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		boundaryLog.Error("daemon start failed", zap.Error(err))
		return fmt.Errorf("start daemon: %w", err)
	}
	boundaryLog.Info("pscued started", zap.String("socket", cfg.SocketPath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	boundaryLog.Info("received shutdown signal", zap.String("signal", sig.String()))
	logging.Get(logging.CategoryBoot).Info("received signal %v, shutting down", sig)

	if err := d.Shutdown(); err != nil {
		boundaryLog.Error("daemon shutdown reported error", zap.Error(err))
		return err
	}
	return nil
}
