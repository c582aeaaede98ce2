package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/craftd"
	"github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/logger"
)

const shutdownGrace = 10 * time.Second

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the craftd daemon",
		Long: `Start the craftd daemon: the HTTP API, the instance registry, and
the process supervisor.

Examples:
  craftd serve                      # built-in defaults
  craftd serve config.toml          # with config file
  craftd serve --daemonize --pidfile=/run/craftd.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	return cmd
}

func runServe(flags *ServeFlags) error {
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	fc := config.Default()
	if flags.ConfigPath != "" {
		var err error
		fc, err = config.Load(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
	}
	if flags.LogFile != "" {
		fc.Log.File = flags.LogFile
	}
	logger.Setup(fc.Log)

	if fc.Metrics {
		if err := craftd.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("metrics registration failed", "error", err)
		}
	}

	mgr, err := craftd.New(fc)
	if err != nil {
		return err
	}
	if fc.HistoryDSN != "" {
		sink, err := craftd.NewSQLHistorySink(fc.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		mgr.SetHistorySink(sink)
	}

	srv := mgr.Serve(fc.Listen, "/api", fc.Metrics)
	slog.Info("craftd daemon listening", "addr", fc.Listen, "base_dir", fc.BaseDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		slog.Warn("some instances did not exit before the grace period", "error", err)
	}
	_ = srv.Shutdown(ctx)
	if flags.PidFile != "" {
		_ = os.Remove(flags.PidFile)
	}
	return nil
}
