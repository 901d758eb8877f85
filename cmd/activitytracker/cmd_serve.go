package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/activitytracker/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logs := setupLogging(cfg)
	defer logs.Close()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, daemon.Options{Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	slog.Info("activitytracker started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.Log.Level,
		"bridge", cfg.Bridge.Enabled,
		"bridge_listen", cfg.Bridge.Listen,
		"pulse_width", cfg.Tracking.PulseWidth,
		"pid_file", pidPath,
	)

	if err := d.Run(ctx); err != nil {
		slog.Error("shutdown was not clean", "error", err)
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
