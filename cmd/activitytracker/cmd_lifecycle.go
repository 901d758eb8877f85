package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/user/activitytracker/internal/config"
)

func init() {
	rootCmd.AddCommand(stopCmd, statusCmd)
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of status rows to show")
}

var statusLimit int

// readPID reads the PID file and validates the process exists by sending
// signal 0.
func readPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no running daemon (PID file not found)")
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("no running daemon (process %d not found)", pid)
	}
	return pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPID(loadConfig())
		if err != nil {
			return err
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process: %w", err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state, recent status rows and health counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()

		if pid, err := readPID(cfg); err != nil {
			fmt.Fprintf(out, "Daemon: %v\n", err)
		} else {
			fmt.Fprintf(out, "Daemon: running (PID %d)\n", pid)
		}

		ctx := context.Background()
		r, closeDB, err := openReader(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		rows, err := r.RecentStatus(ctx, statusLimit)
		if err != nil {
			return err
		}
		tw := newTable()
		tw.AppendHeader(table.Row{"Status", "At (local)", "When"})
		for _, row := range rows {
			tw.AppendRow(table.Row{row.Status, row.AtLocal.Format(time.DateTime), humanize.Time(row.At)})
		}
		fmt.Fprintln(out, tw.Render())

		counters, err := r.Counters(ctx)
		if err != nil {
			return err
		}
		if len(counters) == 0 {
			return nil
		}
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)
		tw = newTable()
		tw.AppendHeader(table.Row{"Counter", "Count"})
		for _, name := range names {
			tw.AppendRow(table.Row{name, humanize.Comma(counters[name])})
		}
		fmt.Fprintln(out, tw.Render())
		return nil
	},
}
