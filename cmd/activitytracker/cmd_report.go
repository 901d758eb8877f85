package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/user/activitytracker/internal/config"
	"github.com/user/activitytracker/internal/store"
	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportTodayCmd, reportPast24hCmd)
	reportCmd.PersistentFlags().StringVar(&reportKind, "kind", "program", "program, chrome or video")
}

var reportKind string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print tracked time",
}

var reportTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Daily totals for the current local date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := types.ParseKind(reportKind)
		if err != nil {
			return err
		}
		ctx := context.Background()
		r, closeDB, err := openReader(ctx, loadConfig())
		if err != nil {
			return err
		}
		defer closeDB()

		rows, err := r.SummariesToday(ctx, kind, time.Now())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintf(out, "No %s time recorded today.\n", kind)
			return nil
		}

		tw := newTable()
		tw.AppendHeader(table.Row{"Identity", "Label", "Hours", "Updated"})
		var total float64
		for _, s := range rows {
			total += s.HoursSpent
			tw.AppendRow(table.Row{s.Identity, s.Label, humanize.FtoaWithDigits(s.HoursSpent, 2), humanize.Time(s.UpdatedAt)})
		}
		tw.AppendFooter(table.Row{"", "Total", humanize.FtoaWithDigits(total, 2), ""})
		fmt.Fprintln(out, tw.Render())
		return nil
	},
}

var reportPast24hCmd = &cobra.Command{
	Use:   "past24h",
	Short: "Session segments that started in the last 24 hours",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := types.ParseKind(reportKind)
		if err != nil {
			return err
		}
		ctx := context.Background()
		r, closeDB, err := openReader(ctx, loadConfig())
		if err != nil {
			return err
		}
		defer closeDB()

		logs, err := r.Past24h(ctx, kind, time.Now())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(logs) == 0 {
			fmt.Fprintf(out, "No %s sessions in the past 24 hours.\n", kind)
			return nil
		}

		tw := newTable()
		tw.AppendHeader(table.Row{"Started", "Identity", "Title", "Duration", "Productive", "Open"})
		for _, l := range logs {
			open := ""
			if !l.Closed {
				open = "yes"
			}
			tw.AppendRow(table.Row{
				humanize.Time(l.Start),
				l.Identity,
				truncate(l.Title, 48),
				l.Duration.Round(time.Second),
				l.Productive,
				open,
			})
		}
		fmt.Fprintln(out, tw.Render())
		return nil
	},
}

// openReader opens the read-side database, preferring the synchronous URL.
func openReader(ctx context.Context, cfg *config.Config) (*store.Reader, func(), error) {
	zone, err := tz.Load(cfg.TimeZone.Name, cfg.TimeZone.Offset, cfg.TimeZone.OffsetDST)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.ReaderURL()
	if dsn == "" {
		dsn = cfg.DatabasePath()
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store.NewReader(db, zone), func() { _ = db.Close() }, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
