package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bplink/internal/export"
	"github.com/srg/bplink/records"
	"github.com/srg/bplink/session"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <address>",
	Short: "Read stored measurements from a monitor",
	Long: `Read the measurements stored on a blood-pressure monitor.

By default every stored record is read and the whole batch is shifted when
the device clock has drifted more than an hour. With --latest only the newest
record is returned untouched; adding --today rebases its date onto the
current day while keeping the time.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readModel       string
	readScanTimeout time.Duration
	readLatest      bool
	readToday       bool
	readUnread      bool
	readSyncTime    bool
	readFormat      string
	readCSVPath     string
	readJSONPath    string
)

func init() {
	readCmd.Flags().StringVarP(&readModel, "model", "m", "HEM-7142T1", "Device model")
	readCmd.Flags().DurationVar(&readScanTimeout, "scan-timeout", 10*time.Second, "How long to scan for the device")
	readCmd.Flags().BoolVar(&readLatest, "latest", false, "Only read the newest record")
	readCmd.Flags().BoolVar(&readToday, "today", false, "With --latest: rebase the record's date onto today")
	readCmd.Flags().BoolVar(&readUnread, "unread", false, "Only read records the device marks unread")
	readCmd.Flags().BoolVar(&readSyncTime, "sync-time", false, "Rewrite the device clock from this host")
	readCmd.Flags().StringVarP(&readFormat, "format", "f", "table", "Output format (table, json)")
	readCmd.Flags().StringVar(&readCSVPath, "csv", "", "Append the batch to this CSV file")
	readCmd.Flags().StringVar(&readJSONPath, "json", "", "Snapshot the batch to this JSON file")
	readCmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

func runRead(cmd *cobra.Command, args []string) error {
	if readFormat != "table" && readFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", readFormat)
	}
	if readToday && !readLatest {
		return fmt.Errorf("--today only makes sense together with --latest")
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	runner, err := newSessionRunner(readModel, readScanTimeout, logger)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	policy := records.PolicyBulkDrift
	if readLatest {
		policy = records.PolicyLatestUntouched
		if readToday {
			policy = records.PolicyLatestToday
		}
	}

	progress := NewProgressPrinter("Reading measurements", "Connecting")
	progress.Start()

	outcome := runner.Run(context.Background(), session.Params{
		Address:    args[0],
		UnreadOnly: readUnread,
		SyncClock:  readSyncTime,
		Policy:     policy,
	})
	progress.Stop()

	if outcome.Failed() {
		return outcomeError(outcome)
	}
	if outcome.Status == session.StatusNoRecords {
		fmt.Fprintln(cmd.OutOrStdout(), "No records found.")
		return nil
	}

	batch := outcome.Records
	if outcome.Latest != nil {
		batch = []records.NormalizedRecord{*outcome.Latest}
	}

	if readCSVPath != "" {
		if err := export.AppendCSV(readCSVPath, batch); err != nil {
			return err
		}
	}
	if readJSONPath != "" {
		if err := export.SaveJSON(readJSONPath, batch); err != nil {
			return err
		}
	}

	if err := displayRecords(cmd, batch); err != nil {
		return err
	}
	if outcome.ClockFallbacks > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %d record(s) had unreadable timestamps and use the host clock\n", outcome.ClockFallbacks)
	}
	return nil
}

func displayRecords(cmd *cobra.Command, batch []records.NormalizedRecord) error {
	if readFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATETIME\tSYS\tDIA\tBPM")
	for _, rec := range batch {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			rec.ID, rec.Datetime.Format(records.TimeLayout), rec.Sys, rec.Dia, rec.Bpm)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d record(s)\n", len(batch))
	return nil
}
