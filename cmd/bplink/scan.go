package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bplink/driver/omron"
	"github.com/srg/bplink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for blood-pressure monitors",
	Long: `Scan for Bluetooth Low Energy devices and display discovered peripherals
with their names, addresses, RSSI values, and last-seen times.

By default every advertising device is shown; --monitors-only restricts the
listing to devices advertising the monitor transfer service.`,
	RunE: runScan,
}

var (
	scanDuration     time.Duration
	scanFormat       string
	scanMonitorsOnly bool
	scanAllowList    []string
	scanBlockList    []string
	scanNoDuplicate  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanMonitorsOnly, "monitors-only", false, "Only show devices advertising the monitor transfer service")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: scanNoDuplicate,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}
	if scanMonitorsOnly {
		opts.ServiceUUIDs = []string{omron.ServiceUUID}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", scanDuration, "Processing results")
	progress.Start()
	defer progress.Stop()

	entries, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return displayDevices(cmd, entries)
}

func displayDevices(cmd *cobra.Command, entries map[string]scanner.DeviceEntry) error {
	addresses := make([]string, 0, len(entries))
	for addr := range entries {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	if scanFormat == "json" {
		devices := make([]any, 0, len(addresses))
		for _, addr := range addresses {
			devices = append(devices, entries[addr].Device)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSERVICES")
	for _, addr := range addresses {
		d := entries[addr].Device
		connectable := "no"
		if d.IsConnectable() {
			connectable = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			d.Name(), d.Address(), d.RSSI(), connectable, strings.Join(d.AdvertisedServices(), ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d device(s) found\n", len(addresses))
	return nil
}
