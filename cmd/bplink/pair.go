package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bplink/session"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair <address>",
	Short: "Pair with a monitor and program its unlock key",
	Long: `Pair with a blood-pressure monitor. Put the device into pairing mode first
(usually by holding the clock or connection button).

For models with a locked memory this programs a fresh unlock key; the pairing
is validated with an empty transmission exchange before disconnecting.`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

var (
	pairModel       string
	pairScanTimeout time.Duration
)

func init() {
	pairCmd.Flags().StringVarP(&pairModel, "model", "m", "HEM-7142T1", "Device model")
	pairCmd.Flags().DurationVar(&pairScanTimeout, "scan-timeout", 10*time.Second, "How long to scan for the device")
	pairCmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

func runPair(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	runner, err := newSessionRunner(pairModel, pairScanTimeout, logger)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	progress := NewProgressPrinter("Pairing", "Connecting")
	progress.Start()

	outcome := runner.Run(context.Background(), session.Params{
		Address:     args[0],
		PairingOnly: true,
	})
	progress.Stop()

	if outcome.Failed() {
		return outcomeError(outcome)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Paired with %s (%s)\n", outcome.DeviceName, outcome.Address)
	return nil
}

// outcomeError turns a failed outcome into a terminal-facing error.
func outcomeError(outcome session.Outcome) error {
	switch outcome.Status {
	case session.StatusDeviceNotFound:
		return fmt.Errorf("device %s not found during scan; is it in pairing mode and in range?", outcome.Address)
	case session.StatusConnectionFailed:
		return fmt.Errorf("failed to hold a connection to %s", outcome.Address)
	default:
		return fmt.Errorf("session failed: %s", outcome.Detail)
	}
}
