package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/testutils"
	"github.com/srg/bplink/records"
	"github.com/srg/bplink/scanner"
	"github.com/srg/bplink/session"
)

// bufferedCommand returns a throwaway command whose output is captured.
func bufferedCommand() (*cobra.Command, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd, _ := bufferedCommand()
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		return cmd
	}

	t.Run("defaults to silent", func(t *testing.T) {
		logger, err := configureLogger(newCmd(), "verbose")
		require.NoError(t, err)
		assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))

		logger, err := configureLogger(cmd, "verbose")
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})

	t.Run("log-level wins over verbose", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))
		require.NoError(t, cmd.Flags().Set("log-level", "warn"))

		logger, err := configureLogger(cmd, "verbose")
		require.NoError(t, err)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	})

	t.Run("rejects unknown levels", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("log-level", "loud"))

		_, err := configureLogger(cmd, "verbose")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestFormatUserError(t *testing.T) {
	err := fmt.Errorf("connect: %w", device.ErrBluetoothOff)
	assert.Equal(t, "Bluetooth is turned off. Enable it and try again.", FormatUserError(err))

	err = fmt.Errorf("read: %w", device.ErrNotConnected)
	assert.Contains(t, FormatUserError(err), "dropped the connection")

	plain := errors.New("something else")
	assert.Equal(t, "something else", FormatUserError(plain))
}

func TestOutcomeError(t *testing.T) {
	err := outcomeError(session.Outcome{Status: session.StatusDeviceNotFound, Address: "AA:BB:CC:DD:EE:FF"})
	assert.Contains(t, err.Error(), "not found during scan")
	assert.Contains(t, err.Error(), "AA:BB:CC:DD:EE:FF")

	err = outcomeError(session.Outcome{Status: session.StatusConnectionFailed, Address: "AA:BB:CC:DD:EE:FF"})
	assert.Contains(t, err.Error(), "failed to hold a connection")

	err = outcomeError(session.Outcome{Status: session.StatusProtocolError, Detail: "checksum mismatch"})
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestRunReadRejectsBadFlagCombos(t *testing.T) {
	origFormat, origToday, origLatest := readFormat, readToday, readLatest
	t.Cleanup(func() { readFormat, readToday, readLatest = origFormat, origToday, origLatest })

	cmd, _ := bufferedCommand()

	readFormat = "xml"
	err := runRead(cmd, []string{"AA:BB:CC:DD:EE:FF"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")

	readFormat = "table"
	readToday = true
	readLatest = false
	err = runRead(cmd, []string{"AA:BB:CC:DD:EE:FF"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--latest")
}

func TestNewSessionRunnerRejectsUnknownModel(t *testing.T) {
	_, err := newSessionRunner("HEM-0000X", 10*time.Second, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device model")
}

func TestDisplayRecordsTable(t *testing.T) {
	origFormat := readFormat
	t.Cleanup(func() { readFormat = origFormat })
	readFormat = "table"

	recs := []records.NormalizedRecord{
		{Datetime: time.Date(2025, 5, 31, 21, 40, 0, 0, time.Local), Sys: 131, Dia: 84, Bpm: 70},
	}
	records.StampIDs(recs)

	cmd, buf := bufferedCommand()
	require.NoError(t, displayRecords(cmd, recs))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, recs[0].ID)
	assert.Contains(t, out, "2025-05-31 21:40:00")
	assert.Contains(t, out, "1 record(s)")
}

func TestDisplayRecordsJSON(t *testing.T) {
	origFormat := readFormat
	t.Cleanup(func() { readFormat = origFormat })
	readFormat = "json"

	recs := []records.NormalizedRecord{
		{Datetime: time.Date(2025, 5, 31, 21, 40, 0, 0, time.Local), Sys: 131, Dia: 84, Bpm: 70},
	}
	records.StampIDs(recs)

	cmd, buf := bufferedCommand()
	require.NoError(t, displayRecords(cmd, recs))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)

	testutils.NewJSONAsserter(t).Assert(testutils.MustJSON(decoded[0]), `{
		"id": "`+recs[0].ID+`",
		"datetime": "2025-05-31 21:40:00",
		"sys": 131,
		"dia": 84,
		"bpm": 70
	}`)
}

func TestDisplayDevicesTable(t *testing.T) {
	origFormat := scanFormat
	t.Cleanup(func() { scanFormat = origFormat })
	scanFormat = "table"

	entries := map[string]scanner.DeviceEntry{
		"00:5F:BF:88:A1:C2": {
			Device:   testutils.StaticDeviceInfo{DeviceName: "HEM-7142T1", Addr: "00:5F:BF:88:A1:C2", Rssi: -58},
			LastSeen: time.Now(),
		},
	}

	cmd, buf := bufferedCommand()
	require.NoError(t, displayDevices(cmd, entries))

	out := buf.String()
	assert.Contains(t, out, "HEM-7142T1")
	assert.Contains(t, out, "00:5F:BF:88:A1:C2")
	assert.Contains(t, out, "1 device(s) found")
}
