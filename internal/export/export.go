// Package export persists reconciled measurement batches to CSV and JSON
// files on the host.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/srg/bplink/records"
)

var csvHeader = []string{"id", "datetime", "sys", "dia", "bpm"}

// AppendCSV appends recs to the CSV file at path, creating it (and writing
// the header) when it does not exist or is empty.
func AppendCSV(path string, recs []records.NormalizedRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat CSV file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	for _, rec := range recs {
		row := []string{
			rec.ID,
			rec.Datetime.Format(records.TimeLayout),
			strconv.Itoa(rec.Sys),
			strconv.Itoa(rec.Dia),
			strconv.Itoa(rec.Bpm),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV file: %w", err)
	}
	return nil
}

// SaveJSON writes recs to path as a pretty-printed JSON array, replacing any
// previous snapshot atomically via a temp file in the same directory.
func SaveJSON(path string, recs []records.NormalizedRecord) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write JSON snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace JSON snapshot: %w", err)
	}
	return nil
}
