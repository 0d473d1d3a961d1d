// Package records reconciles raw blood-pressure measurements read from a
// device into a stable, deduplicated, caller-facing form: timestamp
// normalization, clock-drift correction, content-derived identities, and
// ordering.
package records

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the canonical textual timestamp format used in all serialized
// output.
const TimeLayout = "2006-01-02 15:04:05"

// idLayout feeds the content hash. No separators, so the derived id is
// independent of whatever textual format the device reported.
const idLayout = "20060102150405"

// RawRecord is a single measurement as produced by a device protocol driver.
// Datetime is whatever the driver decoded: a time.Time or a string in one of
// several formats. Extra carries vendor fields through untouched.
type RawRecord struct {
	Datetime any
	Sys      int
	Dia      int
	Bpm      int
	Extra    map[string]any
}

// UserSlotGroup holds the records of one on-device user memory bank, in the
// order the device returned them. Slot order does not imply recency.
type UserSlotGroup []RawRecord

// NormalizedRecord is a RawRecord with a parsed timestamp and a
// content-derived identity.
type NormalizedRecord struct {
	ID       string
	Datetime time.Time
	Sys      int
	Dia      int
	Bpm      int
	Extra    map[string]any

	// ClockFallback marks a record whose device timestamp could not be
	// parsed and was substituted with the wall clock. Degraded data.
	ClockFallback bool
}

// RecordID derives the stable deduplication key for a measurement. The device
// protocol has no native record identity, so re-reading the same physical
// measurement must hash to the same id across sessions and restarts.
func RecordID(ts time.Time, sys, dia, bpm int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d_%d_%d", ts.Format(idLayout), sys, dia, bpm)))
	return hex.EncodeToString(sum[:])[:12]
}

// StampIDs recomputes the id of every record from its current content. Must
// run after any timestamp correction, never before.
func StampIDs(recs []NormalizedRecord) {
	for i := range recs {
		recs[i].ID = RecordID(recs[i].Datetime, recs[i].Sys, recs[i].Dia, recs[i].Bpm)
	}
}

// MarshalJSON flattens Extra into the top-level object and renders the
// timestamp in TimeLayout. Fixed fields win over Extra on key collision.
func (r NormalizedRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["id"] = r.ID
	out["datetime"] = r.Datetime.Format(TimeLayout)
	out["sys"] = r.Sys
	out["dia"] = r.Dia
	out["bpm"] = r.Bpm
	return json.Marshal(out)
}
