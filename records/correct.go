package records

import (
	"sort"
	"time"
)

// Policy selects how a session's records are reconciled before delivery.
type Policy string

const (
	// PolicyBulkDrift returns the full batch, shifted as one block when the
	// device clock is detectably stale.
	PolicyBulkDrift Policy = "bulk_drift"
	// PolicyLatestToday returns only the newest record, re-dated to today
	// with its time of day preserved.
	PolicyLatestToday Policy = "latest_today"
	// PolicyLatestUntouched returns only the newest record exactly as the
	// device reported it.
	PolicyLatestUntouched Policy = "latest_untouched"
)

// ParsePolicy maps a wire/flag value to a Policy. Empty input defaults to
// PolicyBulkDrift. ok is false for unknown values.
func ParsePolicy(s string) (Policy, bool) {
	switch Policy(s) {
	case "":
		return PolicyBulkDrift, true
	case PolicyBulkDrift, PolicyLatestToday, PolicyLatestUntouched:
		return Policy(s), true
	}
	return "", false
}

// DriftThreshold is the minimum clock offset that triggers a bulk shift.
// Below it the device clock is presumed correct and the data is left alone.
const DriftThreshold = time.Hour

// Latest returns the record with the maximum timestamp. Among equal
// timestamps the first in enumeration order wins, keeping selection
// deterministic. ok is false for an empty slice.
func Latest(recs []NormalizedRecord) (latest NormalizedRecord, ok bool) {
	for i, r := range recs {
		if i == 0 || r.Datetime.After(latest.Datetime) {
			latest = r
			ok = true
		}
	}
	return latest, ok
}

// CorrectBulkDrift compensates for a grossly wrong device clock, for example
// one stuck at a manufacture-default date. The newest record is the anchor;
// when it sits DriftThreshold or more away from now, every record shifts by
// the same delta so relative spacing is preserved and the anchor lands on
// now. Below the threshold the input is returned unchanged.
func CorrectBulkDrift(recs []NormalizedRecord, now time.Time) []NormalizedRecord {
	anchor, ok := Latest(recs)
	if !ok {
		return recs
	}

	delta := now.Sub(anchor.Datetime)
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if abs < DriftThreshold {
		return recs
	}

	shifted := make([]NormalizedRecord, len(recs))
	copy(shifted, recs)
	for i := range shifted {
		shifted[i].Datetime = shifted[i].Datetime.Add(delta)
	}
	return shifted
}

// AnchorLatestToToday re-dates a single record to today while preserving its
// time of day. Used when only the newest measurement matters and its date,
// not its clock time, is presumed unreliable.
func AnchorLatestToToday(rec NormalizedRecord, now time.Time) NormalizedRecord {
	dt := rec.Datetime
	rec.Datetime = time.Date(now.Year(), now.Month(), now.Day(),
		dt.Hour(), dt.Minute(), dt.Second(), dt.Nanosecond(), dt.Location())
	return rec
}

// SortDescending orders records newest first. The sort is stable, so records
// sharing a timestamp keep their original relative order.
func SortDescending(recs []NormalizedRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Datetime.After(recs[j].Datetime)
	})
}
