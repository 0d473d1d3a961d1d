package records

import (
	"fmt"
	"time"
)

// Textual layouts accepted from devices, tried in order after the ISO-8601
// 'T' form. Field units have produced all of these.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// ParseTimestamp converts a driver-supplied datetime value into a time.Time.
// Already-parsed time.Time values pass through unchanged.
func ParseTimestamp(v any) (time.Time, error) {
	switch dt := v.(type) {
	case time.Time:
		return dt, nil
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, dt, time.Local); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse datetime string %q", dt)
	default:
		return time.Time{}, fmt.Errorf("unsupported datetime type %T", v)
	}
}

// Normalize flattens the per-slot groups into a single slice, preserving
// enumeration order (slot by slot, record by record). The input is never
// mutated. A record whose timestamp cannot be parsed gets the current wall
// clock and a ClockFallback mark instead of failing the batch; callers that
// care about degraded data can count the marks.
//
// Identities are not assigned here: timestamps may still be corrected by a
// policy, and the id must be derived from the final timestamp.
func Normalize(groups []UserSlotGroup, now func() time.Time) []NormalizedRecord {
	if now == nil {
		now = time.Now
	}

	var out []NormalizedRecord
	for _, group := range groups {
		for _, raw := range group {
			rec := NormalizedRecord{Sys: raw.Sys, Dia: raw.Dia, Bpm: raw.Bpm}
			if len(raw.Extra) > 0 {
				rec.Extra = make(map[string]any, len(raw.Extra))
				for k, v := range raw.Extra {
					rec.Extra[k] = v
				}
			}

			ts, err := ParseTimestamp(raw.Datetime)
			if err != nil {
				ts = now()
				rec.ClockFallback = true
			}
			rec.Datetime = ts
			out = append(out, rec)
		}
	}
	return out
}

// CountClockFallbacks reports how many records in the batch carry a
// substituted timestamp.
func CountClockFallbacks(recs []NormalizedRecord) int {
	n := 0
	for _, r := range recs {
		if r.ClockFallback {
			n++
		}
	}
	return n
}
