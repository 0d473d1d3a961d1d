package records_test

import (
	"testing"
	"time"

	"github.com/srg/bplink/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkRec(dt string, sys int) records.NormalizedRecord {
	ts, err := records.ParseTimestamp(dt)
	if err != nil {
		panic(err)
	}
	return records.NormalizedRecord{Datetime: ts, Sys: sys, Dia: 80, Bpm: 70}
}

func TestLatest(t *testing.T) {
	t.Run("picks the maximum timestamp", func(t *testing.T) {
		recs := []records.NormalizedRecord{
			mkRec("2024-01-14 08:00:00", 1),
			mkRec("2024-01-16 08:00:00", 2),
			mkRec("2024-01-15 08:00:00", 3),
		}

		latest, ok := records.Latest(recs)
		require.True(t, ok)
		assert.Equal(t, 2, latest.Sys)
	})

	t.Run("breaks timestamp ties by enumeration order", func(t *testing.T) {
		recs := []records.NormalizedRecord{
			mkRec("2024-01-16 08:00:00", 1),
			mkRec("2024-01-16 08:00:00", 2),
		}

		latest, ok := records.Latest(recs)
		require.True(t, ok)
		assert.Equal(t, 1, latest.Sys, "first among equals wins")
	})

	t.Run("reports empty input", func(t *testing.T) {
		_, ok := records.Latest(nil)
		assert.False(t, ok)
	})
}

func TestCorrectBulkDrift(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)

	t.Run("leaves small offsets untouched", func(t *testing.T) {
		recs := []records.NormalizedRecord{
			mkRec("2025-06-01 08:30:00", 1), // 30 min behind now, under the threshold
			mkRec("2025-06-01 07:00:00", 2),
		}

		got := records.CorrectBulkDrift(recs, now)
		assert.Equal(t, recs, got, "offsets under one hour MUST NOT shift anything")
	})

	t.Run("shifts the whole batch when the clock is grossly wrong", func(t *testing.T) {
		recs := []records.NormalizedRecord{
			mkRec("2021-02-27 18:30:00", 1),
			mkRec("2021-03-01 09:00:00", 2), // anchor
			mkRec("2021-02-28 07:45:00", 3),
		}
		anchorOffsets := make([]time.Duration, len(recs))
		anchor := recs[1].Datetime
		for i, r := range recs {
			anchorOffsets[i] = anchor.Sub(r.Datetime)
		}

		got := records.CorrectBulkDrift(recs, now)
		require.Len(t, got, len(recs))

		assert.True(t, got[1].Datetime.Equal(now), "anchor MUST land on now")
		for i, r := range got {
			assert.Equal(t, anchorOffsets[i], got[1].Datetime.Sub(r.Datetime),
				"record %d MUST keep its offset from the anchor", i)
		}

		// Source batch stays untouched.
		assert.True(t, recs[1].Datetime.Equal(anchor))
	})

	t.Run("shifts backwards for a clock running ahead", func(t *testing.T) {
		recs := []records.NormalizedRecord{mkRec("2025-06-01 13:00:00", 1)} // 4h ahead

		got := records.CorrectBulkDrift(recs, now)
		assert.True(t, got[0].Datetime.Equal(now))
	})

	t.Run("tolerates an empty batch", func(t *testing.T) {
		assert.Empty(t, records.CorrectBulkDrift(nil, now))
	})
}

func TestAnchorLatestToToday(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)
	rec := mkRec("2021-03-01 17:42:05", 1)

	got := records.AnchorLatestToToday(rec, now)

	assert.Equal(t, 2025, got.Datetime.Year())
	assert.Equal(t, time.June, got.Datetime.Month())
	assert.Equal(t, 1, got.Datetime.Day())
	assert.Equal(t, 17, got.Datetime.Hour(), "time of day MUST be preserved")
	assert.Equal(t, 42, got.Datetime.Minute())
	assert.Equal(t, 5, got.Datetime.Second())

	// Input is passed by value, original stays untouched.
	assert.Equal(t, 2021, rec.Datetime.Year())
}

func TestSortDescending(t *testing.T) {
	t.Run("orders newest first", func(t *testing.T) {
		recs := []records.NormalizedRecord{
			mkRec("2024-01-14 08:00:00", 1),
			mkRec("2024-01-16 08:00:00", 2),
			mkRec("2024-01-15 08:00:00", 3),
		}

		records.SortDescending(recs)

		assert.Equal(t, 2, recs[0].Sys)
		assert.Equal(t, 3, recs[1].Sys)
		assert.Equal(t, 1, recs[2].Sys)
	})

	t.Run("is stable for equal timestamps", func(t *testing.T) {
		recs := []records.NormalizedRecord{
			mkRec("2024-01-16 08:00:00", 1),
			mkRec("2024-01-16 08:00:00", 2),
			mkRec("2024-01-16 08:00:00", 3),
		}

		records.SortDescending(recs)

		assert.Equal(t, []int{recs[0].Sys, recs[1].Sys, recs[2].Sys}, []int{1, 2, 3},
			"relative original order MUST be preserved")
	})
}

func TestParsePolicy(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want records.Policy
		ok   bool
	}{
		{"", records.PolicyBulkDrift, true},
		{"bulk_drift", records.PolicyBulkDrift, true},
		{"latest_today", records.PolicyLatestToday, true},
		{"latest_untouched", records.PolicyLatestUntouched, true},
		{"newest", "", false},
	} {
		got, ok := records.ParsePolicy(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}
