package session

import "github.com/srg/bplink/records"

// Status classifies the result of one orchestration run.
type Status string

const (
	StatusPaired           Status = "paired"
	StatusRecordsRead      Status = "records_read"
	StatusNoRecords        Status = "no_records"
	StatusDeviceNotFound   Status = "device_not_found"
	StatusConnectionFailed Status = "connection_failed"
	StatusProtocolError    Status = "protocol_error"
)

// Outcome is the caller-facing result of one session. Exactly one is
// produced per Run; delivery adapters translate it to their transport's
// representation. It never carries transport concerns itself.
type Outcome struct {
	Status     Status
	Address    string
	DeviceName string

	// Records carries the reconciled batch for PolicyBulkDrift runs,
	// sorted newest first.
	Records []records.NormalizedRecord

	// Latest carries the selected record for the latest-only policies.
	Latest *records.NormalizedRecord

	// Detail preserves the original failure text verbatim for
	// StatusProtocolError.
	Detail string

	// ClockFallbacks counts records whose device timestamp was
	// unparsable and got substituted with the wall clock.
	ClockFallbacks int
}

// Failed reports whether the session ended in an error state. NoRecords is a
// valid empty result, not a failure.
func (o Outcome) Failed() bool {
	switch o.Status {
	case StatusDeviceNotFound, StatusConnectionFailed, StatusProtocolError:
		return true
	}
	return false
}
