package bfq

import "time"

// fixedNow returns a deterministic reference time for tests that don't
// care about wall-clock value but want a stable, readable timestamp.
func fixedNow() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}
