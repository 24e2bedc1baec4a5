// Package system provides the wall clock used to stamp runs and ledger rows.
package system

import "time"

// Clock implements harvest.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision Postgres
// keeps for timestamptz, so ledger rows and reports agree.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
