// Package timeconv normalizes the timestamp representations found in
// persisted timer records and converts instants between Unix time and the
// push protocol's reference epoch.
package timeconv

import "time"

// AppleEpochOffsetSeconds is the number of seconds between the Unix epoch
// (1970-01-01) and the ActivityKit reference date (2001-01-01). Every
// timestamp placed in a push payload is expressed in seconds since the
// reference date, not Unix time.
const AppleEpochOffsetSeconds int64 = 978307200

// ToAppleEpoch converts an instant to seconds since the protocol reference
// date.
func ToAppleEpoch(t time.Time) int64 {
	return t.Unix() - AppleEpochOffsetSeconds
}

// FromAppleEpoch converts seconds since the protocol reference date back to
// an instant.
func FromAppleEpoch(secs int64) time.Time {
	return time.Unix(secs+AppleEpochOffsetSeconds, 0).UTC()
}
