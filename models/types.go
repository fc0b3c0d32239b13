package models

import "time"

// Clock supplies the current time. Tests use a fixed clock so age checks and
// vote timestamps are deterministic.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// AdminDocument maps administrator usernames to password hashes.
type AdminDocument map[string]string

// VoterDocument maps usernames to voter records.
type VoterDocument map[string]*VoterRecord
