package models

import (
	"strings"
	"time"
)

// TimestampLayout matches the ledger and registry timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp serializes as "YYYY-MM-DD HH:MM:SS" in local time.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// VoteRecord is an immutable ledger entry. For a given Voter and Role at most
// one record exists.
type VoteRecord struct {
	ID        string    `json:"id"`
	Candidate string    `json:"candidate"`
	Voter     string    `json:"voter"`
	Role      string    `json:"role"`
	Timestamp Timestamp `json:"timestamp"`
	Receipt   string    `json:"receipt"`
}

// TallyCounter is the persisted per-candidate counter, keyed by the
// candidate's registry username.
type TallyCounter struct {
	CandidateID string `json:"id"`
	Votes       int    `json:"votes"`
}

// BallotDocument is the persisted shape of the ballot store. Candidates keep
// registration order.
type BallotDocument struct {
	Candidates []TallyCounter `json:"candidates"`
	History    []VoteRecord   `json:"history"`
}

// TallyEntry is a tally row joined with registry display data.
type TallyEntry struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name"`
	Party       string  `json:"party"`
	Role        string  `json:"role"`
	Votes       int     `json:"votes"`
	Percentage  float64 `json:"percentage"`
}

type Results struct {
	Entries    []TallyEntry `json:"entries"`
	TotalVotes int          `json:"total_votes"`
	Ballots    int          `json:"ballots"`
	Consistent bool         `json:"consistent"`
}
