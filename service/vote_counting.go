package service

import (
	"fmt"
	"sort"

	"ballotbox/models"
)

// Tally returns the counters joined with registry display data, sorted by
// votes descending. Ties keep registration order.
func (l *Ledger) Tally() []models.TallyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, _ := l.tally()
	return entries
}

// tally builds the sorted entries and the vote total. Caller holds l.mu.
func (l *Ledger) tally() ([]models.TallyEntry, int) {
	entries := make([]models.TallyEntry, 0, len(l.doc.Candidates))
	total := 0
	for _, c := range l.doc.Candidates {
		entry := models.TallyEntry{CandidateID: c.CandidateID, Name: c.CandidateID, Votes: c.Votes}
		if rec, err := l.directory.Candidate(c.CandidateID); err == nil && rec.Username == c.CandidateID {
			entry.Name = rec.FullName
			entry.Party = rec.Party()
			entry.Role = rec.Role()
		}
		entries = append(entries, entry)
		total += c.Votes
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Votes > entries[j].Votes })
	return entries, total
}

func percentage(votes, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(votes) / float64(total) * 100
}

// Percentage returns the candidate's share of all votes, 0 when no votes
// have been cast.
func (l *Ledger) Percentage(candidateRef string) (float64, error) {
	candidate, err := l.directory.Candidate(candidateRef)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(candidate.Username)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s has no tally entry", models.ErrCandidateNotFound, candidate.Username)
	}
	total := 0
	for _, c := range l.doc.Candidates {
		total += c.Votes
	}
	return percentage(l.doc.Candidates[idx].Votes, total), nil
}

// Results is the tally with per-row percentages. Consistent reports whether
// the counters add up to the number of vote records.
func (l *Ledger) Results() models.Results {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, total := l.tally()
	for i := range entries {
		entries[i].Percentage = percentage(entries[i].Votes, total)
	}
	return models.Results{
		Entries:    entries,
		TotalVotes: total,
		Ballots:    len(l.doc.History),
		Consistent: total == len(l.doc.History),
	}
}
