package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

const (
	exportPrefix = "voting_results_"
	exportExt    = ".txt"
)

var ErrExportDisabled = errors.New("results export is not configured")

// RenderResults writes the plain-text results summary followed by the
// voting history.
func (s *ElectionService) RenderResults() []byte {
	results := s.ledger.Results()
	history := s.ledger.History()

	var buf bytes.Buffer
	buf.WriteString("Voting Results Summary\n")
	buf.WriteString("=====================\n\n")
	for _, e := range results.Entries {
		fmt.Fprintf(&buf, "%s: %s votes (%.1f%%)\n", e.Name, humanize.Comma(int64(e.Votes)), e.Percentage)
	}

	buf.WriteString("\n\nVoting History\n")
	buf.WriteString("==============\n\n")
	for _, r := range history {
		fmt.Fprintf(&buf, "%s: %s voted for %s\n", r.Timestamp, r.Voter, s.candidateName(r.Candidate))
	}
	return buf.Bytes()
}

// ExportResults archives the rendered results as
// voting_results_YYYYMMDD_HHMMSS.txt and returns its path.
func (s *ElectionService) ExportResults(ctx context.Context) (string, error) {
	if s.archive == nil {
		return "", ErrExportDisabled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.archive.Write(s.clock.Now(), s.RenderResults())
	if err != nil {
		s.metrics.RecordPersistenceFailure("export results")
		return "", fmt.Errorf("failed to export results: %w", err)
	}
	s.logger.Info("results exported", "path", path)
	return path, nil
}
