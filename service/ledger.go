package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ballotbox/models"
	"ballotbox/storage"
)

// CandidateDirectory is the read-only view of the registry the ledger needs.
type CandidateDirectory interface {
	Voter(username string) (models.VoterRecord, error)
	Candidate(ref string) (models.VoterRecord, error)
	FindRoleForCandidate(ref string) (string, error)
}

// ReceiptIssuer derives a receipt digest from a vote's fields.
type ReceiptIssuer interface {
	Receipt(fields ...string) string
}

type LedgerOptions struct {
	Clock   models.Clock
	Metrics *MetricsCollector
	Logger  *slog.Logger
}

// Ledger owns the vote history and per-candidate counters. One mutex covers
// the whole resolve, check, append and persist sequence of CastVote.
type Ledger struct {
	store     storage.DocumentStore
	directory CandidateDirectory
	receipts  ReceiptIssuer
	clock     models.Clock
	metrics   *MetricsCollector
	logger    *slog.Logger

	mu  sync.Mutex
	doc models.BallotDocument
}

func NewLedger(ctx context.Context, store storage.DocumentStore, directory CandidateDirectory, receipts ReceiptIssuer, opts LedgerOptions) (*Ledger, error) {
	l := &Ledger{
		store:     store,
		directory: directory,
		receipts:  receipts,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if l.clock == nil {
		l.clock = models.SystemClock{}
	}
	if l.metrics == nil {
		l.metrics = NewMetricsCollector(nil)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	l.logger = l.logger.With("component", "ledger")

	var doc models.BallotDocument
	if _, err := store.Load(ctx, storage.DocBallots, &doc); err != nil {
		return nil, models.Persistence("load ballots", err)
	}
	if doc.Candidates == nil {
		doc.Candidates = []models.TallyCounter{}
	}
	if doc.History == nil {
		doc.History = []models.VoteRecord{}
	}
	l.doc = doc
	l.metrics.SetBallots(len(doc.History))
	l.logger.Info("ledger loaded", "candidates", len(doc.Candidates), "ballots", len(doc.History))
	return l, nil
}

// commit persists next and swaps it in. Caller holds l.mu.
func (l *Ledger) commit(ctx context.Context, op string, next models.BallotDocument) error {
	if err := l.store.Save(ctx, storage.DocBallots, next); err != nil {
		l.metrics.RecordPersistenceFailure(op)
		l.logger.Error("failed to persist ballots", "op", op, "error", err)
		return models.Persistence(op, err)
	}
	l.doc = next
	return nil
}

func (l *Ledger) indexOf(candidateID string) int {
	for i, c := range l.doc.Candidates {
		if c.CandidateID == candidateID {
			return i
		}
	}
	return -1
}

// displayName returns the registry full name for a candidate id, falling
// back to the id when the candidate no longer exists.
func (l *Ledger) displayName(candidateID string) string {
	if c, err := l.directory.Candidate(candidateID); err == nil && c.Username == candidateID {
		return c.FullName
	}
	if v, err := l.directory.Voter(candidateID); err == nil {
		return v.FullName
	}
	return candidateID
}

// CastVote records voter's vote for the candidate ref names. The first vote
// per voter and role is final.
func (l *Ledger) CastVote(ctx context.Context, voter, candidateRef string) (models.VoteRecord, error) {
	defer l.metrics.ObserveDuration("cast_vote", time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.castVote(ctx, voter, candidateRef)
	if err != nil {
		l.metrics.RecordRejection(rejectionReason(err))
		return models.VoteRecord{}, err
	}
	l.metrics.RecordVote(len(l.doc.History))
	l.logger.Info("vote cast", "voter", voter, "candidate", record.Candidate, "role", record.Role)
	return record, nil
}

func (l *Ledger) castVote(ctx context.Context, voter, candidateRef string) (models.VoteRecord, error) {
	if _, err := l.directory.Voter(voter); err != nil {
		return models.VoteRecord{}, err
	}
	candidate, err := l.directory.Candidate(candidateRef)
	if err != nil {
		return models.VoteRecord{}, err
	}
	role, err := l.directory.FindRoleForCandidate(candidate.Username)
	if err != nil {
		return models.VoteRecord{}, err
	}
	idx := l.indexOf(candidate.Username)
	if idx < 0 {
		return models.VoteRecord{}, fmt.Errorf("%w: %s has no tally entry", models.ErrCandidateNotFound, candidate.Username)
	}

	for _, prior := range l.doc.History {
		if prior.Voter != voter {
			continue
		}
		if prior.Role == role || l.currentRole(prior.Candidate) == role {
			return models.VoteRecord{}, &models.AlreadyVotedError{
				Candidate: l.displayName(prior.Candidate),
				Role:      role,
			}
		}
	}

	record := models.VoteRecord{
		ID:        uuid.NewString(),
		Candidate: candidate.Username,
		Voter:     voter,
		Role:      role,
		Timestamp: models.NewTimestamp(l.clock.Now()),
	}
	record.Receipt = l.receipts.Receipt(record.ID, record.Voter, record.Candidate, record.Role, record.Timestamp.String())

	next := models.BallotDocument{
		Candidates: append([]models.TallyCounter(nil), l.doc.Candidates...),
		History:    make([]models.VoteRecord, 0, len(l.doc.History)+1),
	}
	next.Candidates[idx].Votes++
	next.History = append(append(next.History, l.doc.History...), record)

	if err := l.commit(ctx, "cast vote", next); err != nil {
		return models.VoteRecord{}, err
	}
	return record, nil
}

func (l *Ledger) currentRole(candidateID string) string {
	c, err := l.directory.Candidate(candidateID)
	if err != nil || c.Username != candidateID {
		return ""
	}
	return c.Role()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, models.ErrCandidateNotFound):
		return "candidate_not_found"
	case errors.Is(err, models.ErrRoleUndetermined):
		return "role_undetermined"
	case errors.Is(err, models.ErrNotFound):
		return "voter_not_found"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case models.IsFatal(err):
		return "persistence"
	default:
		return "other"
	}
}

// ResetElection zeroes every counter and clears the history in one write.
// Candidacies are untouched.
func (l *Ledger) ResetElection(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := models.BallotDocument{
		Candidates: make([]models.TallyCounter, len(l.doc.Candidates)),
		History:    []models.VoteRecord{},
	}
	for i, c := range l.doc.Candidates {
		next.Candidates[i] = models.TallyCounter{CandidateID: c.CandidateID}
	}
	cleared := len(l.doc.History)
	if err := l.commit(ctx, "reset election", next); err != nil {
		return err
	}
	l.metrics.RecordReset()
	l.logger.Warn("election reset", "cleared_ballots", cleared)
	return nil
}

// AddCandidate creates a zero tally entry at the end of the order.
func (l *Ledger) AddCandidate(ctx context.Context, candidateID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOf(candidateID) >= 0 {
		return fmt.Errorf("%w: tally entry for %s", models.ErrDuplicateUsername, candidateID)
	}
	next := models.BallotDocument{
		Candidates: append(append([]models.TallyCounter(nil), l.doc.Candidates...), models.TallyCounter{CandidateID: candidateID}),
		History:    l.doc.History,
	}
	return l.commit(ctx, "add candidate", next)
}

// RemoveCandidate drops the tally entry. Vote records naming the candidate
// stay in the history until the next reset.
func (l *Ledger) RemoveCandidate(ctx context.Context, candidateID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(candidateID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", models.ErrCandidateNotFound, candidateID)
	}
	candidates := make([]models.TallyCounter, 0, len(l.doc.Candidates)-1)
	candidates = append(candidates, l.doc.Candidates[:idx]...)
	candidates = append(candidates, l.doc.Candidates[idx+1:]...)
	next := models.BallotDocument{Candidates: candidates, History: l.doc.History}
	if err := l.commit(ctx, "remove candidate", next); err != nil {
		return err
	}
	l.logger.Info("tally entry removed", "candidate", candidateID)
	return nil
}

// Sync makes the tally entries match candidateIDs: missing entries are
// appended with zero votes and entries without a candidate are dropped.
func (l *Ledger) Sync(ctx context.Context, candidateIDs []string) (added, removed []string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		want[id] = true
	}
	candidates := make([]models.TallyCounter, 0, len(candidateIDs))
	have := make(map[string]bool, len(l.doc.Candidates))
	for _, c := range l.doc.Candidates {
		if !want[c.CandidateID] {
			removed = append(removed, c.CandidateID)
			l.logger.Warn("dropping tally entry without candidate", "candidate", c.CandidateID, "votes", c.Votes)
			continue
		}
		have[c.CandidateID] = true
		candidates = append(candidates, c)
	}
	for _, id := range candidateIDs {
		if !have[id] {
			added = append(added, id)
			candidates = append(candidates, models.TallyCounter{CandidateID: id})
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil, nil, nil
	}
	next := models.BallotDocument{Candidates: candidates, History: l.doc.History}
	if err := l.commit(ctx, "sync candidates", next); err != nil {
		return nil, nil, err
	}
	return added, removed, nil
}

// History returns the vote records in cast order.
func (l *Ledger) History() []models.VoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.VoteRecord(nil), l.doc.History...)
}

func (l *Ledger) VoterHistory(voter string) []models.VoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.VoteRecord{}
	for _, r := range l.doc.History {
		if r.Voter == voter {
			out = append(out, r)
		}
	}
	return out
}

// VerifyReceipt returns the vote record a receipt was issued for.
func (l *Ledger) VerifyReceipt(receipt string) (models.VoteRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.doc.History {
		if r.Receipt == receipt {
			return r, nil
		}
	}
	return models.VoteRecord{}, fmt.Errorf("receipt %s: %w", receipt, models.ErrNotFound)
}
