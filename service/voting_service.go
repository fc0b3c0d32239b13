package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/registry"
	"ballotbox/storage"
)

type Options struct {
	MinVoterAge           int
	MinCandidateAge       int
	ProvisionDefaultAdmin bool
	// ExportDir receives result exports; empty disables ExportResults.
	ExportDir    string
	ExportKeep   int
	Clock        models.Clock
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// ElectionService wires the registry and the ledger together and runs the
// operations that touch both stores.
type ElectionService struct {
	registry *registry.Registry
	ledger   *Ledger
	archive  *storage.Archive
	metrics  *MetricsCollector
	clock    models.Clock
	logger   *slog.Logger
}

func NewElectionService(ctx context.Context, store storage.DocumentStore, crypto *encryption.CryptoService, opts Options) (*ElectionService, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = models.SystemClock{}
	}
	metrics := NewMetricsCollector(opts.PromRegistry)

	reg, err := registry.New(ctx, store, crypto, registry.Options{
		MinVoterAge:           opts.MinVoterAge,
		MinCandidateAge:       opts.MinCandidateAge,
		ProvisionDefaultAdmin: opts.ProvisionDefaultAdmin,
		Clock:                 clock,
		Logger:                logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	ledger, err := NewLedger(ctx, store, reg, crypto, LedgerOptions{
		Clock:   clock,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	s := &ElectionService{
		registry: reg,
		ledger:   ledger,
		metrics:  metrics,
		clock:    clock,
		logger:   logger.With("component", "election"),
	}
	if opts.ExportDir != "" {
		s.archive, err = storage.NewArchive(opts.ExportDir, exportPrefix, exportExt, opts.ExportKeep, logger)
		if err != nil {
			return nil, err
		}
	}

	if err := s.reconcile(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("election service ready", "password_scheme", crypto.Scheme(), "export_dir", s.ExportDir())
	return s, nil
}

// ExportDir is the absolute results archive directory, or "" when export is
// disabled.
func (s *ElectionService) ExportDir() string {
	if s.archive == nil {
		return ""
	}
	return s.archive.Dir()
}

// reconcile repairs a tally left out of step with the registry by an
// interrupted two-store write.
func (s *ElectionService) reconcile(ctx context.Context) error {
	candidates := s.registry.ListCandidates()
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Username)
	}
	// Keep existing tally order; Sync appends new ids in the order given.
	added, removed, err := s.ledger.Sync(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to reconcile tally: %w", err)
	}
	if len(added) > 0 || len(removed) > 0 {
		s.logger.Warn("tally reconciled with registry", "added", added, "removed", removed)
	}
	return nil
}

func (s *ElectionService) Registry() *registry.Registry { return s.registry }

func (s *ElectionService) Ledger() *Ledger { return s.ledger }

func (s *ElectionService) Authenticate(ctx context.Context, username, password, role string) (models.Principal, error) {
	return s.registry.Authenticate(ctx, username, password, role)
}

func (s *ElectionService) RegisterVoter(ctx context.Context, form models.RegistrationForm) (models.VoterRecord, error) {
	defer s.metrics.ObserveDuration("register_voter", time.Now())

	v, err := s.registry.RegisterVoter(ctx, form)
	if err != nil {
		s.recordFailure("register voter", err)
		return models.VoterRecord{}, err
	}
	s.metrics.RecordRegistration("voter")
	return v, nil
}

// RegisterCandidate stores the candidate and creates its zero tally entry.
// If the tally write fails the registration is undone.
func (s *ElectionService) RegisterCandidate(ctx context.Context, form models.RegistrationForm) (models.VoterRecord, error) {
	defer s.metrics.ObserveDuration("register_candidate", time.Now())

	c, err := s.registry.RegisterCandidate(ctx, form)
	if err != nil {
		s.recordFailure("register candidate", err)
		return models.VoterRecord{}, err
	}
	if err := s.ledger.AddCandidate(ctx, c.Username); err != nil {
		if undoErr := s.registry.DeleteVoter(ctx, c.Username); undoErr != nil {
			s.logger.Error("failed to undo candidate registration", "username", c.Username, "error", undoErr)
			s.metrics.RecordPersistenceFailure("undo register candidate")
		}
		return models.VoterRecord{}, err
	}
	s.metrics.RecordRegistration("candidate")
	return c, nil
}

// DeleteCandidate clears the candidacy ref resolves to and removes its tally
// entry. The voter record and past vote records are kept.
func (s *ElectionService) DeleteCandidate(ctx context.Context, ref string) (models.VoterRecord, error) {
	prev, err := s.registry.ClearCandidacy(ctx, ref)
	if err != nil {
		return models.VoterRecord{}, err
	}
	if err := s.ledger.RemoveCandidate(ctx, prev.Username); err != nil && !errors.Is(err, models.ErrCandidateNotFound) {
		if prev.Candidate != nil {
			if undoErr := s.registry.RestoreCandidacy(ctx, prev.Username, *prev.Candidate); undoErr != nil {
				s.logger.Error("failed to restore candidacy", "username", prev.Username, "error", undoErr)
				s.metrics.RecordPersistenceFailure("undo delete candidate")
			}
		}
		return models.VoterRecord{}, err
	}
	s.logger.Info("candidate deleted", "username", prev.Username)
	return prev, nil
}

// DeleteVoter removes a voter, withdrawing the candidacy first if there is one.
func (s *ElectionService) DeleteVoter(ctx context.Context, username string) error {
	v, err := s.registry.Voter(username)
	if err != nil {
		return err
	}
	if v.IsCandidate {
		if _, err := s.DeleteCandidate(ctx, username); err != nil {
			return err
		}
	}
	return s.registry.DeleteVoter(ctx, username)
}

func (s *ElectionService) CastVote(ctx context.Context, voter, candidateRef string) (models.VoteRecord, error) {
	return s.ledger.CastVote(ctx, voter, candidateRef)
}

func (s *ElectionService) ResetElection(ctx context.Context) error {
	return s.ledger.ResetElection(ctx)
}

func (s *ElectionService) Results() models.Results {
	return s.ledger.Results()
}

// candidateName resolves a ledger candidate id to a display name.
func (s *ElectionService) candidateName(id string) string {
	if v, err := s.registry.Voter(id); err == nil {
		return v.FullName
	}
	return id
}

func (s *ElectionService) recordFailure(op string, err error) {
	if models.IsFatal(err) {
		s.metrics.RecordPersistenceFailure(op)
	}
}
