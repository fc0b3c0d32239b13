package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/storage"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store storage.DocumentStore, exportDir string) *ElectionService {
	t.Helper()
	crypto, err := encryption.NewCryptoService(encryption.SchemeBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	s, err := NewElectionService(context.Background(), store, crypto, Options{
		ProvisionDefaultAdmin: true,
		ExportDir:             exportDir,
		ExportKeep:            3,
		Clock:                 models.FixedClock{T: testNow},
	})
	require.NoError(t, err)
	return s
}

func voterForm(username string) models.RegistrationForm {
	return models.RegistrationForm{
		Username:        username,
		Password:        "secret1",
		ConfirmPassword: "secret1",
		FullName:        "Voter " + username,
		DateOfBirth:     "1994-01-01",
		NationalID:      "ID-" + username,
		Phone:           "555-0100",
		Email:           username + "@example.com",
		Address: models.Address{
			Street:     "1 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    "US",
		},
		Occupation: "Engineer",
		Gender:     "F",
	}
}

func candidateForm(username, fullName, role string) models.RegistrationForm {
	form := voterForm(username)
	form.FullName = fullName
	form.DateOfBirth = "1980-01-01"
	form.Candidate = &models.CandidateProfile{
		Party:               "Civic",
		CurrentPosition:     "Councillor",
		DesiredPosition:     role,
		TermLength:          "4 years",
		Education:           "BA",
		Experience:          "10 years",
		Platform:            "Parks",
		Promises:            "More parks",
		PoliticalExperience: "Council",
		Vision:              "Green city",
	}
	return form
}

func mustRegisterVoter(t *testing.T, s *ElectionService, username string) {
	t.Helper()
	_, err := s.RegisterVoter(context.Background(), voterForm(username))
	require.NoError(t, err)
}

func mustRegisterCandidate(t *testing.T, s *ElectionService, username, fullName, role string) {
	t.Helper()
	_, err := s.RegisterCandidate(context.Background(), candidateForm(username, fullName, role))
	require.NoError(t, err)
}

func votesByName(entries []models.TallyEntry) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Votes
	}
	return out
}

func TestAliceVotesForBobLee(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	record, err := s.CastVote(ctx, "alice", "Bob Lee")
	require.NoError(t, err)
	assert.Equal(t, "bob", record.Candidate)
	assert.Equal(t, "Mayor", record.Role)
	assert.Equal(t, "2024-06-15 12:00:00", record.Timestamp.String())
	assert.Equal(t, map[string]int{"Bob Lee": 1}, votesByName(s.Ledger().Tally()))

	_, err = s.CastVote(ctx, "alice", "Bob Lee")
	require.ErrorIs(t, err, models.ErrAlreadyVoted)
	var already *models.AlreadyVotedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, "Bob Lee", already.Candidate)
	assert.Equal(t, "Mayor", already.Role)
	assert.Equal(t, map[string]int{"Bob Lee": 1}, votesByName(s.Ledger().Tally()))
	assert.Len(t, s.Ledger().History(), 1)
}

func TestOneVotePerRole(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	mustRegisterCandidate(t, s, "carl", "Carl Diaz", "Mayor")
	mustRegisterCandidate(t, s, "dana", "Dana Wu", "Senator")

	_, err := s.CastVote(ctx, "alice", "carl")
	require.NoError(t, err)
	_, err = s.CastVote(ctx, "alice", "Dana Wu")
	require.NoError(t, err)

	_, err = s.CastVote(ctx, "alice", "bob")
	var already *models.AlreadyVotedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, "Carl Diaz", already.Candidate)

	assert.Len(t, s.Ledger().VoterHistory("alice"), 2)
	assert.Empty(t, s.Ledger().VoterHistory("bob"))
}

func TestCastVoteLookupErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	_, err := s.CastVote(ctx, "alice", "Nobody")
	assert.ErrorIs(t, err, models.ErrCandidateNotFound)
	_, err = s.CastVote(ctx, "ghost", "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
	// Voters cannot be voted for.
	_, err = s.CastVote(ctx, "bob", "alice")
	assert.ErrorIs(t, err, models.ErrCandidateNotFound)
	assert.Empty(t, s.Ledger().History())
}

func TestRoleUndetermined(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetRaw(storage.DocVoters, []byte(`{
		"alice": {"password": "x", "full_name": "Alice", "is_candidate": false},
		"erin": {"password": "x", "full_name": "Erin Fox", "is_candidate": true, "candidate": {"desired_position": ""}}
	}`))
	s := newTestService(t, store, "")

	_, err := s.CastVote(context.Background(), "alice", "Erin Fox")
	assert.ErrorIs(t, err, models.ErrRoleUndetermined)
	assert.Empty(t, s.Ledger().History())
}

func TestTallyInvariantsUnderRandomCasts(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")

	voters := []string{"v1", "v2", "v3", "v4", "v5"}
	for _, v := range voters {
		mustRegisterVoter(t, s, v)
	}
	candidates := []string{"m1", "m2", "s1", "s2", "g1"}
	roles := map[string]string{"m1": "Mayor", "m2": "Mayor", "s1": "Senator", "s2": "Senator", "g1": "Governor"}
	for _, c := range candidates {
		mustRegisterCandidate(t, s, c, "Candidate "+c, roles[c])
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		voter := voters[rng.Intn(len(voters))]
		candidate := candidates[rng.Intn(len(candidates))]
		_, err := s.CastVote(ctx, voter, candidate)
		if err != nil {
			require.ErrorIs(t, err, models.ErrAlreadyVoted)
		}
	}

	seen := map[string]bool{}
	for _, r := range s.Ledger().History() {
		key := r.Voter + "/" + r.Role
		assert.False(t, seen[key], "duplicate vote for %s", key)
		seen[key] = true
	}

	results := s.Results()
	assert.True(t, results.Consistent)
	assert.Equal(t, len(s.Ledger().History()), results.TotalVotes)
	assert.Equal(t, results.TotalVotes, results.Ballots)
}

func TestStableTallyOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "c1", "First", "Mayor")
	mustRegisterCandidate(t, s, "c2", "Second", "Mayor")
	mustRegisterCandidate(t, s, "c3", "Third", "Mayor")

	_, err := s.CastVote(ctx, "alice", "c3")
	require.NoError(t, err)

	var order []string
	for _, e := range s.Ledger().Tally() {
		order = append(order, e.CandidateID)
	}
	assert.Equal(t, []string{"c3", "c1", "c2"}, order)
}

func TestPercentage(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterVoter(t, s, "amir")
	mustRegisterVoter(t, s, "ann")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	mustRegisterCandidate(t, s, "carl", "Carl Diaz", "Mayor")

	pct, err := s.Ledger().Percentage("bob")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)

	for _, v := range []string{"alice", "amir"} {
		_, err := s.CastVote(ctx, v, "bob")
		require.NoError(t, err)
	}
	_, err = s.CastVote(ctx, "ann", "carl")
	require.NoError(t, err)

	pct, err = s.Ledger().Percentage("Bob Lee")
	require.NoError(t, err)
	assert.InDelta(t, 66.666, pct, 0.01)

	_, err = s.Ledger().Percentage("nobody")
	assert.ErrorIs(t, err, models.ErrCandidateNotFound)

	require.NoError(t, s.ResetElection(ctx))
	pct, err = s.Ledger().Percentage("bob")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)
}

func TestResetElection(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	_, err := s.CastVote(ctx, "alice", "bob")
	require.NoError(t, err)

	votersBefore := s.Registry().ListVoters()
	require.NoError(t, s.ResetElection(ctx))

	for _, e := range s.Ledger().Tally() {
		assert.Zero(t, e.Votes)
	}
	assert.Len(t, s.Ledger().Tally(), 1)
	assert.Empty(t, s.Ledger().History())
	assert.Equal(t, votersBefore, s.Registry().ListVoters())

	// A voter may vote again after a reset.
	_, err = s.CastVote(ctx, "alice", "bob")
	assert.NoError(t, err)
}

func TestCastVoteRollsBackOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newTestService(t, store, "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	store.FailSavesFor(storage.DocBallots, true)
	_, err := s.CastVote(ctx, "alice", "bob")
	require.Error(t, err)
	assert.True(t, models.IsFatal(err))
	assert.Empty(t, s.Ledger().History())
	assert.Equal(t, map[string]int{"Bob Lee": 0}, votesByName(s.Ledger().Tally()))

	store.FailSavesFor(storage.DocBallots, false)
	_, err = s.CastVote(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Bob Lee": 1}, votesByName(s.Ledger().Tally()))
}

func TestResetRollsBackOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newTestService(t, store, "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	_, err := s.CastVote(ctx, "alice", "bob")
	require.NoError(t, err)

	store.FailSaves(true)
	err = s.ResetElection(ctx)
	require.Error(t, err)
	assert.True(t, models.IsFatal(err))
	assert.Len(t, s.Ledger().History(), 1)
	assert.Equal(t, map[string]int{"Bob Lee": 1}, votesByName(s.Ledger().Tally()))
}

func TestRegisterCandidateUndoneWhenTallyWriteFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newTestService(t, store, "")

	store.FailSavesFor(storage.DocBallots, true)
	_, err := s.RegisterCandidate(ctx, candidateForm("bob", "Bob Lee", "Mayor"))
	require.Error(t, err)
	assert.True(t, models.IsFatal(err))

	_, err = s.Registry().Voter("bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, s.Ledger().Tally())
}

func TestDeleteCandidate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	mustRegisterCandidate(t, s, "carl", "Carl Diaz", "Mayor")
	_, err := s.CastVote(ctx, "alice", "bob")
	require.NoError(t, err)

	prev, err := s.DeleteCandidate(ctx, "Bob Lee")
	require.NoError(t, err)
	assert.Equal(t, "bob", prev.Username)

	v, err := s.Registry().Voter("bob")
	require.NoError(t, err)
	assert.False(t, v.IsCandidate)
	assert.Equal(t, map[string]int{"Carl Diaz": 0}, votesByName(s.Ledger().Tally()))

	// The vote record stays, so the counters no longer cover the history.
	assert.Len(t, s.Ledger().History(), 1)
	assert.False(t, s.Results().Consistent)

	// The recorded role still blocks a second Mayor vote.
	_, err = s.CastVote(ctx, "alice", "carl")
	var already *models.AlreadyVotedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, "Bob Lee", already.Candidate)

	_, err = s.DeleteCandidate(ctx, "Bob Lee")
	assert.ErrorIs(t, err, models.ErrCandidateNotFound)
}

func TestDeleteCandidateRestoredWhenTallyWriteFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newTestService(t, store, "")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	store.FailSavesFor(storage.DocBallots, true)
	_, err := s.DeleteCandidate(ctx, "bob")
	require.Error(t, err)

	role, err := s.Registry().FindRoleForCandidate("bob")
	require.NoError(t, err)
	assert.Equal(t, "Mayor", role)
	assert.Len(t, s.Ledger().Tally(), 1)
}

func TestDeleteVoterWithdrawsCandidacy(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	require.NoError(t, s.DeleteVoter(ctx, "bob"))
	assert.Empty(t, s.Ledger().Tally())
	_, err := s.Registry().Voter("bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentCastRecordsOneVote(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	mustRegisterCandidate(t, s, "carl", "Carl Diaz", "Mayor")

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := "bob"
			if i%2 == 1 {
				ref = "carl"
			}
			if _, err := s.CastVote(ctx, "alice", ref); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, s.Ledger().History(), 1)
	assert.True(t, s.Results().Consistent)
}

func TestVerifyReceipt(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, storage.NewMemoryStore(), "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	record, err := s.CastVote(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotEmpty(t, record.Receipt)

	found, err := s.Ledger().VerifyReceipt(record.Receipt)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)

	_, err = s.Ledger().VerifyReceipt("0xdeadbeef")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcileAddsMissingTallyEntries(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestService(t, store, "")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	// Simulate a crash between the registry and ballot writes.
	store.SetRaw(storage.DocBallots, []byte(`{"candidates":[{"id":"ghost","votes":0}],"history":[]}`))
	reopened := newTestService(t, store, "")

	var ids []string
	for _, e := range reopened.Ledger().Tally() {
		ids = append(ids, e.CandidateID)
	}
	assert.Equal(t, []string{"bob"}, ids)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	s := newTestService(t, store, "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	_, err = s.CastVote(ctx, "alice", "bob")
	require.NoError(t, err)

	reopened := newTestService(t, store, "")
	assert.Equal(t, map[string]int{"Bob Lee": 1}, votesByName(reopened.Ledger().Tally()))
	_, err = reopened.CastVote(ctx, "alice", "bob")
	assert.ErrorIs(t, err, models.ErrAlreadyVoted)
}

func TestExportResults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestService(t, storage.NewMemoryStore(), dir)
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")
	mustRegisterCandidate(t, s, "carl", "Carl Diaz", "Mayor")
	_, err := s.CastVote(ctx, "alice", "carl")
	require.NoError(t, err)

	path, err := s.ExportResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, "voting_results_20240615_120000.txt", filepath.Base(path))
	assert.Equal(t, dir, s.ExportDir())
	assert.Equal(t, s.ExportDir(), filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "Voting Results Summary\n" +
		"=====================\n\n" +
		"Carl Diaz: 1 votes (100.0%)\n" +
		"Bob Lee: 0 votes (0.0%)\n" +
		"\n\nVoting History\n" +
		"==============\n\n" +
		"2024-06-15 12:00:00: alice voted for Carl Diaz\n"
	assert.Equal(t, want, string(data))
}

func TestExportDisabled(t *testing.T) {
	s := newTestService(t, storage.NewMemoryStore(), "")
	_, err := s.ExportResults(context.Background())
	assert.ErrorIs(t, err, ErrExportDisabled)
	assert.Empty(t, s.ExportDir())
}

type fixedRoleDirectory struct {
	CandidateDirectory
	role string
	err  error
}

func (d fixedRoleDirectory) FindRoleForCandidate(string) (string, error) {
	return d.role, d.err
}

func TestCastVoteTakesRoleFromDirectory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newTestService(t, store, "")
	mustRegisterVoter(t, s, "alice")
	mustRegisterCandidate(t, s, "bob", "Bob Lee", "Mayor")

	crypto, err := encryption.NewCryptoService(encryption.SchemeBcrypt, bcrypt.MinCost)
	require.NoError(t, err)

	undetermined := fixedRoleDirectory{CandidateDirectory: s.Registry(), err: models.ErrRoleUndetermined}
	ledger, err := NewLedger(ctx, store, undetermined, crypto, LedgerOptions{Clock: models.FixedClock{T: testNow}})
	require.NoError(t, err)
	_, err = ledger.CastVote(ctx, "alice", "Bob Lee")
	assert.ErrorIs(t, err, models.ErrRoleUndetermined)
	assert.Empty(t, ledger.History())

	ledger, err = NewLedger(ctx, store, fixedRoleDirectory{CandidateDirectory: s.Registry(), role: "Governor"}, crypto,
		LedgerOptions{Clock: models.FixedClock{T: testNow}})
	require.NoError(t, err)
	record, err := ledger.CastVote(ctx, "alice", "Bob Lee")
	require.NoError(t, err)
	assert.Equal(t, "Governor", record.Role)
	assert.Equal(t, "bob", record.Candidate)
}

func ExampleElectionService_CastVote() {
	ctx := context.Background()
	crypto, _ := encryption.NewCryptoService(encryption.SchemeBcrypt, bcrypt.MinCost)
	s, _ := NewElectionService(ctx, storage.NewMemoryStore(), crypto, Options{
		ProvisionDefaultAdmin: true,
		Clock:                 models.FixedClock{T: testNow},
	})
	_, _ = s.RegisterVoter(ctx, voterForm("alice"))
	_, _ = s.RegisterCandidate(ctx, candidateForm("bob", "Bob Lee", "Mayor"))

	_, err := s.CastVote(ctx, "alice", "Bob Lee")
	fmt.Println(err)
	_, err = s.CastVote(ctx, "alice", "Bob Lee")
	fmt.Println(err)
	// Output:
	// <nil>
	// already voted for a Mayor: vote was cast for Bob Lee
}
