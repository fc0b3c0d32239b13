package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"ballotbox/models"
	"ballotbox/storage"
)

// PasswordHasher is the one-way hashing primitive the registry stores
// credentials with.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hash, password string) bool
}

type Options struct {
	MinVoterAge           int
	MinCandidateAge       int
	ProvisionDefaultAdmin bool
	Clock                 models.Clock
	Logger                *slog.Logger
}

// Registry owns voter, candidate and administrator records. Every mutation
// persists the full next state before it becomes visible.
type Registry struct {
	store  storage.DocumentStore
	hasher PasswordHasher
	clock  models.Clock
	logger *slog.Logger

	minVoterAge     int
	minCandidateAge int

	mu     sync.RWMutex
	voters models.VoterDocument
	admins models.AdminDocument
}

func New(ctx context.Context, store storage.DocumentStore, hasher PasswordHasher, opts Options) (*Registry, error) {
	r := &Registry{
		store:           store,
		hasher:          hasher,
		clock:           opts.Clock,
		logger:          opts.Logger,
		minVoterAge:     opts.MinVoterAge,
		minCandidateAge: opts.MinCandidateAge,
	}
	if r.clock == nil {
		r.clock = models.SystemClock{}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.logger = r.logger.With("component", "registry")
	if r.minVoterAge == 0 {
		r.minVoterAge = DefaultMinVoterAge
	}
	if r.minCandidateAge == 0 {
		r.minCandidateAge = DefaultMinCandidateAge
	}

	voters := models.VoterDocument{}
	if _, err := store.Load(ctx, storage.DocVoters, &voters); err != nil {
		return nil, models.Persistence("load voters", err)
	}
	for username, v := range voters {
		if v == nil {
			delete(voters, username)
			continue
		}
		v.Username = username
	}
	r.voters = voters

	if err := r.loadAdmins(ctx, opts.ProvisionDefaultAdmin); err != nil {
		return nil, err
	}
	r.logger.Info("registry loaded", "voters", len(r.voters), "admins", len(r.admins))
	return r, nil
}

func (r *Registry) usernameTaken(username string) bool {
	if _, ok := r.voters[username]; ok {
		return true
	}
	_, ok := r.admins[username]
	return ok
}

// commitVoters persists next and swaps it in. Caller holds r.mu.
func (r *Registry) commitVoters(ctx context.Context, op string, next models.VoterDocument) error {
	if err := r.store.Save(ctx, storage.DocVoters, next); err != nil {
		r.logger.Error("failed to persist voters", "op", op, "error", err)
		return models.Persistence(op, err)
	}
	r.voters = next
	return nil
}

func (r *Registry) cloneVoters() models.VoterDocument {
	next := make(models.VoterDocument, len(r.voters))
	for k, v := range r.voters {
		next[k] = v
	}
	return next
}

func (r *Registry) RegisterVoter(ctx context.Context, form models.RegistrationForm) (models.VoterRecord, error) {
	fields := append(personalFields(&form), addressFields(&form.Address)...)
	fields = append(fields, field{"occupation", form.Occupation})
	if err := requireFields(fields...); err != nil {
		return models.VoterRecord{}, err
	}
	return r.register(ctx, form, nil, r.minVoterAge)
}

func (r *Registry) RegisterCandidate(ctx context.Context, form models.RegistrationForm) (models.VoterRecord, error) {
	if err := requireFields(append(personalFields(&form), addressFields(&form.Address)...)...); err != nil {
		return models.VoterRecord{}, err
	}
	if form.Candidate == nil {
		return models.VoterRecord{}, models.Invalid("candidate", "campaign details are required")
	}
	if err := requireFields(campaignFields(form.Candidate)...); err != nil {
		return models.VoterRecord{}, err
	}
	profile := trimProfile(*form.Candidate)
	return r.register(ctx, form, &profile, r.minCandidateAge)
}

func (r *Registry) register(ctx context.Context, form models.RegistrationForm, profile *models.CandidateProfile, minAge int) (models.VoterRecord, error) {
	username := strings.TrimSpace(form.Username)
	if form.Password != form.ConfirmPassword {
		return models.VoterRecord{}, models.Invalid("confirm_password", "passwords do not match")
	}
	email := strings.TrimSpace(form.Email)
	if err := validateEmail(email); err != nil {
		return models.VoterRecord{}, err
	}
	dob, err := r.checkAge(form.DateOfBirth, minAge)
	if err != nil {
		return models.VoterRecord{}, err
	}
	hash, err := r.hasher.HashPassword(form.Password)
	if err != nil {
		return models.VoterRecord{}, err
	}

	record := &models.VoterRecord{
		Username:         username,
		PasswordHash:     hash,
		FullName:         strings.TrimSpace(form.FullName),
		DateOfBirth:      dob,
		NationalID:       strings.TrimSpace(form.NationalID),
		Phone:            strings.TrimSpace(form.Phone),
		Email:            email,
		Address:          trimAddress(form.Address),
		Gender:           strings.TrimSpace(form.Gender),
		IsCandidate:      profile != nil,
		Candidate:        profile,
		RegistrationDate: models.NewTimestamp(r.clock.Now()),
	}
	if profile == nil {
		record.Occupation = strings.TrimSpace(form.Occupation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.usernameTaken(username) {
		return models.VoterRecord{}, fmt.Errorf("%w: %s", models.ErrDuplicateUsername, username)
	}
	next := r.cloneVoters()
	next[username] = record
	if err := r.commitVoters(ctx, "register", next); err != nil {
		return models.VoterRecord{}, err
	}
	r.logger.Info("registered", "username", username, "candidate", record.IsCandidate)
	return record.Public(), nil
}

// Authenticate checks credentials for the given login role.
func (r *Registry) Authenticate(_ context.Context, username, password, role string) (models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch role {
	case models.LoginAdmin:
		hash, ok := r.admins[username]
		if !ok || !r.hasher.VerifyPassword(hash, password) {
			return models.Principal{}, models.ErrUnauthorized
		}
		return models.Principal{Username: username, Role: role}, nil
	case models.LoginVoter, models.LoginCandidate:
		v, ok := r.voters[username]
		if !ok || !r.hasher.VerifyPassword(v.PasswordHash, password) {
			return models.Principal{}, models.ErrUnauthorized
		}
		if role == models.LoginCandidate && !v.IsCandidate {
			return models.Principal{}, fmt.Errorf("%w: %s is not a registered candidate", models.ErrUnauthorized, username)
		}
		return models.Principal{Username: username, Role: role, FullName: v.FullName}, nil
	default:
		return models.Principal{}, models.Invalid("role", fmt.Sprintf("unknown login role %q", role))
	}
}

// Voter returns a copy of the record without its password hash.
func (r *Registry) Voter(username string) (models.VoterRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.voters[username]
	if !ok {
		return models.VoterRecord{}, fmt.Errorf("voter %s: %w", username, models.ErrNotFound)
	}
	return v.Public(), nil
}

func (r *Registry) EditVoter(ctx context.Context, username string, patch models.VoterPatch) (models.VoterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.voters[username]
	if !ok {
		return models.VoterRecord{}, fmt.Errorf("voter %s: %w", username, models.ErrNotFound)
	}
	updated := *current
	if current.Candidate != nil {
		profile := *current.Candidate
		updated.Candidate = &profile
	}

	if patch.FullName != nil {
		name := strings.TrimSpace(*patch.FullName)
		if name == "" {
			return models.VoterRecord{}, models.Invalid("full_name", "is required")
		}
		updated.FullName = name
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if err := validateEmail(email); err != nil {
			return models.VoterRecord{}, err
		}
		updated.Email = email
	}
	if patch.Phone != nil {
		updated.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Address != nil {
		address := trimAddress(*patch.Address)
		if err := requireFields(addressFields(&address)...); err != nil {
			return models.VoterRecord{}, err
		}
		updated.Address = address
	}
	if patch.Occupation != nil {
		updated.Occupation = strings.TrimSpace(*patch.Occupation)
	}
	if patch.Gender != nil {
		updated.Gender = strings.TrimSpace(*patch.Gender)
	}
	if patch.Password != nil && *patch.Password != "" {
		if err := validatePassword(*patch.Password); err != nil {
			return models.VoterRecord{}, err
		}
		hash, err := r.hasher.HashPassword(*patch.Password)
		if err != nil {
			return models.VoterRecord{}, err
		}
		updated.PasswordHash = hash
	}
	if patch.Candidate != nil {
		if !current.IsCandidate {
			return models.VoterRecord{}, models.Invalid("candidate", fmt.Sprintf("%s is not a candidate", username))
		}
		profile := trimProfile(*patch.Candidate)
		if err := requireFields(campaignFields(&profile)...); err != nil {
			return models.VoterRecord{}, err
		}
		updated.Candidate = &profile
	}

	next := r.cloneVoters()
	next[username] = &updated
	if err := r.commitVoters(ctx, "edit voter", next); err != nil {
		return models.VoterRecord{}, err
	}
	r.logger.Info("voter updated", "username", username)
	return updated.Public(), nil
}

func (r *Registry) DeleteVoter(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.voters[username]; !ok {
		return fmt.Errorf("voter %s: %w", username, models.ErrNotFound)
	}
	next := r.cloneVoters()
	delete(next, username)
	if err := r.commitVoters(ctx, "delete voter", next); err != nil {
		return err
	}
	r.logger.Info("voter deleted", "username", username)
	return nil
}

// ClearCandidacy drops the candidate flag and profile of the candidate ref
// resolves to. The voter record itself is kept.
func (r *Registry) ClearCandidacy(ctx context.Context, ref string) (models.VoterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate, err := r.resolveCandidate(ref)
	if err != nil {
		return models.VoterRecord{}, err
	}
	previous := candidate.Public()
	updated := *candidate
	updated.IsCandidate = false
	updated.Candidate = nil

	next := r.cloneVoters()
	next[updated.Username] = &updated
	if err := r.commitVoters(ctx, "clear candidacy", next); err != nil {
		return models.VoterRecord{}, err
	}
	r.logger.Info("candidacy cleared", "username", updated.Username)
	return previous, nil
}

// RestoreCandidacy reinstates a profile removed by ClearCandidacy. It is the
// compensation step when the paired ledger write fails.
func (r *Registry) RestoreCandidacy(ctx context.Context, username string, profile models.CandidateProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.voters[username]
	if !ok {
		return fmt.Errorf("voter %s: %w", username, models.ErrNotFound)
	}
	updated := *v
	updated.IsCandidate = true
	updated.Candidate = &profile
	next := r.cloneVoters()
	next[username] = &updated
	return r.commitVoters(ctx, "restore candidacy", next)
}

// ChangePassword replaces a voter's password after checking the current one.
func (r *Registry) ChangePassword(ctx context.Context, username, current, newPassword, confirm string) error {
	if newPassword != confirm {
		return models.Invalid("confirm_password", "new passwords do not match")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.voters[username]
	if !ok {
		return fmt.Errorf("voter %s: %w", username, models.ErrNotFound)
	}
	if !r.hasher.VerifyPassword(v.PasswordHash, current) {
		return fmt.Errorf("%w: current password is incorrect", models.ErrUnauthorized)
	}
	hash, err := r.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}
	updated := *v
	updated.PasswordHash = hash
	next := r.cloneVoters()
	next[username] = &updated
	if err := r.commitVoters(ctx, "change password", next); err != nil {
		return err
	}
	r.logger.Info("password changed", "username", username)
	return nil
}

// resolveCandidate finds a candidate by username, then by exact full name.
// Caller holds r.mu.
func (r *Registry) resolveCandidate(ref string) (*models.VoterRecord, error) {
	ref = strings.TrimSpace(ref)
	if v, ok := r.voters[ref]; ok && v.IsCandidate {
		return v, nil
	}
	var match *models.VoterRecord
	for _, v := range r.voters {
		if !v.IsCandidate || v.FullName != ref {
			continue
		}
		if match != nil {
			return nil, models.Invalid("candidate", fmt.Sprintf("%q matches more than one candidate; use the username", ref))
		}
		match = v
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrCandidateNotFound, ref)
	}
	return match, nil
}

// Candidate resolves ref to a candidate record.
func (r *Registry) Candidate(ref string) (models.VoterRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.resolveCandidate(ref)
	if err != nil {
		return models.VoterRecord{}, err
	}
	return v.Public(), nil
}

// FindRoleForCandidate returns the contested role of the candidate ref names.
func (r *Registry) FindRoleForCandidate(ref string) (string, error) {
	c, err := r.Candidate(ref)
	if err != nil {
		return "", err
	}
	role := c.Role()
	if role == "" {
		return "", fmt.Errorf("%w: %s", models.ErrRoleUndetermined, c.Username)
	}
	return role, nil
}

// ListVoters returns all records ordered by username.
func (r *Registry) ListVoters() []models.VoterRecord {
	return r.filter(func(*models.VoterRecord) bool { return true })
}

func (r *Registry) ListCandidates() []models.VoterRecord {
	return r.filter(func(v *models.VoterRecord) bool { return v.IsCandidate })
}

// SearchVoters matches non-candidates by username or full name.
func (r *Registry) SearchVoters(query string) []models.VoterRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.filter(func(v *models.VoterRecord) bool {
		if v.IsCandidate {
			return false
		}
		return strings.Contains(strings.ToLower(v.Username), q) ||
			strings.Contains(strings.ToLower(v.FullName), q)
	})
}

// SearchCandidates matches candidates by full name or party.
func (r *Registry) SearchCandidates(query string) []models.VoterRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.filter(func(v *models.VoterRecord) bool {
		if !v.IsCandidate {
			return false
		}
		return strings.Contains(strings.ToLower(v.FullName), q) ||
			strings.Contains(strings.ToLower(v.Party()), q)
	})
}

func (r *Registry) filter(keep func(*models.VoterRecord) bool) []models.VoterRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.VoterRecord, 0, len(r.voters))
	for _, v := range r.voters {
		if keep(v) {
			out = append(out, v.Public())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func trimProfile(p models.CandidateProfile) models.CandidateProfile {
	return models.CandidateProfile{
		Party:               strings.TrimSpace(p.Party),
		CurrentPosition:     strings.TrimSpace(p.CurrentPosition),
		DesiredPosition:     strings.TrimSpace(p.DesiredPosition),
		TermLength:          strings.TrimSpace(p.TermLength),
		Education:           strings.TrimSpace(p.Education),
		Experience:          strings.TrimSpace(p.Experience),
		Platform:            strings.TrimSpace(p.Platform),
		Promises:            strings.TrimSpace(p.Promises),
		PoliticalExperience: strings.TrimSpace(p.PoliticalExperience),
		Vision:              strings.TrimSpace(p.Vision),
	}
}
