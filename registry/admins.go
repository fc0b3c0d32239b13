package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ballotbox/models"
	"ballotbox/storage"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

// loadAdmins reads the administrator store. An absent, unreadable or empty
// store is provisioned with the default administrator when provision is set;
// otherwise New fails until InitAdmin has run.
func (r *Registry) loadAdmins(ctx context.Context, provision bool) error {
	admins := models.AdminDocument{}
	found, err := r.store.Load(ctx, storage.DocAdmins, &admins)
	if err == nil && found && len(admins) > 0 {
		r.admins = admins
		return nil
	}
	if err != nil {
		r.logger.Warn("administrator store unreadable", "error", err)
	}
	if !provision {
		return models.Invalid("admins", "no administrator configured; run `ballotbox admin init`")
	}

	if _, taken := r.voters[DefaultAdminUsername]; taken {
		return models.Invalid("admins", fmt.Sprintf("default administrator %q collides with a voter; run `ballotbox admin init`", DefaultAdminUsername))
	}
	hash, err := r.hasher.HashPassword(DefaultAdminPassword)
	if err != nil {
		return err
	}
	next := models.AdminDocument{DefaultAdminUsername: hash}
	if err := r.store.Save(ctx, storage.DocAdmins, next); err != nil {
		return models.Persistence("provision admin", err)
	}
	r.admins = next
	r.logger.Warn("provisioned default administrator; change its password", "username", DefaultAdminUsername)
	return nil
}

// InitAdmin writes first-run administrator credentials. It refuses to touch a
// readable store that already holds administrators.
func InitAdmin(ctx context.Context, store storage.DocumentStore, hasher PasswordHasher, username, password string) error {
	username = strings.TrimSpace(username)
	if err := validateAdminCredentials(username, password); err != nil {
		return err
	}

	admins := models.AdminDocument{}
	found, err := store.Load(ctx, storage.DocAdmins, &admins)
	if err == nil && found && len(admins) > 0 {
		return models.Invalid("admins", "administrators already configured")
	}
	voters := models.VoterDocument{}
	if _, err := store.Load(ctx, storage.DocVoters, &voters); err != nil {
		return models.Persistence("load voters", err)
	}
	if _, ok := voters[username]; ok {
		return fmt.Errorf("%w: %s", models.ErrDuplicateUsername, username)
	}

	hash, err := hasher.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, storage.DocAdmins, models.AdminDocument{username: hash}); err != nil {
		return models.Persistence("init admin", err)
	}
	return nil
}

func validateAdminCredentials(username, password string) error {
	if len(username) < minAdminUsernameLen {
		return models.Invalid("username", fmt.Sprintf("must be at least %d characters", minAdminUsernameLen))
	}
	if len(password) < minAdminPasswordLen {
		return models.Invalid("password", fmt.Sprintf("must be at least %d characters", minAdminPasswordLen))
	}
	return nil
}

func (r *Registry) commitAdmins(ctx context.Context, op string, next models.AdminDocument) error {
	if err := r.store.Save(ctx, storage.DocAdmins, next); err != nil {
		r.logger.Error("failed to persist admins", "op", op, "error", err)
		return models.Persistence(op, err)
	}
	r.admins = next
	return nil
}

func (r *Registry) cloneAdmins() models.AdminDocument {
	next := make(models.AdminDocument, len(r.admins))
	for k, v := range r.admins {
		next[k] = v
	}
	return next
}

// verifyAdmin checks an acting administrator's password. Caller holds r.mu.
func (r *Registry) verifyAdmin(username, password string) error {
	hash, ok := r.admins[username]
	if !ok || !r.hasher.VerifyPassword(hash, password) {
		return fmt.Errorf("%w: current password is incorrect", models.ErrUnauthorized)
	}
	return nil
}

// CreateAdmin adds an administrator on behalf of acting, who must confirm
// with their own password.
func (r *Registry) CreateAdmin(ctx context.Context, acting, actingPassword, username, password string) error {
	username = strings.TrimSpace(username)
	if err := validateAdminCredentials(username, password); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.verifyAdmin(acting, actingPassword); err != nil {
		return err
	}
	if r.usernameTaken(username) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateUsername, username)
	}
	hash, err := r.hasher.HashPassword(password)
	if err != nil {
		return err
	}
	next := r.cloneAdmins()
	next[username] = hash
	if err := r.commitAdmins(ctx, "create admin", next); err != nil {
		return err
	}
	r.logger.Info("administrator created", "username", username, "by", acting)
	return nil
}

func (r *Registry) ChangeAdminPassword(ctx context.Context, username, current, newPassword string) error {
	if len(newPassword) < minAdminPasswordLen {
		return models.Invalid("password", fmt.Sprintf("must be at least %d characters", minAdminPasswordLen))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.verifyAdmin(username, current); err != nil {
		return err
	}
	hash, err := r.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}
	next := r.cloneAdmins()
	next[username] = hash
	if err := r.commitAdmins(ctx, "change admin password", next); err != nil {
		return err
	}
	r.logger.Info("administrator password changed", "username", username)
	return nil
}

func (r *Registry) RenameAdmin(ctx context.Context, username, current, newUsername string) error {
	newUsername = strings.TrimSpace(newUsername)
	if len(newUsername) < minAdminUsernameLen {
		return models.Invalid("username", fmt.Sprintf("must be at least %d characters", minAdminUsernameLen))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.verifyAdmin(username, current); err != nil {
		return err
	}
	if newUsername != username && r.usernameTaken(newUsername) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateUsername, newUsername)
	}
	next := r.cloneAdmins()
	hash := next[username]
	delete(next, username)
	next[newUsername] = hash
	if err := r.commitAdmins(ctx, "rename admin", next); err != nil {
		return err
	}
	r.logger.Info("administrator renamed", "from", username, "to", newUsername)
	return nil
}

// Admins lists administrator usernames.
func (r *Registry) Admins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.admins))
	for name := range r.admins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
