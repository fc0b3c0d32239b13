package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const voterYAML = `
username: alice
password: secret1
confirm_password: secret1
full_name: Alice Smith
date_of_birth: "1994-01-01"
national_id: ID-1
phone: 555-0100
email: alice@example.com
address:
  street: 1 Main St
  city: Springfield
  state: IL
  postal_code: "62701"
  country: US
occupation: Engineer
gender: F
`

const candidateYAML = `
username: bob
password: secret1
confirm_password: secret1
full_name: Bob Lee
date_of_birth: "1980-01-01"
national_id: ID-2
phone: 555-0101
email: bob@example.com
address:
  street: 2 Main St
  city: Springfield
  state: IL
  postal_code: "62701"
  country: US
gender: M
candidate:
  party: Civic
  current_position: Councillor
  desired_position: Mayor
  term_length: 4 years
  education: BA
  experience: 10 years
  platform: Parks
  promises: More parks
  political_experience: Council
  vision: Green city
`

func setupEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BALLOTBOX_DATA_DIR", dataDir)
	t.Setenv("BALLOTBOX_PASSWORD_SCHEME", "sha256")
	return dataDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeForm(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "form.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadForm(t *testing.T) {
	form, err := loadForm(writeForm(t, candidateYAML))
	require.NoError(t, err)
	assert.Equal(t, "Bob Lee", form.FullName)
	require.NotNil(t, form.Candidate)
	assert.Equal(t, "Mayor", form.Candidate.DesiredPosition)
	assert.Equal(t, "62701", form.Address.PostalCode)

	_, err = loadForm(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestElectionWorkflow(t *testing.T) {
	dataDir := setupEnv(t)

	out, err := run(t, "register", "voter", "--form", writeForm(t, voterYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "Registered voter alice")

	_, err = run(t, "register", "candidate", "--form", writeForm(t, candidateYAML))
	require.NoError(t, err)

	out, err = run(t, "vote", "--voter", "alice", "--password", "secret1", "--candidate", "Bob Lee")
	require.NoError(t, err)
	assert.Contains(t, out, "Vote recorded for Bob Lee (Mayor)")

	_, err = run(t, "vote", "--voter", "alice", "--password", "secret1", "--candidate", "bob")
	assert.ErrorContains(t, err, "already voted for a Mayor")

	_, err = run(t, "vote", "--voter", "alice", "--password", "wrong", "--candidate", "bob")
	assert.Error(t, err)

	out, err = run(t, "results")
	require.NoError(t, err)
	assert.Contains(t, out, "Bob Lee")
	assert.Contains(t, out, "100.0%")

	out, err = run(t, "export", "--admin-password", "admin123")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dataDir, "exports"))

	_, err = run(t, "reset", "--admin-password", "admin123")
	assert.ErrorContains(t, err, "--yes")
	_, err = run(t, "reset", "--admin-password", "admin123", "--yes")
	require.NoError(t, err)

	_, err = run(t, "vote", "--voter", "alice", "--password", "secret1", "--candidate", "bob")
	assert.NoError(t, err)
}

func TestAdminCommands(t *testing.T) {
	setupEnv(t)
	t.Setenv("BALLOTBOX_PROVISION_DEFAULT_ADMIN", "false")

	_, err := run(t, "results")
	assert.ErrorContains(t, err, "admin init")

	_, err = run(t, "admin", "init", "--username", "root", "--password", "rootpass1")
	require.NoError(t, err)
	_, err = run(t, "admin", "init", "--username", "other", "--password", "otherpass1")
	assert.Error(t, err)

	_, err = run(t, "admin", "passwd", "--username", "root", "--current", "rootpass1", "--new", "rootpass2")
	require.NoError(t, err)

	_, err = run(t, "admin", "add", "--admin", "root", "--admin-password", "rootpass2",
		"--username", "deputy", "--password", "deputypass1")
	require.NoError(t, err)

	out, err := run(t, "admin", "rename", "--admin", "deputy", "--admin-password", "deputypass1", "--to", "second")
	require.NoError(t, err)
	assert.Contains(t, out, "renamed to second")

	_, err = run(t, "reset", "--admin", "second", "--admin-password", "deputypass1", "--yes")
	assert.NoError(t, err)
}
