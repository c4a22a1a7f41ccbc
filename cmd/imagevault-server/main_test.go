package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "imagevault server dev")
}

func TestRun_RequiresSecret(t *testing.T) {
	t.Setenv("IMAGEVAULT_AUTH_JWT_SECRET", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "vault.db") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := runCmd(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func TestRun_RejectsArgs(t *testing.T) {
	_, err := runCmd(t, "serve-now")
	assert.Error(t, err)
}

func TestRun_MissingConfigFile(t *testing.T) {
	_, err := runCmd(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
