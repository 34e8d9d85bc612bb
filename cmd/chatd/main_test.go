package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { configFile = "" })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommandMasksSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: \"0123456789abcdef0123456789abcdef\"\n"), 0644))

	out, err := run(t, "config", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "jwt_secret")
	assert.NotContains(t, out, "0123456789abcdef0123456789abcdef")
}

func TestConfigCommandRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0644))

	_, err := run(t, "config", "-c", path)
	require.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatd.yaml")
	content := "auth:\n  jwt_secret: \"0123456789abcdef0123456789abcdef\"\n" +
		"log:\n  level: error\n" +
		"database:\n  driver: sqlite\n  dsn: \"" + filepath.Join(dir, "chatd.db") + "\"\n  log_level: silent\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := run(t, "migrate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite database")
	assert.FileExists(t, filepath.Join(dir, "chatd.db"))
}

func TestWatchRequiresRedis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: \"0123456789abcdef0123456789abcdef\"\n"), 0644))

	_, err := run(t, "watch", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
