package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/chatd/pkg/errors"
)

const testYAML = `
server:
  addr: ":8080"
  shutdown_timeout: 5s
log:
  level: info
message_cache:
  max_messages: 50
  ttl: 1h
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "chatd.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, ":8080", c.GetString("server.addr"))
	assert.Equal(t, 5*time.Second, c.GetDuration("server.shutdown_timeout"))
	assert.Equal(t, 50, c.GetInt("message_cache.max_messages"))
	assert.Equal(t, cfgPath, c.ConfigFileUsed())
}

func TestLoadByNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "chatd.yaml", testYAML)

	c := New(WithConfigName("chatd"), WithConfigType("yaml"), WithConfigPaths(dir))
	require.NoError(t, c.Load())
	assert.Equal(t, "info", c.GetString("log.level"))
}

func TestConfigFileNotFound(t *testing.T) {
	c := New(WithConfigName("missing"), WithConfigPaths(t.TempDir()))
	err := c.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestOptionalFileFallsBackToDefaults(t *testing.T) {
	c := New(
		WithConfigName("missing"),
		WithConfigPaths(t.TempDir()),
		WithOptionalFile(),
		WithDefaults(map[string]any{"server.addr": ":9000"}),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, ":9000", c.GetString("server.addr"))
}

func TestEnvOverride(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "chatd.yaml", testYAML)
	t.Setenv("CHATD_LOG_LEVEL", "debug")

	c := New(WithConfigFile(cfgPath), WithEnvPrefix("CHATD"))
	require.NoError(t, c.Load())
	assert.Equal(t, "debug", c.GetString("log.level"))
}

func TestUnmarshalKey(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "chatd.yaml", testYAML)
	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var mc struct {
		MaxMessages int           `mapstructure:"max_messages"`
		TTL         time.Duration `mapstructure:"ttl"`
	}
	require.NoError(t, c.UnmarshalKey("message_cache", &mc))
	assert.Equal(t, 50, mc.MaxMessages)
	assert.Equal(t, time.Hour, mc.TTL)
}

func TestWatchTriggersOnChange(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "chatd.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	changed := make(chan Event, 1)
	c.OnChange(func(e Event) {
		select {
		case changed <- e:
		default:
		}
	})
	c.Watch()
	c.Watch()

	updated := `
log:
  level: error
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(updated), 0644))

	select {
	case e := <-changed:
		assert.Equal(t, filepath.Clean(cfgPath), filepath.Clean(e.Name))
		assert.Equal(t, "error", c.GetString("log.level"))
	case <-time.After(3 * time.Second):
		t.Fatal("change callback was not triggered")
	}
}
