package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: "info", Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{Level: "warn", File: filepath.Join(dir, "file.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "rotate.log")}}},
		{name: "bad level", config: &Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_ = l.Sync()
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSetLevelIsShared(t *testing.T) {
	l, err := New(&Config{Level: "info", Console: true})
	require.NoError(t, err)

	child := l.With(zap.String("component", "hub"))
	l.SetLevel(ErrorLevel)

	assert.Equal(t, ErrorLevel, l.Level())
	assert.Equal(t, ErrorLevel, child.Level())
}

func TestContextFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	l, err := New(&Config{Level: "debug", Format: JSONFormat, File: path, DisableCaller: true})
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUID(ctx, 7)
	ctx = WithRoomID(ctx, 3)
	ctx = WithConnID(ctx, "conn_1")

	l.InfoContext(ctx, "joined", zap.String("extra", "x"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.EqualValues(t, 7, entry["uid"])
	assert.EqualValues(t, 3, entry["room_id"])
	assert.Equal(t, "conn_1", entry["conn_id"])
	assert.Equal(t, "x", entry["extra"])
	assert.Equal(t, "trace-1", TraceIDFromContext(ctx))
}
