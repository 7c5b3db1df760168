// ABOUTME: Tests for the endobot command helpers
// ABOUTME: Covers logger setup, health URLs, token minting and config generation

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomifer13/EndoBot/internal/auth"
	"github.com/tomifer13/EndoBot/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	logger.Info("hidden")
	logger.With("component", "test").Warn("shown", "n", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "test", rec["component"])
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	logger.With("component", "bridge").WithGroup("req").Debug("tick", "id", "abc")

	out := buf.String()
	assert.Contains(t, out, "DBG")
	assert.Contains(t, out, "tick")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "bridge")
	assert.Contains(t, out, "req.id=")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://localhost:8080/health",
		"0.0.0.0:9000":   "http://localhost:9000/health",
		"127.0.0.1:8080": "http://127.0.0.1:8080/health",
		"[::]:8080":      "http://localhost:8080/health",
		"example.test":   "http://example.test/health",
	}
	for addr, want := range tests {
		assert.Equal(t, want, healthURL(addr), addr)
	}
}

func TestMintToken(t *testing.T) {
	secret := strings.Repeat("z", 32)
	token, err := mintToken(secret, "ops", time.Hour)
	require.NoError(t, err)

	v, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	sub, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	_, err = mintToken("short", "ops", time.Hour)
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestRunTokenRequiresSubject(t *testing.T) {
	err := runToken(nil)
	assert.EqualError(t, err, "--sub is required")
}

func TestRunInitWritesLoadableConfig(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "OPENAI_WORKFLOW_ID", "CHATKIT_WORKFLOW_ID", "ENDOBOT_DB_PATH", "VERCEL", "CHATKIT_API_BASE", "PM_DATABASE_URL_RO", "OPENAI_WORKFLOW_VERSION"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "config.yaml")
	dbPath := filepath.Join(dir, "data", "endobot.db")

	answers := strings.Join([]string{
		cfgPath,
		"127.0.0.1:9999",
		dbPath,
		"wf_init",
		"complete",
		"debug",
		"json",
	}, "\n") + "\n"

	require.NoError(t, runInit(strings.NewReader(answers)))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTPAddr)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "wf_init", cfg.Upstream.WorkflowID)
	assert.Equal(t, "complete", cfg.Upstream.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 720*time.Hour, cfg.Session.MaxAge)

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}
