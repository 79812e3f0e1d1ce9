package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "ASSISTANT_ID", "ASSISTANT_ID_FILE", "OPENAI_BASE_URL",
		"PORT", "FRONTEND_URL", "CHAT_LOG_PATH", "RUN_POLL_INTERVAL", "RUN_TIMEOUT",
		"SESSION_STORE", "DB_PATH", "SESSION_TTL", "SESSION_MAX_ENTRIES",
		"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "MAX_REQUEST_BODY_SIZE",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	// Point the fallback at a file that does not exist unless a test writes it.
	t.Setenv("ASSISTANT_ID_FILE", filepath.Join(t.TempDir(), "assistant_id.txt"))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASSISTANT_ID", "asst_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "asst_123", cfg.OpenAI.AssistantID)
	assert.Equal(t, "chat_logs.txt", cfg.ChatLog)
	assert.Equal(t, time.Second, cfg.OpenAI.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.OpenAI.RunTimeout)
	assert.Equal(t, SessionStoreMemory, cfg.Session.Store)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadMissingAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASSISTANT_ID", "asst_123")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestLoadAssistantIDFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "assistant_id.txt")
	require.NoError(t, os.WriteFile(path, []byte("  asst_from_file \n"), 0o600))
	t.Setenv("ASSISTANT_ID_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "asst_from_file", cfg.OpenAI.AssistantID)
}

func TestLoadMissingAssistantIDEverywhere(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingAssistantID)
}

func TestLoadBlankAssistantIDFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "assistant_id.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\t "), 0o600))
	t.Setenv("ASSISTANT_ID_FILE", path)

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingAssistantID)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASSISTANT_ID", "asst_123")
	t.Setenv("SESSION_STORE", "redis")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASSISTANT_ID", "asst_123")
	t.Setenv("RUN_POLL_INTERVAL", "250ms")
	t.Setenv("RUN_TIMEOUT", "30s")
	t.Setenv("SESSION_TTL", "bogus")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.OpenAI.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.OpenAI.RunTimeout)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
}
