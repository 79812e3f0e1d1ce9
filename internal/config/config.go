// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingAPIKey is returned when OPENAI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not found in environment or .env file")
	// ErrMissingAssistantID is returned when no assistant ID is found in the
	// environment nor in the fallback file.
	ErrMissingAssistantID = errors.New("ASSISTANT_ID not found in environment nor in assistant id file")
)

const (
	SessionStoreMemory = "memory"
	SessionStoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	OpenAI    OpenAIConfig
	ChatLog   string // append-only THREAD_ID/RUN_ID log file
	Session   SessionConfig
	RateLimit RateLimitConfig

	MaxRequestBodySize int64
}

// OpenAIConfig holds the remote assistant credentials and polling limits.
type OpenAIConfig struct {
	APIKey          string
	AssistantID     string
	AssistantIDFile string
	BaseURL         string
	PollInterval    time.Duration
	RunTimeout      time.Duration
}

// SessionConfig controls where per-browser session state lives.
type SessionConfig struct {
	Store      string
	DBPath     string
	TTL        time.Duration
	MaxEntries int
}

// RateLimitConfig controls per-session request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		OpenAI: OpenAIConfig{
			APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			AssistantID:     strings.TrimSpace(os.Getenv("ASSISTANT_ID")),
			AssistantIDFile: getEnv("ASSISTANT_ID_FILE", "assistant_id.txt"),
			BaseURL:         getEnv("OPENAI_BASE_URL", ""),
			PollInterval:    getEnvDuration("RUN_POLL_INTERVAL", time.Second),
			RunTimeout:      getEnvDuration("RUN_TIMEOUT", 2*time.Minute),
		},
		ChatLog: getEnv("CHAT_LOG_PATH", "chat_logs.txt"),
		Session: SessionConfig{
			Store:      strings.ToLower(getEnv("SESSION_STORE", SessionStoreMemory)),
			DBPath:     getEnv("DB_PATH", "./data/sessions.db"),
			TTL:        getEnvDuration("SESSION_TTL", 12*time.Hour),
			MaxEntries: getEnvInt("SESSION_MAX_ENTRIES", 10000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if cfg.OpenAI.AssistantID == "" {
		id, err := readAssistantIDFile(cfg.OpenAI.AssistantIDFile)
		if err != nil {
			return nil, err
		}
		cfg.OpenAI.AssistantID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func readAssistantIDFile(path string) (string, error) {
	if path == "" {
		return "", ErrMissingAssistantID
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMissingAssistantID
		}
		return "", fmt.Errorf("read assistant id file %s: %w", path, err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrMissingAssistantID
	}
	return id, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.OpenAI.AssistantID == "" {
		return ErrMissingAssistantID
	}
	if c.OpenAI.PollInterval <= 0 {
		return fmt.Errorf("RUN_POLL_INTERVAL must be > 0")
	}
	if c.OpenAI.RunTimeout < c.OpenAI.PollInterval {
		return fmt.Errorf("RUN_TIMEOUT must be >= RUN_POLL_INTERVAL")
	}
	if c.ChatLog == "" {
		return fmt.Errorf("CHAT_LOG_PATH cannot be empty")
	}
	switch c.Session.Store {
	case SessionStoreMemory:
		if c.Session.MaxEntries <= 0 {
			return fmt.Errorf("SESSION_MAX_ENTRIES must be > 0")
		}
	case SessionStoreSQLite:
		if c.Session.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStoreMemory, SessionStoreSQLite, c.Session.Store)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
