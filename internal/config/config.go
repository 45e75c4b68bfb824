package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the client configuration.
type Config struct {
	// ServerURL is the base URL of the discussion server API.
	ServerURL string
	// RealtimePath is the socket endpoint path on the server.
	RealtimePath string

	// Home is the directory where the client stores local state.
	Home string
	// AccessKey is the path to the access token file.
	AccessKey string

	// ConnectTimeout bounds a realtime connect attempt (advisory).
	ConnectTimeout time.Duration
	// TokenTTL is how long a fetched bearer token is reused.
	TokenTTL time.Duration

	// LogLevel is the logger verbosity ("trace".."error").
	LogLevel string
	// Debug enables verbose logging regardless of LogLevel.
	Debug bool
}

// Load loads configuration from a .env file (when present) and environment
// variables, with defaults.
func Load() (*Config, error) {
	// A missing .env file is fine; env vars still apply.
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	home := os.Getenv("PATTOOL_HOME_DIR")
	if home == "" {
		home = filepath.Join(homeDir, ".pattool")
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}

	serverURL := os.Getenv("PATTOOL_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	realtimePath := os.Getenv("PATTOOL_REALTIME_PATH")
	if realtimePath == "" {
		realtimePath = "/v1/updates"
	}

	connectTimeout, err := durationEnv("PATTOOL_CONNECT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := durationEnv("PATTOOL_TOKEN_TTL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1" ||
		os.Getenv("PATTOOL_DEBUG") == "true" || os.Getenv("PATTOOL_DEBUG") == "1"

	return &Config{
		ServerURL:      serverURL,
		RealtimePath:   realtimePath,
		Home:           home,
		AccessKey:      filepath.Join(home, "access.key"),
		ConnectTimeout: connectTimeout,
		TokenTTL:       tokenTTL,
		LogLevel:       os.Getenv("PATTOOL_LOG_LEVEL"),
		Debug:          debug,
	}, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return d, nil
}
