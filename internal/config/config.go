// Package config loads daemon settings from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/neurosense/decoder/internal/store"
)

// Defaults.
const (
	DefaultHTTPAddr       = "127.0.0.1:8335"
	DefaultQuietWindow    = 500 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds everything the daemon needs at startup.
type Config struct {
	// GeminiAPIKey authenticates analysis calls. Required for the daemon,
	// optional for commands that never analyze.
	GeminiAPIKey string

	// HTTPAddr is the daemon's listen address for the web surface and the
	// page websocket.
	HTTPAddr string

	// DataDir holds persisted preferences.
	DataDir string

	// QuietWindow is the mutation debounce period.
	QuietWindow time.Duration

	// RequestTimeout bounds each cross-context request.
	RequestTimeout time.Duration

	// FirstPartyHosts are our own domains; pages on them get the installed
	// marker instead of chat detection.
	FirstPartyHosts []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is folded in first if present; a missing file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	dataDir := os.Getenv("DECODER_DATA_DIR")
	if dataDir == "" {
		dataDir = store.DefaultDataDir()
	}

	cfg := Config{
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		HTTPAddr:        envOr("DECODER_HTTP_ADDR", DefaultHTTPAddr),
		DataDir:         dataDir,
		QuietWindow:     DefaultQuietWindow,
		RequestTimeout:  DefaultRequestTimeout,
		FirstPartyHosts: splitHosts(envOr("DECODER_FIRST_PARTY_HOSTS", "neurosense.app")),
	}

	if raw := os.Getenv("DECODER_DEBOUNCE_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid DECODER_DEBOUNCE_MS %q", raw)
		}
		cfg.QuietWindow = time.Duration(ms) * time.Millisecond
	}
	if raw := os.Getenv("DECODER_REQUEST_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid DECODER_REQUEST_TIMEOUT %q", raw)
		}
		cfg.RequestTimeout = d
	}

	return cfg, nil
}

// RequireAPIKey returns an error when no Gemini key is configured.
func (c Config) RequireAPIKey() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}
