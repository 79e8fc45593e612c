// Package store persists the user's language preference across sessions.
// The preference is a convenience, not correctness-critical state, so writes
// are best-effort: a failed write is logged and swallowed, never surfaced.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neurosense/decoder/internal/lang"
)

// fileName is the preference file name. The "language" key inside it must
// stay stable across versions or users silently lose their preference.
const fileName = "preferences.json"

// prefFile is the on-disk JSON structure.
type prefFile struct {
	Version   int       `json:"version"`
	Language  lang.Code `json:"language"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preferences is a file-backed store for the user's language preference.
type Preferences struct {
	mu   sync.RWMutex
	path string
}

// NewPreferences creates a preference store rooted at dataDir. The directory
// is created lazily on first write.
func NewPreferences(dataDir string) *Preferences {
	return &Preferences{path: filepath.Join(dataDir, fileName)}
}

// DefaultDataDir returns the per-user data directory for decoder state.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "decoder")
	}
	return filepath.Join(os.TempDir(), "decoder")
}

// Language returns the persisted language if present and valid against the
// supported set, else the fixed default. Read errors are treated the same as
// an absent file.
func (p *Preferences) Language() lang.Code {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pf, err := p.load()
	if err != nil {
		slog.Warn("could not read language preference", "path", p.path, "error", err)
		return lang.Default
	}
	if pf == nil || !lang.Supported(pf.Language) {
		return lang.Default
	}
	return pf.Language
}

// SetLanguage persists the user's language choice. Unsupported codes are
// rejected; persistence failures are logged and swallowed.
func (p *Preferences) SetLanguage(code lang.Code) error {
	if !lang.Supported(code) {
		return fmt.Errorf("unsupported language code %q", code)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pf := &prefFile{Version: 1, Language: code, UpdatedAt: time.Now()}
	if err := p.save(pf); err != nil {
		slog.Warn("could not save language preference", "path", p.path, "error", err)
	}
	return nil
}

// load reads the preference file. Returns nil with no error if it doesn't exist.
func (p *Preferences) load() (*prefFile, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read preference file: %w", err)
	}

	var pf prefFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse preference file: %w", err)
	}
	return &pf, nil
}

// save writes the preference file atomically via temp file + rename.
func (p *Preferences) save(pf *prefFile) error {
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmpPath := p.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath) // Clean up temp file on failure
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
