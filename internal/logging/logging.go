// Package logging configures the process-wide slog default.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Init installs the default logger. Debug output is opt-in via the
// DECODER_DEBUG environment variable because the mutation stream is chatty.
func Init() {
	level := slog.LevelInfo
	if os.Getenv("DECODER_DEBUG") != "" {
		level = slog.LevelDebug
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level == slog.LevelDebug,
	})

	slog.SetDefault(slog.New(handler))
}
