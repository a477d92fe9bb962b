package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the slog.Logger shared by the auth engine, the credential
// backend and the job workers. LOG_FORMAT=json selects JSON output for
// production; anything else falls back to the readable text handler.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}
