// Package logger configures the engine's structured logging: JSON to
// stdout, debug level outside production-like environments, and a
// request-scoped logger for the callback surface.
package logger

import (
	"log/slog"
	"os"
)

// New builds the process logger. Every line carries the service name so
// engine logs stay greppable next to the switch's own output.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "dialer-engine")
}
