package logger

import (
	"log/slog"
	"os"
)

// New builds the process-wide JSON logger. Every record carries the service
// name so workspaced and sshgate can share one log pipeline.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}
