// Package logging defines the structured-logging interface used by the chat
// client and its backend adapters. The only implementation wraps log/slog.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Warn(ctx, "stream degraded", "group_id", groupID, "err", err)
type Logger interface {
	// Debug logs verbose diagnostics (page windows, dropped duplicates).
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs soft failures the chat keeps working through.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures surfaced to the user.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}
