// Package logging provides the orchestrator's structured logger: a
// log/slog JSON handler whose every record is passed through a
// policy.Redactor first, so secrets captured in worker stdout/stderr
// or subprocess argv never reach stdout or Sentry.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/coderun-ai/orchestrator/internal/policy"
)

// Logger wraps a *slog.Logger, satisfying the small Logf interfaces
// used by runner.Logger, scheduler's Logger func, and retention.Logger.
type Logger struct {
	slog     *slog.Logger
	redactor *policy.Redactor
}

// New builds a JSON-structured logger writing to os.Stdout, redacting
// every formatted message through redactor before it is emitted.
func New(redactor *policy.Redactor, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &Logger{slog: slog.New(handler), redactor: redactor}
}

func (l *Logger) sanitize(msg string) string {
	if l.redactor == nil {
		return msg
	}
	return l.redactor.Redact(msg)
}

// Logf satisfies runner.Logger / scheduler's func(format, args...) /
// retention.Logger — a printf-style sink used throughout the process.
func (l *Logger) Logf(format string, args ...any) {
	l.slog.Info(l.sanitize(fmt.Sprintf(format, args...)))
}

// Infof, Warnf, Errorf give call sites explicit level control where
// Logf's flat "everything is Info" isn't enough (startup banners vs.
// a step's subprocess failing).
func (l *Logger) Infof(format string, args ...any) {
	l.slog.Info(l.sanitize(fmt.Sprintf(format, args...)))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.slog.Warn(l.sanitize(fmt.Sprintf(format, args...)))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.slog.Error(l.sanitize(fmt.Sprintf(format, args...)))
}

// With returns a Logger that annotates every record with the given
// key/value attributes (e.g. job_id, step_id).
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), redactor: l.redactor}
}

// WithContext is a convenience passthrough for call sites that already
// carry a context.Context and want slog's context-aware logging hooks.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return ctx
}

