// Package logger holds the structured logger shared by every engine package.
// By default the engine produces no log output; call SetLogger to enable it.
package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip
// attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(nopHandler{}))
}

// SetLogger replaces the engine logger. Safe for concurrent use.
// Passing nil restores the silent default.
//
// Levels used by the engine:
//   - Debug: queue statistics, per-event dispatch traces
//   - Info: lifecycle (context start/stop, adapter selection, profiler output)
//   - Warn: recoverable oddities (dispatch of events for disposed objects)
//   - Error: native call failures and contract violations found during dispatch
//
// Parameters:
//   - l: the logger to install, or nil to disable logging
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	current.Store(l)
}

// Logger returns the engine logger.
//
// Returns:
//   - *slog.Logger: the current logger, never nil
func Logger() *slog.Logger {
	return current.Load()
}
