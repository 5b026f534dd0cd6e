// Package logging assembles structured slog loggers and formatting helpers used
// across the recorder.
//
// It owns the console and JSON handlers, level parsing and output plumbing
// (stdout/stderr plus a rotating log file), and the standardized attribute
// keys every component uses: component, event_type, error_hint, impact and
// session_id. A no-op logger is provided for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape.
package logging
