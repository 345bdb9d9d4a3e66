// Package logging provides the slog conventions shared by every postal
// inspector component: a nil-safe default logger, group-scoped child
// loggers, and sanitization of untrusted header values before they reach
// a log line.
package logging

import (
	"log/slog"
	"regexp"
)

// Ensure returns logger if it is not nil, otherwise a logger that discards
// all output. Constructors accept a possibly-nil *slog.Logger so callers
// don't have to special-case tests that don't care about logs.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return logger
}

// WithGroup returns a child logger scoped under the given group name,
// substituting a discarding logger first if logger is nil.
func WithGroup(logger *slog.Logger, group string) *slog.Logger {
	return Ensure(logger).WithGroup(group)
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	ansiEscape   = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// SanitizeForLog strips control characters and ANSI escape codes from text
// and truncates it to maxLength, so that header values taken from
// untrusted mail never corrupt or spoof a log stream.
func SanitizeForLog(text string, maxLength int) string {
	if text == "" {
		return ""
	}

	clean := ansiEscape.ReplaceAllString(text, "")
	clean = controlChars.ReplaceAllString(clean, "")

	if len(clean) > maxLength {
		clean = clean[:maxLength]
	}

	return clean
}
