// Package log provides the process-wide logging sink used across the
// aggregator: a single global writer, swappable at startup, backed by
// log/slog so structured fields survive into the record.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	writer io.Writer = os.Stderr
	logger           = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// SetLogWriter redirects process output, e.g. to a log file in addition
// to stderr.
func SetLogWriter(w io.Writer) {
	if w == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	writer = w
	logger = slog.New(slog.NewTextHandler(w, nil))
}

// Log prints a redacted message to the log output.
func Log(a ...any) {
	mu.RLock()
	w := writer
	mu.RUnlock()
	_, _ = fmt.Fprintln(w, redact(fmt.Sprint(a...)))
}

// Logf prints a redacted, formatted message to the log output.
func Logf(format string, a ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	mu.RLock()
	w := writer
	mu.RUnlock()
	_, _ = fmt.Fprintf(w, "%s", redact(fmt.Sprintf(format, a...)))
}

// With returns a structured logger carrying the given key/value pairs,
// for call sites that want slog's attribute style instead of Logf.
func With(args ...any) *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return l.With(args...)
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization["':\s=]+)(bearer\s+)?[a-z0-9._\-]{12,}`),
	regexp.MustCompile(`(?i)(api[_-]?key["':\s=]+)[a-z0-9._\-]{8,}`),
	regexp.MustCompile(`(?i)(token["':\s=]+)[a-z0-9._\-]{8,}`),
	regexp.MustCompile(`(?i)(secret["':\s=]+)[a-z0-9._\-]{8,}`),
}

// redact masks secret-shaped substrings before a message reaches the
// writer, per spec.md §7 ("message is sanitized").
func redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "$1[REDACTED]")
	}
	return s
}
