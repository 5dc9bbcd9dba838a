// Package redact masks candidate contact details before transcripts reach logs.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/harunnryd/intervyu/pkg/logging"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	urlRe   = regexp.MustCompile(`(?i)\bhttps?://\S+`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, profile links and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := urlRe.ReplaceAllString(in, "[REDACTED_URL]")
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Preview redacts and truncates a transcript for a log line.
func Preview(in string, limit int) string {
	return logging.Truncate(Text(in), limit)
}
