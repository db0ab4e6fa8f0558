package logger

import (
	"fmt"
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// defaultRedactions covers secrets that tend to show up in tool payloads and
// denial reasons.
var defaultRedactions = []string{
	`sk-(ant-)?[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._~+/-]+=*`,
	`\d{8,10}:[a-zA-Z0-9_-]{30,}`,
	`AKIA[0-9A-Z]{16}`,
	`gh[pousr]_[A-Za-z0-9]{36,}`,
	`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
	`(?i)(password|passwd|pwd|secret|api[_-]?key)["\s:=]+[^\s",}]+`,
	`(?i)token["\s:=]+[a-zA-Z0-9._-]{20,}`,
}

// Redactor scrubs secrets out of log lines.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range defaultRedactions {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid redaction pattern: %w", err)
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every match with [REDACTED].
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
