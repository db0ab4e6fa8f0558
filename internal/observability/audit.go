package observability

import (
	"fmt"
	"io"
	"sync"

	"github.com/harun/warden/internal/logger"
	"github.com/harun/warden/pkg/gate"
	"github.com/rs/zerolog"
)

// AuditLogger writes every authorization decision as one JSON line.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger writes audit lines to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w),
	}
}

// OpenAuditLog appends audit lines to a size-rotated file at path.
func OpenAuditLog(path string, maxSizeMB, maxAgeDays int) (*AuditLogger, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	w, err := logger.NewRotatingWriter(path, maxSizeMB, maxAgeDays, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	a := NewAuditLogger(w)
	a.closer = w
	return a, nil
}

// Record implements gate.AuditSink.
func (a *AuditLogger) Record(rec gate.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Log().
		Time("timestamp", rec.Timestamp).
		Str("event_type", "authorization").
		Str("id", rec.ID).
		Str("invocation_id", rec.InvocationID).
		Str("plugin_id", rec.PluginID).
		Str("principal", rec.PrincipalID).
		Bool("sub_agent", rec.IsSubAgent).
		Bool("sandboxed", rec.IsSandboxed).
		Bool("allowed", rec.Allowed).
		Str("stage", string(rec.Stage)).
		Str("tier", rec.Tier.String()).
		Str("risk_level", rec.RiskLevel.String()).
		Strs("categories", categories(rec)).
		Str("reason", rec.Reason).
		Send()
}

// Close closes the underlying file, if the logger owns one.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func categories(rec gate.AuditRecord) []string {
	out := make([]string, 0, len(rec.Findings))
	for _, f := range rec.Findings {
		out = append(out, f.Category)
	}
	return out
}
