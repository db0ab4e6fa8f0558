package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/gate"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const insertTimeout = 5 * time.Second

// SQLiteStore persists audit records for later queries.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.Mutex
	scheduler *cron.Cron
	now       func() time.Time
}

// StageCount is the number of decisions made at one stage.
type StageCount struct {
	Stage   gate.Stage `json:"stage"`
	Allowed bool       `json:"allowed"`
	Count   int        `json:"count"`
}

// OpenSQLiteStore opens or creates the audit database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Audit store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			invocation_id TEXT NOT NULL DEFAULT '',
			plugin_id TEXT NOT NULL,
			principal_id TEXT NOT NULL DEFAULT '',
			is_sub_agent INTEGER NOT NULL,
			is_sandboxed INTEGER NOT NULL,
			allowed INTEGER NOT NULL,
			stage TEXT NOT NULL,
			reason TEXT NOT NULL,
			tier TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			findings TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_plugin ON audit_records(plugin_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record implements gate.AuditSink. It blocks on the database; put it behind
// an AsyncSink when called from the decision path. Write failures are logged
// and dropped.
func (s *SQLiteStore) Record(rec gate.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := s.Insert(ctx, rec); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to persist audit record")
	}
}

// Insert stores one record.
func (s *SQLiteStore) Insert(ctx context.Context, rec gate.AuditRecord) error {
	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, invocation_id, plugin_id, principal_id, is_sub_agent, is_sandboxed,
			 allowed, stage, reason, tier, risk_level, findings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.InvocationID, rec.PluginID, rec.PrincipalID, rec.IsSubAgent, rec.IsSandboxed,
		rec.Allowed, string(rec.Stage), rec.Reason, rec.Tier.String(), rec.RiskLevel.String(),
		string(findings), rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]gate.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invocation_id, plugin_id, principal_id, is_sub_agent, is_sandboxed,
		       allowed, stage, reason, tier, risk_level, findings, created_at
		FROM audit_records
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []gate.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}
	return out, nil
}

// StageCounts aggregates decisions by stage and outcome.
func (s *SQLiteStore) StageCounts(ctx context.Context) ([]StageCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, allowed, COUNT(*)
		FROM audit_records
		GROUP BY stage, allowed
		ORDER BY stage, allowed`)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit records: %w", err)
	}
	defer rows.Close()

	var out []StageCount
	for rows.Next() {
		var (
			c     StageCount
			stage string
		)
		if err := rows.Scan(&stage, &c.Allowed, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan stage count: %w", err)
		}
		c.Stage = gate.Stage(stage)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes records created before cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartRetention prunes records older than retentionDays on the cron
// schedule spec. Calling it again replaces the previous schedule.
func (s *SQLiteStore) StartRetention(spec string, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(spec, func() { s.pruneExpired(retentionDays) }); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.scheduler = c
	s.mu.Unlock()

	c.Start()
	log.Info().Str("schedule", spec).Int("retention_days", retentionDays).Msg("Audit retention scheduled")
	return nil
}

func (s *SQLiteStore) pruneExpired(retentionDays int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	n, err := s.Prune(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Audit retention prune failed")
		return
	}
	log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Audit records pruned")
}

// Close stops retention and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
		s.scheduler = nil
	}
	s.mu.Unlock()

	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (gate.AuditRecord, error) {
	var (
		rec                     gate.AuditRecord
		stage, tier, risk, find string
		created                 int64
	)
	err := row.Scan(&rec.ID, &rec.InvocationID, &rec.PluginID, &rec.PrincipalID,
		&rec.IsSubAgent, &rec.IsSandboxed, &rec.Allowed, &stage, &rec.Reason,
		&tier, &risk, &find, &created)
	if err != nil {
		return rec, fmt.Errorf("failed to scan audit record: %w", err)
	}

	rec.Stage = gate.Stage(stage)
	rec.Timestamp = time.Unix(0, created).UTC()
	if rec.Tier, err = danger.ParseTier(tier); err != nil {
		return rec, fmt.Errorf("audit record %s: %w", rec.ID, err)
	}
	if rec.RiskLevel, err = contentscan.ParseRiskLevel(risk); err != nil {
		return rec, fmt.Errorf("audit record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(find), &rec.Findings); err != nil {
		return rec, fmt.Errorf("audit record %s: failed to decode findings: %w", rec.ID, err)
	}
	return rec, nil
}
