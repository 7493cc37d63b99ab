// Package runlog persists run history: RunRecords, weekly audit
// partitions, and the last commit the change sensor acted on.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/codeintelhq/codeintel/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	partition_key TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	status       TEXT NOT NULL,
	stages       TEXT NOT NULL,
	stage_errors TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS audit_partitions (
	week         TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	completed_at DATETIME NOT NULL,
	findings     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS detections (
	branch      TEXT PRIMARY KEY,
	last_commit TEXT NOT NULL,
	detected_at DATETIME NOT NULL
);
`

// Store is the SQLite-backed run history
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run log database
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3",
		"file:"+path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping run log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize run log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run record
func (s *Store) SaveRun(ctx context.Context, r *types.RunRecord) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("encoding stage statuses: %w", err)
	}
	stageErrs, err := json.Marshal(r.StageErrors)
	if err != nil {
		return fmt.Errorf("encoding stage errors: %w", err)
	}

	var completed any
	if r.CompletedAt != nil {
		completed = r.CompletedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, fingerprint, trigger_kind, partition_key, started_at, completed_at, status, stages, stage_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			completed_at = excluded.completed_at,
			status       = excluded.status,
			stages       = excluded.stages,
			stage_errors = excluded.stage_errors`,
		r.RunID, r.Fingerprint, string(r.TriggerKind), r.Partition,
		r.StartedAt.UTC(), completed, string(r.Status), string(stages), string(stageErrs))
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.RunID, err)
	}
	return nil
}

// GetRun loads one run by id
func (s *Store) GetRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, fingerprint, trigger_kind, partition_key, started_at, completed_at, status, stages, stage_errors
		FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return rec, err
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*types.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, fingerprint, trigger_kind, partition_key, started_at, completed_at, status, stages, stage_errors
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.RunRecord, error) {
	var (
		rec        types.RunRecord
		trigger    string
		status     string
		partition  sql.NullString
		completed  sql.NullTime
		stagesJSON string
		errsJSON   string
	)
	err := row.Scan(&rec.RunID, &rec.Fingerprint, &trigger, &partition,
		&rec.StartedAt, &completed, &status, &stagesJSON, &errsJSON)
	if err != nil {
		return nil, err
	}
	rec.TriggerKind = types.TriggerKind(trigger)
	rec.Status = types.RunStatus(status)
	if partition.Valid {
		rec.Partition = partition.String
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(stagesJSON), &rec.Stages); err != nil {
		return nil, fmt.Errorf("decoding stage statuses for %s: %w", rec.RunID, err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &rec.StageErrors); err != nil {
		return nil, fmt.Errorf("decoding stage errors for %s: %w", rec.RunID, err)
	}
	return &rec, nil
}

// PartitionRecord is the stored outcome of one weekly audit partition
type PartitionRecord struct {
	Week        string
	RunID       string
	CompletedAt time.Time
	Findings    []types.AuditFinding
}

// SavePartition records an audit partition's outcome, replacing any prior
// record for the same week and only that week
func (s *Store) SavePartition(ctx context.Context, p *PartitionRecord) error {
	findings, err := json.Marshal(p.Findings)
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_partitions (week, run_id, completed_at, findings)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(week) DO UPDATE SET
			run_id       = excluded.run_id,
			completed_at = excluded.completed_at,
			findings     = excluded.findings`,
		p.Week, p.RunID, p.CompletedAt.UTC(), string(findings))
	if err != nil {
		return fmt.Errorf("saving partition %s: %w", p.Week, err)
	}
	return nil
}

// GetPartition loads one audit partition; ok is false if it never ran
func (s *Store) GetPartition(ctx context.Context, week string) (*PartitionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT week, run_id, completed_at, findings FROM audit_partitions WHERE week = ?`, week)

	var p PartitionRecord
	var findingsJSON string
	err := row.Scan(&p.Week, &p.RunID, &p.CompletedAt, &findingsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading partition %s: %w", week, err)
	}
	if err := json.Unmarshal([]byte(findingsJSON), &p.Findings); err != nil {
		return nil, false, fmt.Errorf("decoding findings for %s: %w", week, err)
	}
	return &p, true, nil
}

// ListPartitions returns all audit partitions, oldest week first
func (s *Store) ListPartitions(ctx context.Context) ([]*PartitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT week, run_id, completed_at, findings FROM audit_partitions ORDER BY week`)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	defer rows.Close()

	var out []*PartitionRecord
	for rows.Next() {
		var p PartitionRecord
		var findingsJSON string
		if err := rows.Scan(&p.Week, &p.RunID, &p.CompletedAt, &findingsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(findingsJSON), &p.Findings); err != nil {
			return nil, fmt.Errorf("decoding findings for %s: %w", p.Week, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// LastSeenCommit returns the commit the sensor last acted on for a branch
func (s *Store) LastSeenCommit(ctx context.Context, branch string) (string, time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_commit, detected_at FROM detections WHERE branch = ?`, branch)
	var commit string
	var at time.Time
	err := row.Scan(&commit, &at)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("loading detection state for %s: %w", branch, err)
	}
	return commit, at, nil
}

// SetLastSeenCommit records a successful detection for a branch
func (s *Store) SetLastSeenCommit(ctx context.Context, branch, commit string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detections (branch, last_commit, detected_at)
		VALUES (?, ?, ?)
		ON CONFLICT(branch) DO UPDATE SET
			last_commit = excluded.last_commit,
			detected_at = excluded.detected_at`,
		branch, commit, at.UTC())
	if err != nil {
		return fmt.Errorf("saving detection state for %s: %w", branch, err)
	}
	return nil
}
