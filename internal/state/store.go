// Package state is the process-local source of truth: the capped verdict log,
// the processed claim ids and recent notification timestamps.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"verdictd/internal/model"
)

// DefaultLogCap bounds the verdict log.
const DefaultLogCap = 100

// ErrClosed is returned after Close.
var ErrClosed = errors.New("state: store closed")

const schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	claim_id   TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_claims (
	claim_id     TEXT PRIMARY KEY,
	processed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	sent_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_claim_id ON verdicts(claim_id);
CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at);
`

// Store persists orchestrator state in SQLite.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	logCap int
	closed bool
}

// Open opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store.
func Open(ctx context.Context, path string, logCap int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state: path is required")
	}
	if logCap <= 0 {
		logCap = DefaultLogCap
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open: %w", err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if !strings.Contains(path, ":memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("state: exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: migrate: %w", err)
	}

	return &Store{db: db, logCap: logCap}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// LogCap returns the maximum number of retained verdicts.
func (s *Store) LogCap() int { return s.logCap }

// PrependVerdict adds rec at the head of the log and drops entries beyond the cap.
func (s *Store) PrependVerdict(ctx context.Context, rec model.VerdictRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: marshal verdict: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO verdicts (claim_id, record, created_at) VALUES (?, ?, ?)`,
		rec.ClaimID, string(payload), rec.CreatedAt.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("state: insert verdict: %w", err)
	}
	if err := trimVerdicts(ctx, tx, s.logCap); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Verdicts returns up to limit records, newest first. limit <= 0 returns the whole log.
func (s *Store) Verdicts(ctx context.Context, limit int) ([]model.VerdictRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.logCap {
		limit = s.logCap
	}

	rows, err := db.QueryContext(ctx,
		`SELECT record FROM verdicts ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("state: list verdicts: %w", err)
	}
	defer rows.Close()

	records := make([]model.VerdictRecord, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("state: scan verdict: %w", err)
		}
		var rec model.VerdictRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("state: decode verdict: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ReplaceVerdicts overwrites the log with records given newest first.
func (s *Store) ReplaceVerdicts(ctx context.Context, records []model.VerdictRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM verdicts`); err != nil {
		return fmt.Errorf("state: clear verdicts: %w", err)
	}
	if len(records) > s.logCap {
		records = records[:s.logCap]
	}
	// insert oldest first so seq order matches log order
	for i := len(records) - 1; i >= 0; i-- {
		payload, err := json.Marshal(records[i])
		if err != nil {
			return fmt.Errorf("state: marshal verdict: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO verdicts (claim_id, record, created_at) VALUES (?, ?, ?)`,
			records[i].ClaimID, string(payload), records[i].CreatedAt.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("state: insert verdict: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

func trimVerdicts(ctx context.Context, tx *sql.Tx, logCap int) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM verdicts WHERE seq NOT IN (SELECT seq FROM verdicts ORDER BY seq DESC LIMIT ?)`,
		logCap)
	if err != nil {
		return fmt.Errorf("state: trim verdicts: %w", err)
	}
	return nil
}

// MarkProcessed records claimID as handled. Repeated calls are no-ops.
func (s *Store) MarkProcessed(ctx context.Context, claimID string, at time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO processed_claims (claim_id, processed_at) VALUES (?, ?) ON CONFLICT(claim_id) DO NOTHING`,
		claimID, at.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("state: mark processed %s: %w", claimID, err)
	}
	return nil
}

// ProcessedIDs returns every processed claim id in the order it was marked.
func (s *Store) ProcessedIDs(ctx context.Context) ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT claim_id FROM processed_claims ORDER BY processed_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("state: list processed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("state: scan processed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordNotification stores a notification send time.
func (s *Store) RecordNotification(ctx context.Context, at time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO notifications (sent_at) VALUES (?)`, at.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("state: record notification: %w", err)
	}
	return nil
}

// NotificationsSince returns send times at or after since, oldest first, and
// deletes older rows.
func (s *Store) NotificationsSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	cutoff := since.UTC().UnixNano()
	if _, err := db.ExecContext(ctx, `DELETE FROM notifications WHERE sent_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("state: prune notifications: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT sent_at FROM notifications WHERE sent_at >= ? ORDER BY sent_at, id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("state: list notifications: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("state: scan notification: %w", err)
		}
		out = append(out, time.Unix(0, ns).UTC())
	}
	return out, rows.Err()
}
