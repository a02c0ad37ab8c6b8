package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"verdictd/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const defaultMirrorKey = "verdict_log"

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS verdict_mirror (
        name       TEXT PRIMARY KEY,
        payload    JSONB NOT NULL,
        writer     TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS verdicts (
        id              BIGSERIAL PRIMARY KEY,
        claim_id        TEXT NOT NULL UNIQUE,
        agent_label     TEXT NOT NULL,
        claim_text      TEXT NOT NULL,
        claim_type      TEXT NOT NULL,
        claimed_value   NUMERIC,
        verdict         TEXT NOT NULL,
        confidence      INTEGER NOT NULL,
        source_name     TEXT NOT NULL,
        observed_value  NUMERIC,
        explanation     TEXT NOT NULL,
        proof_tx_id     TEXT,
        proof_error     TEXT,
        verdict_hash    TEXT NOT NULL,
        notification_id TEXT,
        created_at      TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_verdicts_created_at ON verdicts (created_at);`

	readBlobSQL = `SELECT payload FROM verdict_mirror WHERE name = $1;`

	writeBlobSQL = `INSERT INTO verdict_mirror (name, payload, writer, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (name) DO UPDATE
    SET payload    = EXCLUDED.payload,
        writer     = EXCLUDED.writer,
        updated_at = EXCLUDED.updated_at;`

	upsertVerdictSQL = `INSERT INTO verdicts (
        claim_id,
        agent_label,
        claim_text,
        claim_type,
        claimed_value,
        verdict,
        confidence,
        source_name,
        observed_value,
        explanation,
        proof_tx_id,
        proof_error,
        verdict_hash,
        notification_id,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (claim_id) DO UPDATE
    SET
        verdict         = EXCLUDED.verdict,
        confidence      = EXCLUDED.confidence,
        source_name     = EXCLUDED.source_name,
        observed_value  = EXCLUDED.observed_value,
        explanation     = EXCLUDED.explanation,
        proof_tx_id     = EXCLUDED.proof_tx_id,
        proof_error     = EXCLUDED.proof_error,
        verdict_hash    = EXCLUDED.verdict_hash,
        notification_id = EXCLUDED.notification_id;`

	selectVerdictColumns = `SELECT
        id,
        claim_id,
        agent_label,
        claim_text,
        claim_type,
        claimed_value::text,
        verdict,
        confidence,
        source_name,
        observed_value::text,
        explanation,
        proof_tx_id,
        proof_error,
        verdict_hash,
        notification_id,
        created_at
    FROM verdicts`

	listRecentVerdictsSQL = selectVerdictColumns + `
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listVerdictsBetweenSQL = selectVerdictColumns + `
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at, id;`

	countVerdictsSQL = `SELECT COUNT(*) FROM verdicts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_xact_lock($1);`
)

// Mirror is the cross-process copy of the verdict log.
type Mirror interface {
	ReadBlob(ctx context.Context) (LogBlob, bool, error)
	WriteBlob(ctx context.Context, blob LogBlob) error
	UpsertVerdict(ctx context.Context, rec model.VerdictRecord) error
}

// VerdictHistory lists verdict rows for reporting.
type VerdictHistory interface {
	ListRecentVerdicts(ctx context.Context, limit int) ([]VerdictRow, error)
	ListVerdictsBetween(ctx context.Context, from, to time.Time) ([]VerdictRow, error)
	CountVerdicts(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the mirrored log and verdict history.
type Store struct {
	pool Pool
	key  string
}

// NewStore wires a pool into a Store. key names the mirrored blob.
func NewStore(pool Pool, key string) *Store {
	if key == "" {
		key = defaultMirrorKey
	}
	return &Store{pool: pool, key: key}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the mirror tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock takes a transaction-scoped advisory lock. The returned
// unlock func ends the transaction, releasing the lock and its connection.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin lock transaction: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(context.Background())
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock best effort; the server drops the lock with the session anyway
		_ = tx.Rollback(ctxUnlock)
	}
	return unlock, true, nil
}

// ReadBlob loads the mirrored log. The bool is false when nothing was written yet.
func (s *Store) ReadBlob(ctx context.Context) (LogBlob, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return LogBlob{}, false, err
	}

	var payload []byte
	if err := pool.QueryRow(ctx, readBlobSQL, s.key).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LogBlob{}, false, nil
		}
		return LogBlob{}, false, fmt.Errorf("read mirror blob: %w", err)
	}

	var blob LogBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return LogBlob{}, false, fmt.Errorf("decode mirror blob: %w", err)
	}
	return blob, true, nil
}

// WriteBlob replaces the mirrored log. The last writer wins.
func (s *Store) WriteBlob(ctx context.Context, blob LogBlob) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if blob.Version == 0 {
		blob.Version = BlobVersion
	}
	if blob.WrittenAt.IsZero() {
		blob.WrittenAt = time.Now().UTC()
	}

	payload, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode mirror blob: %w", err)
	}
	if _, err := pool.Exec(ctx, writeBlobSQL, s.key, payload, blob.Writer); err != nil {
		return fmt.Errorf("write mirror blob: %w", err)
	}
	return nil
}

// UpsertVerdict persists or updates a verdict row keyed by claim id.
func (s *Store) UpsertVerdict(ctx context.Context, rec model.VerdictRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertVerdictSQL,
		rec.ClaimID,
		rec.AgentLabel,
		rec.ClaimText,
		string(rec.ClaimType),
		nullDecimal(rec.ClaimedValue),
		string(rec.Verdict),
		rec.Confidence,
		rec.SourceName,
		nullDecimal(rec.ObservedValue),
		rec.Explanation,
		nullString(rec.ProofTxID),
		nullString(rec.ProofError),
		rec.VerdictHash,
		nullString(rec.NotificationID),
		rec.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert verdict %s: %w", rec.ClaimID, execErr)
	}
	return nil
}

// ListRecentVerdicts lists the newest verdicts first.
func (s *Store) ListRecentVerdicts(ctx context.Context, limit int) ([]VerdictRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentVerdictsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent verdicts: %w", queryErr)
	}
	defer rows.Close()

	return collectVerdicts(rows, limit)
}

// ListVerdictsBetween lists verdicts created within [from, to), oldest first.
func (s *Store) ListVerdictsBetween(ctx context.Context, from, to time.Time) ([]VerdictRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listVerdictsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list verdicts between: %w", queryErr)
	}
	defer rows.Close()

	return collectVerdicts(rows, 0)
}

// CountVerdicts counts stored verdict rows.
func (s *Store) CountVerdicts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countVerdictsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count verdicts: %w", scanErr)
	}
	return count, nil
}

func collectVerdicts(rows pgx.Rows, capacity int) ([]VerdictRow, error) {
	out := make([]VerdictRow, 0, capacity)
	for rows.Next() {
		row, scanErr := scanVerdict(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanVerdict(rows pgx.Rows) (VerdictRow, error) {
	var (
		id          int64
		rec         model.VerdictRecord
		claimType   string
		claimedStr  sql.NullString
		verdict     string
		observedStr sql.NullString
		proofTx     sql.NullString
		proofErr    sql.NullString
		notifyID    sql.NullString
	)

	if err := rows.Scan(
		&id,
		&rec.ClaimID,
		&rec.AgentLabel,
		&rec.ClaimText,
		&claimType,
		&claimedStr,
		&verdict,
		&rec.Confidence,
		&rec.SourceName,
		&observedStr,
		&rec.Explanation,
		&proofTx,
		&proofErr,
		&rec.VerdictHash,
		&notifyID,
		&rec.CreatedAt,
	); err != nil {
		return VerdictRow{}, err
	}

	rec.ClaimType = model.ClaimType(claimType)
	rec.Verdict = model.Verdict(verdict)

	var err error
	if rec.ClaimedValue, err = parseNullDecimal(claimedStr); err != nil {
		return VerdictRow{}, fmt.Errorf("parse claimed value: %w", err)
	}
	if rec.ObservedValue, err = parseNullDecimal(observedStr); err != nil {
		return VerdictRow{}, fmt.Errorf("parse observed value: %w", err)
	}
	rec.ProofTxID = stringPtr(proofTx)
	rec.ProofError = stringPtr(proofErr)
	rec.NotificationID = stringPtr(notifyID)

	return VerdictRow{ID: id, Record: rec}, nil
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

var (
	_ Mirror         = (*Store)(nil)
	_ VerdictHistory = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
