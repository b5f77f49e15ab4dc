package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/models"
)

const (
	// sqliteOptionPrefix is the string prefix sqlite uses to set pragma
	// options through the DSN query string.
	sqliteOptionPrefix = "_pragma"

	// writeAttempts bounds the storage-layer retry for status updates. A
	// successful on-chain submission must never be dropped because a single
	// write failed.
	writeAttempts = 3
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_transactions (
	tx_id                TEXT PRIMARY KEY,
	request_id           TEXT NOT NULL,
	chain_id             INTEGER NOT NULL,
	amount               TEXT NOT NULL,
	recipient            TEXT NOT NULL,
	status               TEXT NOT NULL,
	aleo_tx_id           TEXT NOT NULL DEFAULT '',
	public_chain_tx_hash TEXT NOT NULL DEFAULT '',
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	processed_at         INTEGER,
	retry_count          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_processed_transactions_status
	ON processed_transactions (status, created_at);

CREATE TABLE IF NOT EXISTS metrics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_name  TEXT NOT NULL,
	metric_value REAL NOT NULL,
	timestamp    INTEGER NOT NULL,
	metadata     TEXT NOT NULL DEFAULT ''
);
`

// StatusUpdate carries the optional fields of a status transition.
// ResetTxHash clears the stored hash, used when a re-attempt must not be
// mistaken for the original in-flight submission.
type StatusUpdate struct {
	PublicChainTxHash string
	ErrorMessage      string
	ResetTxHash       bool
}

// Store is the durable, idempotent record of every intent's lifecycle, keyed
// by tx id (= request id). All writes are single-statement upserts so
// concurrent updates to the same record are serialized by sqlite itself.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// Open opens the sqlite database at path, applying the WAL and busy-timeout
// pragmas and creating the schema if needed.
func Open(path string, log logger.Logger) (*Store, error) {
	pragmaOptions := []struct {
		name  string
		value string
	}{
		{name: "foreign_keys", value: "on"},
		{name: "journal_mode", value: "WAL"},
		{name: "busy_timeout", value: "5000"},
	}
	sqliteOptions := make(url.Values)
	for _, option := range pragmaOptions {
		sqliteOptions.Add(
			sqliteOptionPrefix,
			fmt.Sprintf("%v=%v", option.name, option.value),
		)
	}

	dsn := fmt.Sprintf("%v?%v", path, sqliteOptions.Encode())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: log, now: time.Now}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsProcessed reports whether the transaction already reached finality. Only
// confirmed records count as processed; pending and failed records still
// participate in the execution path.
func (s *Store) IsProcessed(ctx context.Context, txID string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM processed_transactions WHERE tx_id = ?`, txID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query transaction %s: %w", txID, err)
	}
	return models.TxStatus(status) == models.StatusConfirmed, nil
}

// MarkProcessed inserts or replaces the record for a transaction.
func (s *Store) MarkProcessed(ctx context.Context, rec models.ProcessedTransaction) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	var processedAt interface{}
	if rec.ProcessedAt != nil {
		processedAt = rec.ProcessedAt.UTC().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO processed_transactions (
	tx_id, request_id, chain_id, amount, recipient, status,
	aleo_tx_id, public_chain_tx_hash, error_message,
	created_at, processed_at, retry_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.TxID,
		rec.RequestID,
		rec.ChainID,
		rec.Amount,
		rec.Recipient,
		string(rec.Status),
		rec.AleoTxID,
		rec.PublicChainTxHash,
		rec.ErrorMessage,
		rec.CreatedAt.UTC().UnixMilli(),
		processedAt,
		rec.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", rec.TxID, err)
	}
	return nil
}

// UpdateStatus transitions a record to the given status. A transition from
// failed back to pending is a re-attempt and increments the retry count. The
// write is retried a bounded number of times at the storage layer; losing the
// record of a submission that moved funds is the worst failure class here.
func (s *Store) UpdateStatus(ctx context.Context, txID string, status models.TxStatus, upd StatusUpdate) error {
	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		lastErr = s.updateStatus(ctx, txID, status, upd)
		if lastErr == nil {
			return nil
		}
		s.logger.Error("Store write attempt %d for %s failed: %v", attempt+1, txID, lastErr)
	}
	return fmt.Errorf("update status %s after %d attempts: %w", txID, writeAttempts, lastErr)
}

func (s *Store) updateStatus(ctx context.Context, txID string, status models.TxStatus, upd StatusUpdate) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE processed_transactions
SET retry_count = retry_count + (CASE WHEN status = 'failed' AND ? = 'pending' THEN 1 ELSE 0 END),
	status = ?,
	public_chain_tx_hash = CASE WHEN ? THEN '' WHEN ? != '' THEN ? ELSE public_chain_tx_hash END,
	error_message = ?,
	processed_at = ?
WHERE tx_id = ?
`,
		string(status),
		string(status),
		upd.ResetTxHash,
		upd.PublicChainTxHash,
		upd.PublicChainTxHash,
		upd.ErrorMessage,
		s.now().UTC().UnixMilli(),
		txID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("transaction %s not found", txID)
	}
	return nil
}

// GetTransaction loads one record, returning nil when the tx id is unseen.
func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.ProcessedTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tx_id, request_id, chain_id, amount, recipient, status,
	aleo_tx_id, public_chain_tx_hash, error_message,
	created_at, processed_at, retry_count
FROM processed_transactions
WHERE tx_id = ?
`, txID)

	rec, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txID, err)
	}
	return rec, nil
}

// GetFailedTransactions loads failed records with retries remaining, oldest
// first, bounded by limit. This is the dead letter queue's retry source.
func (s *Store) GetFailedTransactions(ctx context.Context, maxRetries, limit int) ([]models.ProcessedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tx_id, request_id, chain_id, amount, recipient, status,
	aleo_tx_id, public_chain_tx_hash, error_message,
	created_at, processed_at, retry_count
FROM processed_transactions
WHERE status = 'failed' AND retry_count < ?
ORDER BY created_at ASC
LIMIT ?
`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetPendingTransactions loads submitted records awaiting finality, oldest
// first, bounded by limit. Records without a public chain hash are excluded;
// they never left the engine.
func (s *Store) GetPendingTransactions(ctx context.Context, limit int) ([]models.ProcessedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tx_id, request_id, chain_id, amount, recipient, status,
	aleo_tx_id, public_chain_tx_hash, error_message,
	created_at, processed_at, retry_count
FROM processed_transactions
WHERE status = 'pending' AND public_chain_tx_hash != ''
ORDER BY created_at ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetStalePendingTransactions loads pending records that never got a public
// chain hash and whose last write is older than cutoff, oldest first, bounded
// by limit. These are admitted intents whose in-memory batch was lost (crash,
// dropped execution attempt); the recovery sweep re-offers them.
func (s *Store) GetStalePendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]models.ProcessedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tx_id, request_id, chain_id, amount, recipient, status,
	aleo_tx_id, public_chain_tx_hash, error_message,
	created_at, processed_at, retry_count
FROM processed_transactions
WHERE status = 'pending' AND public_chain_tx_hash = ''
	AND COALESCE(processed_at, created_at) < ?
ORDER BY created_at ASC
LIMIT ?
`, cutoff.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pending transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetStats returns record counts by status.
func (s *Store) GetStats(ctx context.Context) (map[models.TxStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM processed_transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.TxStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[models.TxStatus(status)] = count
	}
	return stats, rows.Err()
}

// RecordMetric appends one sample to the operational metrics time series.
func (s *Store) RecordMetric(ctx context.Context, name string, value float64, metadata string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO metrics (metric_name, metric_value, timestamp, metadata)
VALUES (?, ?, ?, ?)
`, name, value, s.now().UTC().UnixMilli(), metadata)
	if err != nil {
		return fmt.Errorf("record metric %s: %w", name, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*models.ProcessedTransaction, error) {
	var rec models.ProcessedTransaction
	var status string
	var createdAt int64
	var processedAt sql.NullInt64

	err := row.Scan(
		&rec.TxID,
		&rec.RequestID,
		&rec.ChainID,
		&rec.Amount,
		&rec.Recipient,
		&status,
		&rec.AleoTxID,
		&rec.PublicChainTxHash,
		&rec.ErrorMessage,
		&createdAt,
		&processedAt,
		&rec.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.TxStatus(status)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	if processedAt.Valid {
		t := time.UnixMilli(processedAt.Int64).UTC()
		rec.ProcessedAt = &t
	}
	return &rec, nil
}

func collectTransactions(rows *sql.Rows) ([]models.ProcessedTransaction, error) {
	var out []models.ProcessedTransaction
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
