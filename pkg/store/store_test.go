package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relayer.db"), &logger.EmptyLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(txID string) models.ProcessedTransaction {
	return models.ProcessedTransaction{
		TxID:      txID,
		RequestID: txID,
		ChainID:   models.BaseChainID,
		Amount:    "1.5",
		Recipient: "0x1111111111111111111111111111111111111111",
		Status:    models.StatusPending,
		AleoTxID:  "at1" + txID,
	}
}

func TestIsProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.IsProcessed(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "unseen tx id is not processed")

	require.NoError(t, s.MarkProcessed(ctx, testRecord("r1")))
	ok, err = s.IsProcessed(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "pending record is not processed yet")

	require.NoError(t, s.UpdateStatus(ctx, "r1", models.StatusConfirmed, StatusUpdate{PublicChainTxHash: "0x111"}))
	ok, err = s.IsProcessed(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkProcessedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("r1")
	require.NoError(t, s.MarkProcessed(ctx, rec))
	require.NoError(t, s.MarkProcessed(ctx, rec))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.StatusPending])
}

func TestUpdateStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, testRecord("r1")))

	// Submission succeeded: hash attached, still pending
	require.NoError(t, s.UpdateStatus(ctx, "r1", models.StatusPending, StatusUpdate{PublicChainTxHash: "0x111"}))
	rec, err := s.GetTransaction(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "0x111", rec.PublicChainTxHash)
	assert.Equal(t, 0, rec.RetryCount)
	require.NotNil(t, rec.ProcessedAt)

	// Finality observed
	require.NoError(t, s.UpdateStatus(ctx, "r1", models.StatusConfirmed, StatusUpdate{}))
	rec, err = s.GetTransaction(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rec.Status)
	assert.Equal(t, "0x111", rec.PublicChainTxHash, "empty hash update keeps the stored hash")
	assert.Equal(t, 0, rec.RetryCount, "a clean confirmation is not a re-attempt")
}

func TestRetryCountIncrementsOnReattempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, testRecord("r2")))
	require.NoError(t, s.UpdateStatus(ctx, "r2", models.StatusFailed, StatusUpdate{ErrorMessage: "rpc timeout"}))

	for i := 1; i <= 3; i++ {
		// Retry processor re-offers the intent: failed -> pending increments
		require.NoError(t, s.UpdateStatus(ctx, "r2", models.StatusPending, StatusUpdate{}))
		rec, err := s.GetTransaction(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, i, rec.RetryCount)

		require.NoError(t, s.UpdateStatus(ctx, "r2", models.StatusFailed, StatusUpdate{ErrorMessage: "rpc timeout"}))
	}

	rec, err := s.GetTransaction(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, "rpc timeout", rec.ErrorMessage)

	// Exhausted records are invisible to the retry source
	failed, err := s.GetFailedTransactions(ctx, 3, 100)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestUpdateStatusUnknownTx(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStatus(context.Background(), "ghost", models.StatusConfirmed, StatusUpdate{})
	assert.Error(t, err)
}

func TestGetFailedTransactionsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, txID := range []string{"old", "mid", "new"} {
		rec := testRecord(txID)
		rec.Status = models.StatusFailed
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.MarkProcessed(ctx, rec))
	}

	failed, err := s.GetFailedTransactions(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, failed, 2, "page size is honored")
	assert.Equal(t, "old", failed[0].TxID)
	assert.Equal(t, "mid", failed[1].TxID)

	// Reconstructed intents carry the stored fields
	intent := failed[0].Intent()
	assert.Equal(t, "old", intent.RequestID)
	assert.Equal(t, models.BaseChainID, intent.ChainID)
	assert.Equal(t, "1.5", intent.Amount)
}

func TestGetPendingTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Pending without a hash: never left the engine, not monitored
	require.NoError(t, s.MarkProcessed(ctx, testRecord("unsubmitted")))

	submitted := testRecord("submitted")
	submitted.PublicChainTxHash = "0x222"
	require.NoError(t, s.MarkProcessed(ctx, submitted))

	pending, err := s.GetPendingTransactions(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "submitted", pending[0].TxID)
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		txID   string
		status models.TxStatus
	}{
		{"a", models.StatusPending},
		{"b", models.StatusConfirmed},
		{"c", models.StatusConfirmed},
		{"d", models.StatusFailed},
	} {
		rec := testRecord(tc.txID)
		rec.Status = tc.status
		require.NoError(t, s.MarkProcessed(ctx, rec))
	}

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.StatusPending])
	assert.Equal(t, 2, stats[models.StatusConfirmed])
	assert.Equal(t, 1, stats[models.StatusFailed])
}

func TestRecordMetric(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordMetric(context.Background(), "queue_depth", 4, `{"chain":"8453"}`))
}

func TestUpdateStatusResetTxHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("tx-1")
	rec.Status = models.StatusFailed
	rec.PublicChainTxHash = "0xstale"
	require.NoError(t, s.MarkProcessed(ctx, rec))

	upd := StatusUpdate{ResetTxHash: true}
	require.NoError(t, s.UpdateStatus(ctx, "tx-1", models.StatusPending, upd))

	got, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.PublicChainTxHash)
	assert.Equal(t, 1, got.RetryCount)
}

func TestGetStalePendingTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := testRecord("stale")
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.MarkProcessed(ctx, stale))

	fresh := testRecord("fresh")
	require.NoError(t, s.MarkProcessed(ctx, fresh))

	// A pending record with a submission hash is in flight, not stranded.
	inFlight := testRecord("in-flight")
	inFlight.CreatedAt = time.Now().Add(-time.Hour)
	inFlight.PublicChainTxHash = "0x333"
	require.NoError(t, s.MarkProcessed(ctx, inFlight))

	recs, err := s.GetStalePendingTransactions(ctx, time.Now().Add(-time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "stale", recs[0].TxID)

	// Refreshing processed_at moves the record past the cutoff.
	require.NoError(t, s.UpdateStatus(ctx, "stale", models.StatusPending, StatusUpdate{}))
	recs, err = s.GetStalePendingTransactions(ctx, time.Now().Add(-time.Minute), 100)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
