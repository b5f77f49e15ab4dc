package dlq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-hq/relayer/pkg/batchqueue"
	"github.com/veilpay-hq/relayer/pkg/blockchain"
	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/models"
	"github.com/veilpay-hq/relayer/pkg/ratelimit"
	"github.com/veilpay-hq/relayer/pkg/store"
)

type stubChecker struct {
	states map[string]blockchain.TxState
}

func (s *stubChecker) TxStatus(_ context.Context, txHash string) (blockchain.TxState, error) {
	state, ok := s.states[txHash]
	if !ok {
		return blockchain.TxStatePending, nil
	}
	return state, nil
}

func newTestProcessor(t *testing.T) (*Processor, *store.Store, *batchqueue.Queue, *stubChecker) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), &logger.EmptyLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	queue := batchqueue.New(time.Second, 10)
	checker := &stubChecker{states: make(map[string]blockchain.TxState)}
	checkers := map[int]blockchain.ConfirmationChecker{models.BaseChainID: checker}
	limiters := map[int]*ratelimit.Limiter{models.BaseChainID: ratelimit.NewChainLimiter(1000, 60000)}

	p := New(st, queue, checkers, limiters, 3, time.Minute, &logger.EmptyLogger{})
	return p, st, queue, checker
}

func failedRecord(id string, hash string) models.ProcessedTransaction {
	return models.ProcessedTransaction{
		TxID:              id,
		RequestID:         id,
		ChainID:           models.BaseChainID,
		Amount:            "2.0",
		Recipient:         "0x2222222222222222222222222222222222222222",
		Status:            models.StatusFailed,
		PublicChainTxHash: hash,
		ErrorMessage:      "rpc unavailable",
	}
}

func TestAddFailedParksRecord(t *testing.T) {
	p, st, _, _ := newTestProcessor(t)
	ctx := context.Background()

	rec := failedRecord("req-1", "")
	rec.Status = models.StatusPending
	require.NoError(t, st.MarkProcessed(ctx, rec))

	p.AddFailed(ctx, "req-1", errors.New("gas estimation failed"))

	got, err := st.GetTransaction(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "gas estimation failed")
	assert.Equal(t, 0, got.RetryCount, "parking does not consume retry budget")
}

func TestShouldRetry(t *testing.T) {
	p, _, _, _ := newTestProcessor(t)

	assert.True(t, p.ShouldRetry(&models.ProcessedTransaction{RetryCount: 0}))
	assert.True(t, p.ShouldRetry(&models.ProcessedTransaction{RetryCount: 2}))
	assert.False(t, p.ShouldRetry(&models.ProcessedTransaction{RetryCount: 3}))
}

func TestSweepReoffersFailedRecords(t *testing.T) {
	p, st, queue, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, st.MarkProcessed(ctx, failedRecord("req-1", "0xdead")))
	require.NoError(t, st.MarkProcessed(ctx, failedRecord("req-2", "")))

	p.Sweep(ctx)

	for _, id := range []string{"req-1", "req-2"} {
		rec, err := st.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, rec.Status)
		assert.Equal(t, 1, rec.RetryCount, "re-offering is the re-attempt")
		assert.Empty(t, rec.PublicChainTxHash, "a stale hash must not mask the re-attempt")
	}
	assert.Equal(t, 2, queue.Depth())
}

func TestSweepReconcilesConfirmedSubmission(t *testing.T) {
	p, st, queue, checker := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, st.MarkProcessed(ctx, failedRecord("req-1", "0xabc")))
	checker.states["0xabc"] = blockchain.TxStateConfirmed

	p.Sweep(ctx)

	rec, err := st.GetTransaction(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rec.Status)
	assert.Equal(t, "0xabc", rec.PublicChainTxHash)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, 0, queue.Depth(), "a reconciled record is never executed again")
}

func TestSweepSkipsExhaustedRecords(t *testing.T) {
	p, st, queue, _ := newTestProcessor(t)
	ctx := context.Background()

	rec := failedRecord("req-1", "")
	rec.RetryCount = 3
	require.NoError(t, st.MarkProcessed(ctx, rec))

	p.Sweep(ctx)

	got, err := st.GetTransaction(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status, "an exhausted record stays parked")
	assert.Equal(t, 0, queue.Depth())
}

func TestSweepRetryBudgetExhausts(t *testing.T) {
	p, st, queue, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, st.MarkProcessed(ctx, failedRecord("req-1", "")))

	// Each cycle: re-offer bumps the count, then the attempt fails again.
	for i := 0; i < 3; i++ {
		p.Sweep(ctx)
		p.AddFailed(ctx, "req-1", errors.New("still down"))
	}

	rec, err := st.GetTransaction(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)

	before := queue.Depth()
	p.Sweep(ctx)
	assert.Equal(t, before, queue.Depth(), "no fourth attempt")
}

func TestSweepRecoversStrandedPending(t *testing.T) {
	p, st, queue, _ := newTestProcessor(t)
	ctx := context.Background()

	stranded := failedRecord("req-stranded", "")
	stranded.Status = models.StatusPending
	stranded.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, st.MarkProcessed(ctx, stranded))

	// A freshly admitted record is still inside its batch window and must
	// not be re-offered.
	fresh := failedRecord("req-fresh", "")
	fresh.Status = models.StatusPending
	require.NoError(t, st.MarkProcessed(ctx, fresh))

	p.Sweep(ctx)
	assert.Equal(t, 1, queue.Depth())

	got, err := st.GetTransaction(ctx, "req-stranded")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount, "recovery is not a counted re-attempt")

	// The re-offer refreshed the record, so an immediate second sweep does
	// not stack a duplicate while the first copy is still queued.
	p.Sweep(ctx)
	assert.Equal(t, 1, queue.Depth())
}
