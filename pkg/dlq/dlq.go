package dlq

import (
	"context"
	"strconv"
	"time"

	"github.com/veilpay-hq/relayer/pkg/batchqueue"
	"github.com/veilpay-hq/relayer/pkg/blockchain"
	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/metrics"
	"github.com/veilpay-hq/relayer/pkg/models"
	"github.com/veilpay-hq/relayer/pkg/ratelimit"
	"github.com/veilpay-hq/relayer/pkg/store"
)

// retryPageSize bounds how many failed records one sweep re-offers.
const retryPageSize = 100

// Processor is the dead letter side of the pipeline: it parks failed intents
// in the store and periodically re-offers the retryable ones back through the
// batch queue, so retries follow the same wallet and rate limiting protocol
// as first attempts. Records that exhaust their retry budget stay failed and
// visible rather than being dropped.
type Processor struct {
	store      *store.Store
	queue      *batchqueue.Queue
	checkers   map[int]blockchain.ConfirmationChecker
	limiters   map[int]*ratelimit.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     logger.Logger
}

// New creates a dead letter processor.
func New(
	st *store.Store,
	queue *batchqueue.Queue,
	checkers map[int]blockchain.ConfirmationChecker,
	limiters map[int]*ratelimit.Limiter,
	maxRetries int,
	retryDelay time.Duration,
	log logger.Logger,
) *Processor {
	return &Processor{
		store:      st,
		queue:      queue,
		checkers:   checkers,
		limiters:   limiters,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     log,
	}
}

// AddFailed parks a record as failed with the cause attached. The retry count
// is not touched here; it only moves when the record is actually re-offered.
func (p *Processor) AddFailed(ctx context.Context, txID string, cause error) {
	upd := store.StatusUpdate{ErrorMessage: cause.Error()}
	if err := p.store.UpdateStatus(ctx, txID, models.StatusFailed, upd); err != nil {
		p.logger.Error("Failed to park %s in dead letter queue: %v", txID, err)
		return
	}

	rec, err := p.store.GetTransaction(ctx, txID)
	if err != nil || rec == nil {
		return
	}
	p.logger.NoticeWithChain(rec.ChainID, "Intent %s parked in dead letter queue (attempt %d/%d): %v",
		txID, rec.RetryCount, p.maxRetries, cause)
	if !p.ShouldRetry(rec) {
		metrics.MaxRetriesReached.WithLabelValues(strconv.Itoa(rec.ChainID)).Inc()
		p.logger.ErrorWithChain(rec.ChainID, "Intent %s exhausted its retry budget, leaving failed", txID)
	}
}

// ShouldRetry reports whether the record still has retry budget left.
func (p *Processor) ShouldRetry(rec *models.ProcessedTransaction) bool {
	return rec.RetryCount < p.maxRetries
}

// Start runs the retry loop until ctx is cancelled. One sweep runs
// immediately so records stranded by a crash are recovered without waiting a
// full retry delay.
func (p *Processor) Start(ctx context.Context) {
	go func() {
		p.logger.Info("Dead letter retry loop started (delay %v, max retries %d)", p.retryDelay, p.maxRetries)
		ticker := time.NewTicker(p.retryDelay)
		defer ticker.Stop()

		p.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Dead letter retry loop shutting down")
				return
			case <-ticker.C:
				p.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one retry pass: re-offer one page of retryable failed records,
// oldest first, then recover stranded pending records. A record whose earlier
// submission turns out to have confirmed on chain is reconciled to confirmed
// instead of being executed again.
func (p *Processor) Sweep(ctx context.Context) {
	p.updateDepthGauge(ctx)

	recs, err := p.store.GetFailedTransactions(ctx, p.maxRetries, retryPageSize)
	if err != nil {
		p.logger.Error("Failed to load retryable transactions: %v", err)
		return
	}

	for i := range recs {
		rec := &recs[i]
		if rec.PublicChainTxHash != "" && p.reconcile(ctx, rec) {
			continue
		}

		upd := store.StatusUpdate{ResetTxHash: true}
		if err := p.store.UpdateStatus(ctx, rec.TxID, models.StatusPending, upd); err != nil {
			p.logger.ErrorWithChain(rec.ChainID, "Failed to re-offer %s: %v", rec.TxID, err)
			continue
		}
		p.queue.Enqueue(rec.Intent())
		metrics.RetryCount.WithLabelValues(strconv.Itoa(rec.ChainID)).Inc()
		p.logger.NoticeWithChain(rec.ChainID, "Re-offered intent %s (attempt %d/%d)",
			rec.TxID, rec.RetryCount+1, p.maxRetries)
	}

	p.recoverStranded(ctx)
}

// recoverStranded re-offers pending records that never got a submission hash
// and have not been touched for a full retry delay. These records have no
// live batch backing them (their queue entry died with the process, or the
// execution attempt was dropped before submission), so without this pass
// they would sit pending forever. The grace period keeps freshly admitted
// intents, still waiting out their batch window, out of scope. Touching
// processed_at before enqueueing keeps a record from being re-offered again
// while a copy is still working its way through the queue; the executor's
// idempotency gate makes any residual duplicate a no-op.
func (p *Processor) recoverStranded(ctx context.Context) {
	cutoff := time.Now().Add(-p.retryDelay)
	recs, err := p.store.GetStalePendingTransactions(ctx, cutoff, retryPageSize)
	if err != nil {
		p.logger.Error("Failed to load stranded transactions: %v", err)
		return
	}

	for i := range recs {
		rec := &recs[i]
		if err := p.store.UpdateStatus(ctx, rec.TxID, models.StatusPending, store.StatusUpdate{}); err != nil {
			p.logger.ErrorWithChain(rec.ChainID, "Failed to refresh stranded record %s: %v", rec.TxID, err)
			continue
		}
		p.queue.Enqueue(rec.Intent())
		p.logger.NoticeWithChain(rec.ChainID, "Recovered stranded intent %s (no submission recorded)", rec.TxID)
	}
}

// reconcile checks whether a failed record's last submission actually made it
// on chain. Returns true when the record was settled without a re-offer.
func (p *Processor) reconcile(ctx context.Context, rec *models.ProcessedTransaction) bool {
	checker, ok := p.checkers[rec.ChainID]
	if !ok {
		return false
	}

	var state blockchain.TxState
	check := func() error {
		s, err := checker.TxStatus(ctx, rec.PublicChainTxHash)
		state = s
		return err
	}
	var err error
	if limiter, ok := p.limiters[rec.ChainID]; ok {
		err = limiter.Execute(ctx, check)
	} else {
		err = check()
	}
	if err != nil {
		p.logger.ErrorWithChain(rec.ChainID, "Reconciliation check for %s failed: %v", rec.TxID, err)
		return false
	}

	if state != blockchain.TxStateConfirmed {
		return false
	}
	if err := p.store.UpdateStatus(ctx, rec.TxID, models.StatusConfirmed, store.StatusUpdate{}); err != nil {
		p.logger.ErrorWithChain(rec.ChainID, "Failed to reconcile %s to confirmed: %v", rec.TxID, err)
		return false
	}
	metrics.Confirmations.WithLabelValues(strconv.Itoa(rec.ChainID), "confirmed").Inc()
	p.logger.InfoWithChain(rec.ChainID, "Intent %s reconciled: %s had already confirmed on chain",
		rec.TxID, rec.PublicChainTxHash)
	return true
}

func (p *Processor) updateDepthGauge(ctx context.Context) {
	stats, err := p.store.GetStats(ctx)
	if err != nil {
		return
	}
	metrics.DeadLetterDepth.Set(float64(stats[models.StatusFailed]))
}
