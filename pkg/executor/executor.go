package executor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/veilpay-hq/relayer/pkg/batchqueue"
	"github.com/veilpay-hq/relayer/pkg/blockchain"
	"github.com/veilpay-hq/relayer/pkg/circuitbreaker"
	"github.com/veilpay-hq/relayer/pkg/config"
	"github.com/veilpay-hq/relayer/pkg/dlq"
	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/metrics"
	"github.com/veilpay-hq/relayer/pkg/models"
	"github.com/veilpay-hq/relayer/pkg/ratelimit"
	"github.com/veilpay-hq/relayer/pkg/store"
	"github.com/veilpay-hq/relayer/pkg/walletpool"
)

// ChainBackend bundles everything the executor needs to talk to one
// destination chain.
type ChainBackend struct {
	Submitter blockchain.Submitter
	Checker   blockchain.ConfirmationChecker
	Limiter   *ratelimit.Limiter
	Breaker   *circuitbreaker.CircuitBreaker
}

// Executor drains ready batches, matches them to available signer wallets and
// submits payments through the rate limiter. It never blocks waiting for a
// wallet: a batch that cannot be placed stays in the backlog for the next
// scheduling tick.
type Executor struct {
	cfg      *config.Config
	logger   logger.Logger
	store    *store.Store
	queue    *batchqueue.Queue
	wallets  *walletpool.Pool
	backends map[int]ChainBackend
	dlq      *dlq.Processor

	mu      sync.Mutex
	backlog map[int][]*models.Batch
	wg      sync.WaitGroup
}

// New creates an executor.
func New(
	cfg *config.Config,
	log logger.Logger,
	st *store.Store,
	queue *batchqueue.Queue,
	wallets *walletpool.Pool,
	backends map[int]ChainBackend,
	deadLetter *dlq.Processor,
) *Executor {
	return &Executor{
		cfg:      cfg,
		logger:   log,
		store:    st,
		queue:    queue,
		wallets:  wallets,
		backends: backends,
		dlq:      deadLetter,
		backlog:  make(map[int][]*models.Batch),
	}
}

// Start launches the drain and confirmation loops. Both stop when ctx is
// cancelled; call Wait to let in-flight batch executions finish.
func (e *Executor) Start(ctx context.Context) {
	go e.drainLoop(ctx)
	go e.confirmLoop(ctx)
}

// Wait blocks until all in-flight batch executions have completed.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// drainLoop periodically pulls ready batches out of the queue and dispatches
// them to wallets, FIFO per chain.
func (e *Executor) drainLoop(ctx context.Context) {
	e.logger.Info("Executor drain loop started (interval %v)", e.cfg.DrainInterval())
	ticker := time.NewTicker(e.cfg.DrainInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor drain loop shutting down")
			return
		case now := <-ticker.C:
			e.tick(ctx, now)
		}
	}
}

// tick moves newly ready batches into the backlog and dispatches as many as
// there are wallets for.
func (e *Executor) tick(ctx context.Context, now time.Time) {
	drained := e.queue.DrainReady(now)
	metrics.QueueDepth.Set(float64(e.queue.Depth()))

	e.mu.Lock()
	for _, batch := range drained {
		e.backlog[batch.ChainID] = append(e.backlog[batch.ChainID], batch)
		metrics.BatchesDrained.WithLabelValues(strconv.Itoa(batch.ChainID)).Inc()
		metrics.BatchSize.WithLabelValues(strconv.Itoa(batch.ChainID)).Observe(float64(batch.Size()))
	}

	chainIDs := make([]int, 0, len(e.backlog))
	for chainID := range e.backlog {
		chainIDs = append(chainIDs, chainID)
	}
	sort.Ints(chainIDs)

	type placement struct {
		batch  *models.Batch
		wallet string
	}
	var placed []placement
	for _, chainID := range chainIDs {
		for len(e.backlog[chainID]) > 0 {
			wallet, ok := e.wallets.Acquire(chainID)
			if !ok {
				// No signer free; the batch stays queued for the next tick
				break
			}
			batch := e.backlog[chainID][0]
			e.backlog[chainID] = e.backlog[chainID][1:]
			placed = append(placed, placement{batch: batch, wallet: wallet})
		}
		if len(e.backlog[chainID]) == 0 {
			delete(e.backlog, chainID)
		}
	}
	e.mu.Unlock()

	for _, p := range placed {
		e.wg.Add(1)
		go e.executeBatch(ctx, p.batch, p.wallet)
	}
	e.updateWalletGauges()
}

// executeBatch submits every intent of a batch through one acquired wallet,
// releasing it when the batch completes, success or failure.
func (e *Executor) executeBatch(ctx context.Context, batch *models.Batch, wallet string) {
	defer e.wg.Done()
	defer func() {
		if err := e.wallets.Release(batch.ChainID, wallet); err != nil {
			e.logger.ErrorWithChain(batch.ChainID, "Failed to release wallet %s: %v", wallet, err)
		}
		e.updateWalletGauges()
	}()

	e.logger.InfoWithChain(batch.ChainID, "Executing batch %s (%d intents) with wallet %s",
		batch.ID, batch.Size(), wallet)

	for _, intent := range batch.Intents {
		start := time.Now()
		result := e.executeIntent(ctx, intent, wallet)
		metrics.IntentProcessingTime.WithLabelValues(strconv.Itoa(intent.ChainID)).Observe(time.Since(start).Seconds())

		if result.Success {
			metrics.IntentsExecuted.WithLabelValues(strconv.Itoa(intent.ChainID), "success").Inc()
		} else if result.Error != "" {
			metrics.IntentsExecuted.WithLabelValues(strconv.Itoa(intent.ChainID), "failed").Inc()
			metrics.ExecutionErrors.WithLabelValues(strconv.Itoa(intent.ChainID)).Inc()
		}
	}
}

// executeIntent runs one execution attempt for an intent. Every failure mode
// is converted into an ExecutionResult and a store or dead letter update;
// nothing escapes this function as a panic or unhandled error.
func (e *Executor) executeIntent(ctx context.Context, intent models.TransferIntent, wallet string) models.ExecutionResult {
	result := models.ExecutionResult{RequestID: intent.RequestID, WalletAddress: wallet}

	backend, ok := e.backends[intent.ChainID]
	if !ok {
		result.Error = fmt.Sprintf("no backend configured for chain %d", intent.ChainID)
		e.logger.Error("Intent %s: %s", intent.RequestID, result.Error)
		e.dlq.AddFailed(ctx, intent.RequestID, fmt.Errorf("%s", result.Error))
		return result
	}

	// Idempotency gate: a confirmed record or a pending record with a live
	// hash must never be submitted again.
	rec, err := e.store.GetTransaction(ctx, intent.RequestID)
	if err != nil {
		// Without the gate reading we cannot rule out a duplicate spend, so
		// skip this attempt and park the record so the retry processor
		// re-offers it instead of leaving it stranded.
		result.Error = fmt.Sprintf("idempotency check failed: %v", err)
		e.logger.ErrorWithChain(intent.ChainID, "Intent %s: %s", intent.RequestID, result.Error)
		e.dlq.AddFailed(ctx, intent.RequestID, fmt.Errorf("%s", result.Error))
		return result
	}

	switch {
	case rec == nil:
		newRec := models.ProcessedTransaction{
			TxID:      intent.RequestID,
			RequestID: intent.RequestID,
			ChainID:   intent.ChainID,
			Amount:    intent.Amount,
			Recipient: intent.Recipient,
			Status:    models.StatusPending,
			AleoTxID:  intent.RequestID,
		}
		if err := e.store.MarkProcessed(ctx, newRec); err != nil {
			result.Error = fmt.Sprintf("failed to create record: %v", err)
			e.logger.ErrorWithChain(intent.ChainID, "Intent %s: %s", intent.RequestID, result.Error)
			return result
		}
	case rec.Status == models.StatusConfirmed:
		e.logger.DebugWithChain(intent.ChainID, "Intent %s already confirmed, skipping", intent.RequestID)
		result.Success = true
		result.TxHash = rec.PublicChainTxHash
		return result
	case rec.Status == models.StatusPending && rec.PublicChainTxHash != "":
		e.logger.DebugWithChain(intent.ChainID, "Intent %s already in flight (%s), skipping",
			intent.RequestID, rec.PublicChainTxHash)
		return result
	case rec.Status == models.StatusFailed:
		// A failed record reaching the executor outside the dead letter path
		// is still a re-attempt and is counted as one.
		if err := e.store.UpdateStatus(ctx, intent.RequestID, models.StatusPending, store.StatusUpdate{ResetTxHash: true}); err != nil {
			result.Error = fmt.Sprintf("failed to mark re-attempt: %v", err)
			e.logger.ErrorWithChain(intent.ChainID, "Intent %s: %s", intent.RequestID, result.Error)
			return result
		}
	}

	if backend.Breaker != nil && backend.Breaker.IsEnabled() && backend.Breaker.IsOpen() {
		err := fmt.Errorf("circuit breaker open for chain %d", intent.ChainID)
		result.Error = err.Error()
		e.logger.NoticeWithChain(intent.ChainID, "Intent %s deferred: %v", intent.RequestID, err)
		e.dlq.AddFailed(ctx, intent.RequestID, err)
		return result
	}

	var txHash string
	waitStart := time.Now()
	submitErr := backend.Limiter.Execute(ctx, func() error {
		metrics.RateLimiterWait.WithLabelValues(strconv.Itoa(intent.ChainID)).Observe(time.Since(waitStart).Seconds())
		hash, err := backend.Submitter.Submit(ctx, wallet, intent.Recipient, intent.Amount)
		txHash = hash
		return err
	})

	if submitErr != nil {
		result.Error = submitErr.Error()
		e.logger.ErrorWithChain(intent.ChainID, "Intent %s submission failed: %v", intent.RequestID, submitErr)
		if backend.Breaker != nil {
			backend.Breaker.RecordFailure()
		}
		e.dlq.AddFailed(ctx, intent.RequestID, submitErr)
		return result
	}

	result.Success = true
	result.TxHash = txHash
	e.logger.InfoWithChain(intent.ChainID, "Intent %s submitted: %s (wallet %s)",
		intent.RequestID, txHash, wallet)

	// A persistence failure here is the most dangerous error class: funds
	// moved with no record. UpdateStatus retries at the storage layer; if it
	// still fails we log loudly and leave the record recoverable.
	if err := e.store.UpdateStatus(ctx, intent.RequestID, models.StatusPending, store.StatusUpdate{PublicChainTxHash: txHash}); err != nil {
		e.logger.ErrorWithChain(intent.ChainID,
			"CRITICAL: intent %s submitted as %s but record update failed: %v",
			intent.RequestID, txHash, err)
	}
	return result
}

func (e *Executor) updateWalletGauges() {
	for chainID := range e.backends {
		available, _ := e.wallets.Counts(chainID)
		metrics.WalletsAvailable.WithLabelValues(strconv.Itoa(chainID)).Set(float64(available))
	}
}
