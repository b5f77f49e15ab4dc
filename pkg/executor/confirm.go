package executor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/veilpay-hq/relayer/pkg/blockchain"
	"github.com/veilpay-hq/relayer/pkg/metrics"
	"github.com/veilpay-hq/relayer/pkg/models"
	"github.com/veilpay-hq/relayer/pkg/store"
)

// confirmPageSize bounds how many in-flight submissions one confirmation
// sweep inspects, so a backlog cannot starve the rate limiter.
const confirmPageSize = 100

// confirmLoop polls the destination chains for finality of submitted
// transactions. Working off the store rather than in-memory state means a
// restart resumes confirmation tracking for free.
func (e *Executor) confirmLoop(ctx context.Context) {
	e.logger.Info("Confirmation monitor started (interval %v)", e.cfg.ConfirmationPollInterval)
	ticker := time.NewTicker(e.cfg.ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Confirmation monitor shutting down")
			return
		case <-ticker.C:
			e.checkPending(ctx)
		}
	}
}

// checkPending inspects one page of in-flight submissions and settles each
// one that reached finality, reverted, or exceeded the confirmation timeout.
func (e *Executor) checkPending(ctx context.Context) {
	recs, err := e.store.GetPendingTransactions(ctx, confirmPageSize)
	if err != nil {
		e.logger.Error("Failed to load pending transactions: %v", err)
		return
	}

	for _, rec := range recs {
		backend, ok := e.backends[rec.ChainID]
		if !ok {
			continue
		}

		var state blockchain.TxState
		err := backend.Limiter.Execute(ctx, func() error {
			s, err := backend.Checker.TxStatus(ctx, rec.PublicChainTxHash)
			state = s
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.ErrorWithChain(rec.ChainID, "Confirmation check for %s (%s) failed: %v",
				rec.TxID, rec.PublicChainTxHash, err)
			continue
		}

		chainLabel := strconv.Itoa(rec.ChainID)
		switch state {
		case blockchain.TxStateConfirmed:
			if err := e.store.UpdateStatus(ctx, rec.TxID, models.StatusConfirmed, store.StatusUpdate{}); err != nil {
				e.logger.ErrorWithChain(rec.ChainID, "Failed to confirm %s: %v", rec.TxID, err)
				continue
			}
			metrics.Confirmations.WithLabelValues(chainLabel, "confirmed").Inc()
			e.logger.InfoWithChain(rec.ChainID, "Intent %s confirmed: %s", rec.TxID, rec.PublicChainTxHash)

		case blockchain.TxStateReverted:
			metrics.Confirmations.WithLabelValues(chainLabel, "reverted").Inc()
			e.dlq.AddFailed(ctx, rec.TxID, errors.New("transaction reverted on chain"))

		case blockchain.TxStatePending:
			submittedAt := rec.CreatedAt
			if rec.ProcessedAt != nil {
				submittedAt = *rec.ProcessedAt
			}
			if time.Since(submittedAt) > e.cfg.ConfirmationTimeout {
				metrics.Confirmations.WithLabelValues(chainLabel, "timeout").Inc()
				e.dlq.AddFailed(ctx, rec.TxID, errors.New("confirmation timeout exceeded"))
			}
		}
	}
}
