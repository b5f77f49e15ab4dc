package models

import (
	"time"
)

// TxStatus is the lifecycle state of a processed transaction record.
type TxStatus string

const (
	// StatusPending indicates the payment was submitted and awaits finality.
	StatusPending TxStatus = "pending"
	// StatusConfirmed indicates finality was observed on the destination chain.
	StatusConfirmed TxStatus = "confirmed"
	// StatusFailed indicates the last execution attempt failed.
	StatusFailed TxStatus = "failed"
)

// Batch groups intents destined for the same chain so per-submission overhead
// is amortized. A batch is owned by the batch queue until handed to the
// executor; from then on it is immutable.
type Batch struct {
	ID        string
	ChainID   int
	Intents   []TransferIntent
	CreatedAt time.Time
	ReadyAt   time.Time
}

// Size returns the number of intents in the batch.
func (b *Batch) Size() int {
	return len(b.Intents)
}

// WalletStatus tracks one signer account on one chain. IsAvailable is false
// exactly while the signer has an in-flight submission; mutations go through
// the wallet pool's acquire/release protocol only.
type WalletStatus struct {
	Address      string
	ChainID      int
	IsAvailable  bool
	PendingCount int
	LastUsedAt   time.Time
}

// ExecutionResult is produced once per execution attempt. Multiple attempts
// for the same request id are possible; only the final accepted result is
// persisted as terminal.
type ExecutionResult struct {
	RequestID     string
	Success       bool
	TxHash        string
	Error         string
	WalletAddress string
}

// ProcessedTransaction is the durable record of an intent's lifecycle and the
// source of truth for idempotency. TxID equals the intent's request id.
type ProcessedTransaction struct {
	TxID              string
	RequestID         string
	ChainID           int
	Amount            string
	Recipient         string
	Status            TxStatus
	AleoTxID          string
	PublicChainTxHash string
	ErrorMessage      string
	CreatedAt         time.Time
	ProcessedAt       *time.Time
	RetryCount        int
}

// Intent reconstructs the transfer intent stored in the record, used by the
// dead letter retry path.
func (p *ProcessedTransaction) Intent() TransferIntent {
	return TransferIntent{
		RequestID: p.RequestID,
		ChainID:   p.ChainID,
		Amount:    p.Amount,
		Recipient: p.Recipient,
	}
}

// QueueMetrics is a derived, never persisted reading of engine health using
// finite-capacity queue (M/M/k) reasoning: arrival rate lambda against k
// wallets each serving at rate mu.
type QueueMetrics struct {
	QueueDepth    int     `json:"queue_depth"`
	ExecutionRate float64 `json:"execution_rate"`
	WalletCount   int     `json:"wallet_count"`
	Throughput    float64 `json:"throughput"`
	WaitTime      float64 `json:"wait_time_seconds"`
	Stable        bool    `json:"stable"`
}
