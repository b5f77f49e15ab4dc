package telemetry

import (
	"math"
	"strconv"
	"time"

	"github.com/veilpay-hq/relayer/pkg/models"
)

// Bridge link states reported to operators.
const (
	BridgeLinkStable   = "STABLE"
	BridgeLinkDegraded = "DEGRADED"
)

// healthBuckets is the number of discrete health levels derived from wallet
// availability.
const healthBuckets = 9

// WalletSource provides a point-in-time copy of wallet pool state.
type WalletSource interface {
	Snapshot() map[int][]models.WalletStatus
}

// QueueSource provides a point-in-time reading of batch queue depth.
type QueueSource interface {
	Depth() int
	DepthByChain() map[int]int
}

// Report is the read-only health view exposed to dashboards.
type Report struct {
	BridgeLink         string                         `json:"bridgeLink"`
	EncryptionEngine   string                         `json:"encryptionEngine"`
	NetworkOrientation []string                       `json:"networkOrientation"`
	ZkSystemStatus     string                         `json:"zkSystemStatus"`
	HealthBucket       int                            `json:"healthBucket"`
	Queues             map[string]models.QueueMetrics `json:"queues"`
	Timestamp          time.Time                      `json:"timestamp"`
}

// Telemetry derives system health from live wallet pool and batch queue
// state. It is a pure read model: it computes over snapshots and never
// mutates or caches its sources, and it degrades instead of failing when a
// source is unavailable.
type Telemetry struct {
	chains        []int
	executionRate float64
	wallets       WalletSource
	queue         QueueSource
	now           func() time.Time
}

// New creates a telemetry reader over the given sources. executionRate is the
// assumed per-wallet service rate in intents per second.
func New(chains []int, executionRate float64, wallets WalletSource, queue QueueSource) *Telemetry {
	return &Telemetry{
		chains:        chains,
		executionRate: executionRate,
		wallets:       wallets,
		queue:         queue,
		now:           time.Now,
	}
}

// Report computes the current health view. Missing sources yield a degraded
// reading rather than an error; telemetry must never fail its caller.
func (t *Telemetry) Report() Report {
	report := Report{
		BridgeLink:         BridgeLinkDegraded,
		EncryptionEngine:   "degraded",
		ZkSystemStatus:     "degraded",
		NetworkOrientation: t.orientation(),
		Queues:             make(map[string]models.QueueMetrics),
		Timestamp:          t.now().UTC(),
	}
	if t.wallets == nil || t.queue == nil {
		return report
	}

	snapshot := t.wallets.Snapshot()
	depths := t.queue.DepthByChain()

	// The bridge link is stable only while every destination chain has at
	// least one available signer.
	stable := len(t.chains) > 0
	availableTotal, walletTotal := 0, 0
	for _, chainID := range t.chains {
		available, total := countWallets(snapshot[chainID])
		availableTotal += available
		walletTotal += total
		if available == 0 {
			stable = false
		}

		report.Queues[strconv.Itoa(chainID)] = t.queueMetrics(depths[chainID], total)
	}

	if stable {
		report.BridgeLink = BridgeLinkStable
		report.EncryptionEngine = "operational"
		report.ZkSystemStatus = "active"
	}
	report.HealthBucket = healthBucket(availableTotal, walletTotal)
	return report
}

// Metrics aggregates queue health across all chains using M/M/k reasoning:
// the system is stable while the arrival side stays below k wallets times the
// per-wallet service rate.
func (t *Telemetry) Metrics() models.QueueMetrics {
	if t.wallets == nil || t.queue == nil {
		return models.QueueMetrics{ExecutionRate: t.executionRate}
	}

	walletTotal := 0
	for _, wallets := range t.wallets.Snapshot() {
		walletTotal += len(wallets)
	}
	return t.queueMetrics(t.queue.Depth(), walletTotal)
}

func (t *Telemetry) queueMetrics(depth, walletCount int) models.QueueMetrics {
	lambda := float64(depth)
	capacity := float64(walletCount) * t.executionRate

	throughput := math.Min(lambda, capacity)
	waitTime := 0.0
	if throughput > 0 {
		waitTime = lambda / throughput
	}

	return models.QueueMetrics{
		QueueDepth:    depth,
		ExecutionRate: t.executionRate,
		WalletCount:   walletCount,
		Throughput:    throughput,
		WaitTime:      waitTime,
		Stable:        lambda < capacity,
	}
}

func (t *Telemetry) orientation() []string {
	orientation := []string{"aleo"}
	for _, chainID := range t.chains {
		switch chainID {
		case models.BaseChainID:
			orientation = append(orientation, "base")
		case models.ArbitrumChainID:
			orientation = append(orientation, "arbitrum")
		default:
			orientation = append(orientation, strconv.Itoa(chainID))
		}
	}
	return orientation
}

func countWallets(wallets []models.WalletStatus) (available, total int) {
	for _, w := range wallets {
		total++
		if w.IsAvailable {
			available++
		}
	}
	return available, total
}

// healthBucket maps the wallet availability ratio onto one of nine equal
// buckets, 0 (no capacity) through 8 (fully available).
func healthBucket(available, total int) int {
	if total == 0 {
		return 0
	}
	bucket := int(float64(available) / float64(total) * healthBuckets)
	if bucket >= healthBuckets {
		bucket = healthBuckets - 1
	}
	return bucket
}
