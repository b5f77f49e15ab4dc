package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-hq/relayer/pkg/models"
)

type fakeWallets struct {
	snapshot map[int][]models.WalletStatus
}

func (f *fakeWallets) Snapshot() map[int][]models.WalletStatus { return f.snapshot }

type fakeQueue struct {
	depths map[int]int
}

func (f *fakeQueue) Depth() int {
	total := 0
	for _, d := range f.depths {
		total += d
	}
	return total
}

func (f *fakeQueue) DepthByChain() map[int]int { return f.depths }

func wallets(chainID, available, busy int) []models.WalletStatus {
	var out []models.WalletStatus
	for i := 0; i < available; i++ {
		out = append(out, models.WalletStatus{ChainID: chainID, IsAvailable: true})
	}
	for i := 0; i < busy; i++ {
		out = append(out, models.WalletStatus{ChainID: chainID, IsAvailable: false})
	}
	return out
}

func TestReportStable(t *testing.T) {
	tel := New(models.SupportedChains, 0.2,
		&fakeWallets{snapshot: map[int][]models.WalletStatus{
			models.BaseChainID:     wallets(models.BaseChainID, 2, 0),
			models.ArbitrumChainID: wallets(models.ArbitrumChainID, 1, 1),
		}},
		&fakeQueue{depths: map[int]int{models.BaseChainID: 3}},
	)

	report := tel.Report()
	assert.Equal(t, BridgeLinkStable, report.BridgeLink)
	assert.Equal(t, "operational", report.EncryptionEngine)
	assert.Equal(t, "active", report.ZkSystemStatus)
	assert.Equal(t, []string{"aleo", "base", "arbitrum"}, report.NetworkOrientation)
	assert.False(t, report.Timestamp.IsZero())

	// 3 of 4 wallets available: bucket 6 of 0..8
	assert.Equal(t, 6, report.HealthBucket)

	base := report.Queues["8453"]
	assert.Equal(t, 3, base.QueueDepth)
	assert.Equal(t, 2, base.WalletCount)
}

func TestReportDegradedWhenChainHasNoWallets(t *testing.T) {
	tel := New(models.SupportedChains, 0.2,
		&fakeWallets{snapshot: map[int][]models.WalletStatus{
			models.BaseChainID:     wallets(models.BaseChainID, 2, 0),
			models.ArbitrumChainID: wallets(models.ArbitrumChainID, 0, 2),
		}},
		&fakeQueue{depths: map[int]int{}},
	)

	report := tel.Report()
	assert.Equal(t, BridgeLinkDegraded, report.BridgeLink)
}

func TestReportToleratesMissingSources(t *testing.T) {
	tel := New(models.SupportedChains, 0.2, nil, nil)

	report := tel.Report()
	assert.Equal(t, BridgeLinkDegraded, report.BridgeLink)
	assert.Equal(t, "degraded", report.EncryptionEngine)
	assert.Empty(t, report.Queues)
}

func TestQueueMetricsStability(t *testing.T) {
	tests := []struct {
		name       string
		depth      int
		wallets    int
		rate       float64
		stable     bool
		throughput float64
	}{
		{
			name:       "under capacity",
			depth:      1,
			wallets:    10,
			rate:       0.5,
			stable:     true,
			throughput: 1,
		},
		{
			name:       "over capacity",
			depth:      100,
			wallets:    2,
			rate:       0.5,
			stable:     false,
			throughput: 1,
		},
		{
			name:       "no wallets",
			depth:      5,
			wallets:    0,
			rate:       0.5,
			stable:     false,
			throughput: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tel := New(nil, tc.rate, nil, nil)
			m := tel.queueMetrics(tc.depth, tc.wallets)
			assert.Equal(t, tc.stable, m.Stable)
			assert.Equal(t, tc.throughput, m.Throughput)
			assert.Equal(t, tc.depth, m.QueueDepth)
		})
	}
}

func TestHealthBucket(t *testing.T) {
	tests := []struct {
		available int
		total     int
		expected  int
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 4, 2},
		{2, 4, 4},
		{4, 4, 8},
		{9, 9, 8},
	}

	for _, tc := range tests {
		got := healthBucket(tc.available, tc.total)
		require.Equal(t, tc.expected, got, "available=%d total=%d", tc.available, tc.total)
	}
}
