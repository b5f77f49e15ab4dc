package walletpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/veilpay-hq/relayer/pkg/models"
)

// Pool is the per-chain registry of signer accounts. Availability and load
// state are mutated only through Acquire and Release, which are mutually
// exclusive across callers; two concurrent selection attempts can never hold
// the same wallet.
type Pool struct {
	mu      sync.Mutex
	wallets map[int][]*models.WalletStatus
	now     func() time.Time
}

// New creates an empty wallet pool.
func New() *Pool {
	return &Pool{
		wallets: make(map[int][]*models.WalletStatus),
		now:     time.Now,
	}
}

// Register adds a signer account for a chain. Wallets start available.
func (p *Pool) Register(chainID int, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.wallets[chainID] {
		if w.Address == address {
			return
		}
	}
	p.wallets[chainID] = append(p.wallets[chainID], &models.WalletStatus{
		Address:     address,
		ChainID:     chainID,
		IsAvailable: true,
	})
}

// Acquire selects the least-recently-used available wallet for the chain and
// atomically flips it unavailable, incrementing its pending count. It returns
// false when no wallet is free; callers retry on the next scheduling tick
// rather than blocking.
func (p *Pool) Acquire(chainID int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var selected *models.WalletStatus
	for _, w := range p.wallets[chainID] {
		if !w.IsAvailable {
			continue
		}
		if selected == nil || w.LastUsedAt.Before(selected.LastUsedAt) {
			selected = w
		}
	}
	if selected == nil {
		return "", false
	}

	selected.IsAvailable = false
	selected.PendingCount++
	return selected.Address, true
}

// Release returns a wallet to the pool after a submission completes, success
// or failure, and stamps its last-used time.
func (p *Pool) Release(chainID int, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.wallets[chainID] {
		if w.Address != address {
			continue
		}
		w.IsAvailable = true
		if w.PendingCount > 0 {
			w.PendingCount--
		}
		w.LastUsedAt = p.now()
		return nil
	}
	return fmt.Errorf("wallet %s not registered for chain %d", address, chainID)
}

// Snapshot returns a copy of every wallet record, safe for telemetry to read
// without holding pool locks.
func (p *Pool) Snapshot() map[int][]models.WalletStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int][]models.WalletStatus, len(p.wallets))
	for chainID, wallets := range p.wallets {
		copies := make([]models.WalletStatus, len(wallets))
		for i, w := range wallets {
			copies[i] = *w
		}
		out[chainID] = copies
	}
	return out
}

// Counts returns available and total wallet counts for a chain.
func (p *Pool) Counts(chainID int) (available, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.wallets[chainID] {
		total++
		if w.IsAvailable {
			available++
		}
	}
	return available, total
}
