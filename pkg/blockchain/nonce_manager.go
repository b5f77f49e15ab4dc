package blockchain

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// NonceManager handles nonce allocation and tracking per signer account.
// Acquiring a nonce and submitting with it must never race across concurrent
// wallet executions on the same account.
type NonceManager struct {
	// Per-account data structures, keyed by chain id and signer address
	accounts map[accountKey]*accountNonceData
	// Global lock for accessing the accounts map
	mu sync.RWMutex
}

type accountKey struct {
	chainID int
	address common.Address
}

// accountNonceData holds nonce data for a single signer on a single chain
type accountNonceData struct {
	// Current nonce counter
	currentNonce uint64
	// Set of allocated nonces with submissions in flight
	pendingNonces map[uint64]common.Hash
	// Last time nonce was synchronized with the blockchain
	lastSync time.Time
	// Account-specific mutex for nonce operations
	mu sync.Mutex
}

// NewNonceManager creates a new nonce manager
func NewNonceManager() *NonceManager {
	return &NonceManager{
		accounts: make(map[accountKey]*accountNonceData),
	}
}

// account ensures the per-signer data is initialized and returns it
func (nm *NonceManager) account(chainID int, address common.Address) *accountNonceData {
	key := accountKey{chainID: chainID, address: address}

	nm.mu.RLock()
	data, exists := nm.accounts[key]
	nm.mu.RUnlock()
	if exists {
		return data
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if data, exists = nm.accounts[key]; exists {
		return data
	}
	data = &accountNonceData{pendingNonces: make(map[uint64]common.Hash)}
	nm.accounts[key] = data
	return data
}

// GetNonce reserves and returns the next available nonce for the signer
func (nm *NonceManager) GetNonce(ctx context.Context, chainID int, client *ethclient.Client, address common.Address) (uint64, error) {
	data := nm.account(chainID, address)

	data.mu.Lock()
	defer data.mu.Unlock()

	// If nonce hasn't been initialized or it's been more than 5 minutes since last sync
	if data.lastSync.IsZero() || time.Since(data.lastSync) > 5*time.Minute {
		nonce, err := client.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}

		// If our tracked nonce is behind, update it
		if nonce > data.currentNonce {
			log.Printf("Updating nonce for chain %d signer %s: %d -> %d",
				chainID, address.Hex(), data.currentNonce, nonce)
			data.currentNonce = nonce
		}
		data.lastSync = time.Now()
	}

	nonce := data.currentNonce
	data.currentNonce++
	return nonce, nil
}

// TrackTransaction records an in-flight submission for a reserved nonce
func (nm *NonceManager) TrackTransaction(chainID int, address common.Address, txHash common.Hash, nonce uint64) {
	data := nm.account(chainID, address)

	data.mu.Lock()
	defer data.mu.Unlock()

	data.pendingNonces[nonce] = txHash
	log.Printf("Tracking transaction for chain %d signer %s with nonce %d: %s",
		chainID, address.Hex(), nonce, txHash.Hex())
}

// CompleteTransaction clears a nonce once its submission reached a terminal state
func (nm *NonceManager) CompleteTransaction(chainID int, address common.Address, nonce uint64) {
	data := nm.account(chainID, address)

	data.mu.Lock()
	defer data.mu.Unlock()

	delete(data.pendingNonces, nonce)
}

// CompleteTransactionByHash clears the tracked nonce whose submission hash
// matches. The confirmation path only knows the chain and the hash, not the
// signer; a receipt means the nonce was consumed whether the transaction
// succeeded or reverted.
func (nm *NonceManager) CompleteTransactionByHash(chainID int, txHash common.Hash) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	for key, data := range nm.accounts {
		if key.chainID != chainID {
			continue
		}
		data.mu.Lock()
		for nonce, hash := range data.pendingNonces {
			if hash == txHash {
				delete(data.pendingNonces, nonce)
				data.mu.Unlock()
				return
			}
		}
		data.mu.Unlock()
	}
}

// ReleaseNonce returns an allocated nonce after a failed submission. The
// nonce is reusable only when no lower nonce is still pending.
func (nm *NonceManager) ReleaseNonce(chainID int, address common.Address, nonce uint64) {
	data := nm.account(chainID, address)

	data.mu.Lock()
	defer data.mu.Unlock()

	delete(data.pendingNonces, nonce)

	lowestPending, hasPending := lowestPendingNonce(data)
	if (!hasPending || nonce < lowestPending) && data.currentNonce > nonce {
		data.currentNonce = nonce
		log.Printf("Reusing nonce %d for chain %d signer %s after submission failure",
			nonce, chainID, address.Hex())
	}
}

// SyncWithBlockchain synchronizes nonce state with the blockchain
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, chainID int, client *ethclient.Client, address common.Address) error {
	data := nm.account(chainID, address)

	data.mu.Lock()
	defer data.mu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %v", err)
	}

	if nonce > data.currentNonce {
		log.Printf("Updating nonce for chain %d signer %s: %d -> %d",
			chainID, address.Hex(), data.currentNonce, nonce)
		data.currentNonce = nonce
	}
	data.lastSync = time.Now()
	return nil
}

// PendingCount returns the number of in-flight submissions for the signer
func (nm *NonceManager) PendingCount(chainID int, address common.Address) int {
	data := nm.account(chainID, address)

	data.mu.Lock()
	defer data.mu.Unlock()

	return len(data.pendingNonces)
}

func lowestPendingNonce(data *accountNonceData) (uint64, bool) {
	var lowest uint64
	found := false
	for nonce := range data.pendingNonces {
		if !found || nonce < lowest {
			lowest = nonce
			found = true
		}
	}
	return lowest, found
}
