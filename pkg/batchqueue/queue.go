package batchqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilpay-hq/relayer/pkg/models"
)

// Queue accumulates intents per destination chain and releases them as
// batches on a time or size trigger. Enqueue never executes anything inline;
// even with a zero window a batch waits for the next scheduler tick, so the
// admission path can never reenter the executor.
type Queue struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	open    map[int]*models.Batch
	closed  map[int][]*models.Batch
	now     func() time.Time
}

// New creates a batch queue with the given window and size cap.
func New(window time.Duration, maxSize int) *Queue {
	return &Queue{
		window:  window,
		maxSize: maxSize,
		open:    make(map[int]*models.Batch),
		closed:  make(map[int][]*models.Batch),
		now:     time.Now,
	}
}

// Enqueue appends the intent to its chain's open batch, creating one with
// readyAt = now + window if none exists. An open batch that reaches the size
// cap closes immediately regardless of its window.
func (q *Queue) Enqueue(intent models.TransferIntent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch, ok := q.open[intent.ChainID]
	if !ok {
		now := q.now()
		batch = &models.Batch{
			ID:        uuid.NewString(),
			ChainID:   intent.ChainID,
			CreatedAt: now,
			ReadyAt:   now.Add(q.window),
		}
		q.open[intent.ChainID] = batch
	}

	batch.Intents = append(batch.Intents, intent)

	if batch.Size() >= q.maxSize {
		q.closed[intent.ChainID] = append(q.closed[intent.ChainID], batch)
		delete(q.open, intent.ChainID)
	}
}

// DrainReady removes and returns every batch whose window has elapsed or that
// closed on the size trigger, ordered by chain id and oldest first within a
// chain. Intent order inside a chain is never rearranged.
func (q *Queue) DrainReady(now time.Time) []*models.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	chainIDs := make([]int, 0, len(q.closed)+len(q.open))
	seen := make(map[int]bool)
	for chainID := range q.closed {
		chainIDs = append(chainIDs, chainID)
		seen[chainID] = true
	}
	for chainID := range q.open {
		if !seen[chainID] {
			chainIDs = append(chainIDs, chainID)
		}
	}
	sort.Ints(chainIDs)

	var ready []*models.Batch
	for _, chainID := range chainIDs {
		// Size-closed batches first: they are always older than the open one
		ready = append(ready, q.closed[chainID]...)
		delete(q.closed, chainID)

		if batch, ok := q.open[chainID]; ok && !batch.ReadyAt.After(now) {
			ready = append(ready, batch)
			delete(q.open, chainID)
		}
	}
	return ready
}

// Depth returns the total number of queued intents across all chains, used as
// the arrival-side reading for telemetry.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := 0
	for _, batch := range q.open {
		depth += batch.Size()
	}
	for _, batches := range q.closed {
		for _, batch := range batches {
			depth += batch.Size()
		}
	}
	return depth
}

// DepthByChain returns queued intent counts per chain.
func (q *Queue) DepthByChain() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := make(map[int]int)
	for chainID, batch := range q.open {
		depths[chainID] += batch.Size()
	}
	for chainID, batches := range q.closed {
		for _, batch := range batches {
			depths[chainID] += batch.Size()
		}
	}
	return depths
}
