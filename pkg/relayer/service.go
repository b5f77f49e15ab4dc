// Package relayer wires the engine together: chain connections, wallet pool,
// rate limiters, batch queue, executor, dead letter processor and the HTTP
// server.
package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/veilpay-hq/relayer/pkg/api"
	"github.com/veilpay-hq/relayer/pkg/batchqueue"
	"github.com/veilpay-hq/relayer/pkg/blockchain"
	"github.com/veilpay-hq/relayer/pkg/circuitbreaker"
	"github.com/veilpay-hq/relayer/pkg/config"
	"github.com/veilpay-hq/relayer/pkg/dlq"
	"github.com/veilpay-hq/relayer/pkg/executor"
	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/metrics"
	"github.com/veilpay-hq/relayer/pkg/ratelimit"
	"github.com/veilpay-hq/relayer/pkg/sourceledger"
	"github.com/veilpay-hq/relayer/pkg/store"
	"github.com/veilpay-hq/relayer/pkg/telemetry"
	"github.com/veilpay-hq/relayer/pkg/walletpool"
)

// gasPriceInterval is how often chain gas prices are refreshed for metrics.
const gasPriceInterval = time.Minute

// snapshotInterval is how often queue telemetry is persisted to the store.
const snapshotInterval = time.Minute

// Service owns every long-running component of the relayer.
type Service struct {
	cfg             *config.Config
	logger          logger.Logger
	store           *store.Store
	queue           *batchqueue.Queue
	wallets         *walletpool.Pool
	chains          map[int]*blockchain.ChainConfig
	circuitBreakers map[int]*circuitbreaker.CircuitBreaker
	telemetry       *telemetry.Telemetry
	executor        *executor.Executor
	deadLetter      *dlq.Processor
	apiServer       *api.Server
}

// NewService connects to every configured chain and builds the pipeline.
func NewService(cfg *config.Config, log logger.Logger) (*Service, error) {
	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %v", err)
	}

	nonces := blockchain.NewNonceManager()
	wallets := walletpool.New()
	chains := make(map[int]*blockchain.ChainConfig)
	circuitBreakers := make(map[int]*circuitbreaker.CircuitBreaker)
	backends := make(map[int]executor.ChainBackend)
	checkers := make(map[int]blockchain.ConfirmationChecker)
	limiters := make(map[int]*ratelimit.Limiter)

	for chainID, chainCfg := range cfg.Chains {
		chain := blockchain.NewChainConfig(chainID, chainCfg.RPCURL)
		if err := chain.Connect(chainCfg.PrivateKeys); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to connect to chain %d: %v", chainID, err)
		}
		signers := chain.SignerAddresses()
		for _, address := range signers {
			wallets.Register(chainID, address)
		}
		log.InfoWithChain(chainID, "Connected to %s with %d signer wallets", chainCfg.Name, len(signers))

		client := blockchain.NewClient(chain, nonces)
		limiter := ratelimit.NewChainLimiter(chainCfg.RequestsPerSecond, chainCfg.RequestsPerMinute)
		breaker := circuitbreaker.NewCircuitBreaker(
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
		)

		chains[chainID] = chain
		circuitBreakers[chainID] = breaker
		checkers[chainID] = client
		limiters[chainID] = limiter
		backends[chainID] = executor.ChainBackend{
			Submitter: client,
			Checker:   client,
			Limiter:   limiter,
			Breaker:   breaker,
		}
	}

	chainIDs := make([]int, 0, len(chains))
	for chainID := range chains {
		chainIDs = append(chainIDs, chainID)
	}
	sort.Ints(chainIDs)

	queue := batchqueue.New(cfg.BatchWindow, cfg.MaxBatchSize)
	deadLetter := dlq.New(st, queue, checkers, limiters, cfg.MaxRetries, cfg.RetryDelay, log)
	exec := executor.New(cfg, log, st, queue, wallets, backends, deadLetter)
	tel := telemetry.New(chainIDs, cfg.ExecutionRate, wallets, queue)

	var source sourceledger.Client
	if cfg.SourceEndpoint != "" {
		source = sourceledger.NewHTTPClient(cfg.SourceEndpoint, log)
	} else {
		log.Notice("No SOURCE_ENDPOINT configured, request ids will be generated locally")
	}

	apiServer := api.NewServer(cfg.ServerPort, log, st, queue, tel, source, chains, circuitBreakers)

	return &Service{
		cfg:             cfg,
		logger:          log,
		store:           st,
		queue:           queue,
		wallets:         wallets,
		chains:          chains,
		circuitBreakers: circuitBreakers,
		telemetry:       tel,
		executor:        exec,
		deadLetter:      deadLetter,
		apiServer:       apiServer,
	}, nil
}

// Start runs the service until ctx is cancelled, then drains in-flight work.
func (s *Service) Start(ctx context.Context) {
	go s.apiServer.Start()
	s.deadLetter.Start(ctx)
	s.executor.Start(ctx)
	go s.gasPriceLoop(ctx)
	go s.snapshotLoop(ctx)

	<-ctx.Done()
	s.logger.Info("Shutdown requested, waiting for in-flight batches to finish")
	s.executor.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close transaction store: %v", err)
	}
	s.logger.Info("Shutdown complete")
}

// gasPriceLoop refreshes the per-chain gas price gauge.
func (s *Service) gasPriceLoop(ctx context.Context) {
	ticker := time.NewTicker(gasPriceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for chainID, chain := range s.chains {
				price, err := chain.SuggestGasPrice(ctx)
				if err != nil {
					s.logger.DebugWithChain(chainID, "Gas price refresh failed: %v", err)
					continue
				}
				gwei, _ := new(big.Float).Quo(
					new(big.Float).SetInt(price), big.NewFloat(1e9),
				).Float64()
				metrics.GasPrice.WithLabelValues(strconv.Itoa(chainID)).Set(gwei)
			}
		}
	}
}

// snapshotLoop persists periodic queue telemetry so history survives restarts.
func (s *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.telemetry.Metrics()
			metadata, err := json.Marshal(m)
			if err != nil {
				continue
			}
			if err := s.store.RecordMetric(ctx, "queue_snapshot", float64(m.QueueDepth), string(metadata)); err != nil {
				s.logger.Debug("Failed to persist telemetry snapshot: %v", err)
			}
		}
	}
}
