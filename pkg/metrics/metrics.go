package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_intents_executed_total",
		Help: "The total number of executed intents by chain and outcome",
	}, []string{"chain_id", "status"})

	IntentProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayer_intent_processing_seconds",
		Help:    "Time taken to execute intents",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain_id"})

	BatchesDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_batches_drained_total",
		Help: "The total number of batches handed to the executor by chain",
	}, []string{"chain_id"})

	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayer_batch_size",
		Help:    "Number of intents per drained batch",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}, []string{"chain_id"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_queue_depth",
		Help: "The number of queued intents waiting to be executed",
	})

	WalletsAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_wallets_available",
		Help: "Number of signer wallets currently available by chain",
	}, []string{"chain_id"})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_retry_count_total",
		Help: "The total number of retried intent executions by chain",
	}, []string{"chain_id"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_max_retries_reached_total",
		Help: "Number of intents that reached maximum retry attempts",
	}, []string{"chain_id"})

	DeadLetterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_dead_letter_depth",
		Help: "Failed records with retries remaining at the last sweep",
	})

	ExecutionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_errors_total",
		Help: "Total number of execution errors by chain",
	}, []string{"chain_id"})

	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_confirmations_total",
		Help: "Confirmation monitor outcomes by chain and result",
	}, []string{"chain_id", "result"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain_id"})

	RateLimiterWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayer_rate_limiter_wait_seconds",
		Help:    "Time spent waiting for rate limiter tokens",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"chain_id"})
)
