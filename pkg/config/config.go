package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/veilpay-hq/relayer/pkg/logger"
)

// Config holds the configuration for the relayer service
type Config struct {
	MaxRetries               int
	RetryDelay               time.Duration
	BatchWindow              time.Duration
	MaxBatchSize             int
	ConfirmationTimeout      time.Duration
	ConfirmationPollInterval time.Duration
	ExecutionRate            float64
	ServerPort               string
	DatabasePath             string
	SourceEndpoint           string
	Chains                   map[int]ChainConfig
	CircuitBreaker           CircuitBreakerConfig
	LoggerConfig             LoggerConfig
}

// ChainConfig holds the configuration for a specific destination chain
type ChainConfig struct {
	ChainID           int
	Name              string
	RPCURL            string
	PrivateKeys       []string
	RequestsPerSecond int
	RequestsPerMinute int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	retryDelay, err := GetEnvRetryDelay()
	if err != nil {
		return nil, err
	}

	batchWindow, err := GetEnvBatchWindow()
	if err != nil {
		return nil, err
	}

	maxBatchSize, err := GetEnvMaxBatchSize()
	if err != nil {
		return nil, err
	}

	confirmationTimeout, err := GetEnvConfirmationTimeout()
	if err != nil {
		return nil, err
	}

	confirmationPollInterval, err := GetEnvConfirmationPollInterval()
	if err != nil {
		return nil, err
	}

	executionRate, err := GetEnvExecutionRate()
	if err != nil {
		return nil, err
	}

	serverPort, err := GetEnvServerPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	// Initialize chain configurations
	chainConfigs := make(map[int]ChainConfig)
	chainConfigList, err := GetEnvChainConfigs()
	if err != nil {
		return nil, err
	}
	for _, chainConfig := range chainConfigList {
		chainConfigs[chainConfig.ChainID] = chainConfig
	}

	cfg := &Config{
		MaxRetries:               maxRetries,
		RetryDelay:               retryDelay,
		BatchWindow:              batchWindow,
		MaxBatchSize:             maxBatchSize,
		ConfirmationTimeout:      confirmationTimeout,
		ConfirmationPollInterval: confirmationPollInterval,
		ExecutionRate:            executionRate,
		ServerPort:               serverPort,
		DatabasePath:             GetEnvDatabasePath(),
		SourceEndpoint:           os.Getenv("SOURCE_ENDPOINT"),
		Chains:                   chainConfigs,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DrainInterval computes how often the executor sweeps the batch queue. Ready
// batches must be picked up within one tick, so the tick never exceeds the
// batch window but also never spins faster than 100ms.
func (c *Config) DrainInterval() time.Duration {
	interval := time.Second
	if c.BatchWindow > 0 && c.BatchWindow < interval {
		interval = c.BatchWindow
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	for chainID, chainConfig := range cfg.Chains {
		if len(chainConfig.PrivateKeys) == 0 {
			return fmt.Errorf("%s_PRIVATE_KEYS for chain %d is required", chainConfig.Name, chainID)
		}
		if chainConfig.RPCURL == "" {
			return fmt.Errorf("%s_RPC_URL for chain %d is required", chainConfig.Name, chainID)
		}
	}
	return nil
}
