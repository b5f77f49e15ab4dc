package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/models"
)

const (
	// DefaultMaxRetries defines how many times a failed execution is retried
	// by the dead letter processor before the record is terminally failed
	DefaultMaxRetries = 3

	// DefaultRetryDelay defines the interval between dead letter retry sweeps
	DefaultRetryDelay = 60 * time.Second

	// DefaultBatchWindow defines how long an open batch collects intents
	// before it becomes ready
	DefaultBatchWindow = 5 * time.Second

	// DefaultMaxBatchSize defines the size at which an open batch closes
	// early regardless of its window
	DefaultMaxBatchSize = 10

	// DefaultConfirmationTimeout bounds how long a submitted transaction is
	// polled before it is routed to the dead letter queue
	DefaultConfirmationTimeout = 5 * time.Minute

	// DefaultConfirmationPollInterval defines how often pending submissions
	// are checked for finality
	DefaultConfirmationPollInterval = 15 * time.Second

	// DefaultServerPort defines the default port for the HTTP server
	DefaultServerPort = "8080"

	// DefaultDatabasePath defines the default sqlite database file
	DefaultDatabasePath = "relayer.db"

	// DefaultRequestsPerSecond defines the default per-chain RPC budget per second
	DefaultRequestsPerSecond = 5

	// DefaultRequestsPerMinute defines the default per-chain RPC budget per minute
	DefaultRequestsPerMinute = 100

	// DefaultExecutionRate defines the assumed per-wallet service rate
	// (submissions per second) used by telemetry only
	DefaultExecutionRate = 0.2

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// Network specific values

	DefaultBaseRPCURL     = "https://mainnet.base.org"
	DefaultArbitrumRPCURL = "https://arb1.arbitrum.io/rpc"
)

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvRetryDelay returns the dead letter retry interval from environment variables
func GetEnvRetryDelay() (time.Duration, error) {
	retryDelay := os.Getenv("RETRY_DELAY")
	if retryDelay == "" {
		return DefaultRetryDelay, nil
	}

	parsed, err := time.ParseDuration(retryDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid RETRY_DELAY value: %s, must be a valid duration string", retryDelay)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("RETRY_DELAY must be greater than 0")
	}
	return parsed, nil
}

// GetEnvBatchWindow returns the batch window from environment variables
func GetEnvBatchWindow() (time.Duration, error) {
	batchWindow := os.Getenv("BATCH_WINDOW")
	if batchWindow == "" {
		return DefaultBatchWindow, nil
	}

	parsed, err := time.ParseDuration(batchWindow)
	if err != nil {
		return 0, fmt.Errorf("invalid BATCH_WINDOW value: %s, must be a valid duration string", batchWindow)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("BATCH_WINDOW must be greater than or equal to 0")
	}
	return parsed, nil
}

// GetEnvMaxBatchSize returns the maximum batch size from environment variables
func GetEnvMaxBatchSize() (int, error) {
	maxBatchSize := os.Getenv("MAX_BATCH_SIZE")
	if maxBatchSize == "" {
		return DefaultMaxBatchSize, nil
	}

	size, err := strconv.Atoi(maxBatchSize)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_BATCH_SIZE value: %s, must be an integer", maxBatchSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("MAX_BATCH_SIZE must be greater than 0")
	}
	return size, nil
}

// GetEnvConfirmationTimeout returns the confirmation timeout from environment variables
func GetEnvConfirmationTimeout() (time.Duration, error) {
	timeout := os.Getenv("CONFIRMATION_TIMEOUT")
	if timeout == "" {
		return DefaultConfirmationTimeout, nil
	}

	parsed, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid CONFIRMATION_TIMEOUT value: %s, must be a valid duration string", timeout)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("CONFIRMATION_TIMEOUT must be greater than 0")
	}
	return parsed, nil
}

// GetEnvConfirmationPollInterval returns the confirmation poll interval from environment variables
func GetEnvConfirmationPollInterval() (time.Duration, error) {
	interval := os.Getenv("CONFIRMATION_POLL_INTERVAL")
	if interval == "" {
		return DefaultConfirmationPollInterval, nil
	}

	parsed, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid CONFIRMATION_POLL_INTERVAL value: %s, must be a valid duration string", interval)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("CONFIRMATION_POLL_INTERVAL must be greater than 0")
	}
	return parsed, nil
}

// GetEnvServerPort returns the HTTP server port from environment variables
func GetEnvServerPort() (string, error) {
	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		return DefaultServerPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(serverPort); err != nil {
		return "", fmt.Errorf("invalid SERVER_PORT value: %s, must be a valid integer", serverPort)
	}
	return serverPort, nil
}

// GetEnvDatabasePath returns the sqlite database path from environment variables
func GetEnvDatabasePath() string {
	path := os.Getenv("DB_PATH")
	if path == "" {
		return DefaultDatabasePath
	}
	return path
}

// GetEnvExecutionRate returns the assumed per-wallet service rate from environment variables
func GetEnvExecutionRate() (float64, error) {
	rate := os.Getenv("EXECUTION_RATE")
	if rate == "" {
		return DefaultExecutionRate, nil
	}

	parsed, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid EXECUTION_RATE value: %s, must be a number", rate)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("EXECUTION_RATE must be greater than 0")
	}
	return parsed, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(level) {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvChainConfigs returns the per-chain configurations based on environment variables
func GetEnvChainConfigs() ([]ChainConfig, error) {
	chains := []struct {
		chainID    int
		name       string
		defaultRPC string
	}{
		{models.BaseChainID, "BASE", DefaultBaseRPCURL},
		{models.ArbitrumChainID, "ARBITRUM", DefaultArbitrumRPCURL},
	}

	configs := make([]ChainConfig, 0, len(chains))
	for _, chain := range chains {
		rpc := os.Getenv(chain.name + "_RPC_URL")
		if rpc == "" {
			rpc = chain.defaultRPC
		}

		// Signer credentials are comma separated and never logged
		keys := splitNonEmpty(os.Getenv(chain.name + "_PRIVATE_KEYS"))

		rps, err := getEnvPositiveInt(chain.name+"_REQUESTS_PER_SECOND", DefaultRequestsPerSecond)
		if err != nil {
			return nil, err
		}
		rpm, err := getEnvPositiveInt(chain.name+"_REQUESTS_PER_MINUTE", DefaultRequestsPerMinute)
		if err != nil {
			return nil, err
		}

		configs = append(configs, ChainConfig{
			ChainID:           chain.chainID,
			Name:              chain.name,
			RPCURL:            rpc,
			PrivateKeys:       keys,
			RequestsPerSecond: rps,
			RequestsPerMinute: rpm,
		})
	}
	return configs, nil
}

func getEnvPositiveInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
