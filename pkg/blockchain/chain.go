package blockchain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainConfig holds the connection and signer state for one destination chain
type ChainConfig struct {
	ChainID       int
	RPCURL        string
	Client        *ethclient.Client
	GasMultiplier float64
	signers       map[string]*bind.TransactOpts
	signerOrder   []string
}

// NewChainConfig creates a chain configuration
func NewChainConfig(chainID int, rpcURL string) *ChainConfig {
	// Get gas multiplier from environment, default to 1.1
	gasMultiplierStr := os.Getenv(fmt.Sprintf("CHAIN_%d_GAS_MULTIPLIER", chainID))
	gasMultiplier := 1.1 // default gas multiplier (10% buffer)
	if gasMultiplierStr != "" {
		parsedMultiplier, err := strconv.ParseFloat(gasMultiplierStr, 64)
		if err == nil && parsedMultiplier > 0 {
			gasMultiplier = parsedMultiplier
		}
	}

	return &ChainConfig{
		ChainID:       chainID,
		RPCURL:        rpcURL,
		GasMultiplier: gasMultiplier,
		signers:       make(map[string]*bind.TransactOpts),
	}
}

// Connect establishes the RPC connection and initializes one transactor per
// signer key. Keys are never logged.
func (c *ChainConfig) Connect(privateKeys []string) error {
	client, err := ethclient.Dial(c.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %v", err)
	}
	c.Client = client

	for _, key := range privateKeys {
		auth, err := createAuthenticator(client, key)
		if err != nil {
			return fmt.Errorf("failed to create authenticator: %v", err)
		}
		address := auth.From.Hex()
		if _, exists := c.signers[address]; exists {
			continue
		}
		c.signers[address] = auth
		c.signerOrder = append(c.signerOrder, address)
	}

	if len(c.signers) == 0 {
		return fmt.Errorf("no signers configured for chain %d", c.ChainID)
	}
	return nil
}

// SignerAddresses returns the signer addresses in configuration order.
func (c *ChainConfig) SignerAddresses() []string {
	out := make([]string, len(c.signerOrder))
	copy(out, c.signerOrder)
	return out
}

// Signer returns the transactor for a signer address.
func (c *ChainConfig) Signer(address string) (*bind.TransactOpts, bool) {
	auth, ok := c.signers[address]
	return auth, ok
}

// SuggestGasPrice fetches the current gas price and applies the multiplier
func (c *ChainConfig) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multipliedGasPrice := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)

	finalGasPrice := new(big.Int)
	multipliedGasPrice.Int(finalGasPrice)

	log.Printf("Gas price for chain %d: %s wei (multiplier: %.2f)",
		c.ChainID, finalGasPrice.String(), c.GasMultiplier)

	return finalGasPrice, nil
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *ChainConfig) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	if c.Client == nil {
		return 0, fmt.Errorf("client not connected")
	}

	return c.Client.BlockNumber(ctx)
}

// Helper function to create authenticator
func createAuthenticator(client *ethclient.Client, privateKeyHex string) (*bind.TransactOpts, error) {
	// Parse private key
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	// Get chain ID
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	// Create transaction signer
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	return auth, nil
}
