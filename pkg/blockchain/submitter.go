package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxState is the observed on-chain state of a submitted transaction.
type TxState int

const (
	// TxStatePending indicates no receipt is available yet.
	TxStatePending TxState = iota
	// TxStateConfirmed indicates the transaction reached finality.
	TxStateConfirmed
	// TxStateReverted indicates the chain reports the transaction reverted.
	TxStateReverted
)

// transferGasLimit is the fixed cost of a native value transfer.
const transferGasLimit = 21000

// Submitter is the opaque per-chain payment capability: it sends the given
// amount to the recipient using the named signer wallet and returns the
// transaction hash.
type Submitter interface {
	Submit(ctx context.Context, wallet, recipient, amount string) (string, error)
}

// ConfirmationChecker reports the on-chain state of a submitted transaction.
type ConfirmationChecker interface {
	TxStatus(ctx context.Context, txHash string) (TxState, error)
}

// Client implements Submitter and ConfirmationChecker over one chain's RPC
// connection.
type Client struct {
	chain  *ChainConfig
	nonces *NonceManager
}

var (
	_ Submitter           = (*Client)(nil)
	_ ConfirmationChecker = (*Client)(nil)
)

// NewClient creates a submission client for a connected chain.
func NewClient(chain *ChainConfig, nonces *NonceManager) *Client {
	return &Client{chain: chain, nonces: nonces}
}

// Submit signs and broadcasts a native transfer from the wallet to the
// recipient. The nonce reserved for the attempt is released for reuse when
// the broadcast fails.
func (c *Client) Submit(ctx context.Context, wallet, recipient, amount string) (string, error) {
	auth, ok := c.chain.Signer(wallet)
	if !ok {
		return "", fmt.Errorf("signer %s not configured for chain %d", wallet, c.chain.ChainID)
	}

	value, err := AmountToWei(amount)
	if err != nil {
		return "", fmt.Errorf("invalid amount %s: %w", amount, err)
	}

	gasPrice, err := c.chain.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price for chain %d: %w", c.chain.ChainID, err)
	}

	from := auth.From
	nonce, err := c.nonces.GetNonce(ctx, c.chain.ChainID, c.chain.Client, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce for chain %d: %w", c.chain.ChainID, err)
	}

	to := common.HexToAddress(recipient)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})

	signedTx, err := auth.Signer(from, tx)
	if err != nil {
		c.nonces.ReleaseNonce(c.chain.ChainID, from, nonce)
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.chain.Client.SendTransaction(ctx, signedTx); err != nil {
		c.nonces.ReleaseNonce(c.chain.ChainID, from, nonce)
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	c.nonces.TrackTransaction(c.chain.ChainID, from, signedTx.Hash(), nonce)
	return signedTx.Hash().Hex(), nil
}

// TxStatus looks up the receipt for a transaction hash.
func (c *Client) TxStatus(ctx context.Context, txHash string) (TxState, error) {
	receipt, err := c.chain.Client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return TxStatePending, nil
	}
	if err != nil {
		return TxStatePending, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}

	// A receipt in either state means the nonce was consumed on chain.
	c.nonces.CompleteTransactionByHash(c.chain.ChainID, common.HexToHash(txHash))

	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxStateConfirmed, nil
	}
	return TxStateReverted, nil
}

// AmountToWei converts a decimal token amount string to wei (18 decimals).
// Precision beyond 18 decimal places is truncated.
func AmountToWei(amount string) (*big.Int, error) {
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("not a decimal number: %s", amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be greater than zero: %s", amount)
	}

	weiPerUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	value.Mul(value, new(big.Rat).SetInt(weiPerUnit))

	return new(big.Int).Quo(value.Num(), value.Denom()), nil
}
