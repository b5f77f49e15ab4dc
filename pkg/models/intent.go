package models

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Supported destination chains. The relay executes shielded transfer intents
// as public payments on these networks.
const (
	BaseChainID     = 8453
	ArbitrumChainID = 42161
)

// SupportedChains lists every destination chain the engine can submit to.
var SupportedChains = []int{BaseChainID, ArbitrumChainID}

// TransferIntent is a validated request to move funds to a recipient on a
// destination chain. It is immutable once created; RequestID is the
// idempotency key end-to-end (typically the source-ledger transaction id).
type TransferIntent struct {
	RequestID string `json:"request_id"`
	ChainID   int    `json:"chain_id"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// RawIntent is the untrusted admission payload before validation.
type RawIntent struct {
	ChainID   int    `json:"chainId"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// ValidationError describes why an intent was rejected at admission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intent: %s %s", e.Field, e.Reason)
}

// ValidateIntent checks an untrusted payload and returns a TransferIntent
// ready for queueing. It is pure and side-effect free; this is the only gate
// between untrusted input and the rest of the engine. The request id is
// assigned by the caller after validation.
func ValidateIntent(raw RawIntent) (TransferIntent, error) {
	if !IsSupportedChain(raw.ChainID) {
		return TransferIntent{}, &ValidationError{Field: "chainId", Reason: fmt.Sprintf("unsupported chain %d", raw.ChainID)}
	}

	amount := strings.TrimSpace(raw.Amount)
	if amount == "" {
		return TransferIntent{}, &ValidationError{Field: "amount", Reason: "is required"}
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return TransferIntent{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("not a decimal number: %s", amount)}
	}
	if value.Sign() <= 0 {
		return TransferIntent{}, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	recipient := strings.TrimSpace(raw.Recipient)
	if recipient == "" {
		return TransferIntent{}, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	if !common.IsHexAddress(recipient) {
		return TransferIntent{}, &ValidationError{Field: "recipient", Reason: fmt.Sprintf("malformed address for chain %d: %s", raw.ChainID, recipient)}
	}

	return TransferIntent{
		ChainID:   raw.ChainID,
		Amount:    amount,
		Recipient: recipient,
	}, nil
}

// IsSupportedChain reports whether the engine can execute on the given chain.
func IsSupportedChain(chainID int) bool {
	for _, id := range SupportedChains {
		if id == chainID {
			return true
		}
	}
	return false
}
