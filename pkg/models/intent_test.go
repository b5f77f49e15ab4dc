package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIntent(t *testing.T) {
	valid := RawIntent{
		ChainID:   BaseChainID,
		Amount:    "1.5",
		Recipient: "0x1111111111111111111111111111111111111111",
	}

	t.Run("valid intent", func(t *testing.T) {
		intent, err := ValidateIntent(valid)
		require.NoError(t, err)
		assert.Equal(t, BaseChainID, intent.ChainID)
		assert.Equal(t, "1.5", intent.Amount)
		assert.Empty(t, intent.RequestID, "the request id is assigned after validation")
	})

	t.Run("trims whitespace", func(t *testing.T) {
		raw := valid
		raw.Amount = "  2.0  "
		raw.Recipient = " 0x1111111111111111111111111111111111111111 "
		intent, err := ValidateIntent(raw)
		require.NoError(t, err)
		assert.Equal(t, "2.0", intent.Amount)
		assert.Equal(t, "0x1111111111111111111111111111111111111111", intent.Recipient)
	})

	tests := []struct {
		name   string
		mutate func(*RawIntent)
		field  string
	}{
		{"unsupported chain", func(r *RawIntent) { r.ChainID = 1 }, "chainId"},
		{"zero chain", func(r *RawIntent) { r.ChainID = 0 }, "chainId"},
		{"empty amount", func(r *RawIntent) { r.Amount = "" }, "amount"},
		{"zero amount", func(r *RawIntent) { r.Amount = "0" }, "amount"},
		{"negative amount", func(r *RawIntent) { r.Amount = "-1" }, "amount"},
		{"non-numeric amount", func(r *RawIntent) { r.Amount = "ten" }, "amount"},
		{"empty recipient", func(r *RawIntent) { r.Recipient = "" }, "recipient"},
		{"short recipient", func(r *RawIntent) { r.Recipient = "0x1234" }, "recipient"},
		{"non-hex recipient", func(r *RawIntent) { r.Recipient = "0xZZ11111111111111111111111111111111111111" }, "recipient"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := valid
			tc.mutate(&raw)
			_, err := ValidateIntent(raw)
			require.Error(t, err)
			verr, ok := err.(*ValidationError)
			require.True(t, ok)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestIsSupportedChain(t *testing.T) {
	assert.True(t, IsSupportedChain(BaseChainID))
	assert.True(t, IsSupportedChain(ArbitrumChainID))
	assert.False(t, IsSupportedChain(1))
	assert.False(t, IsSupportedChain(0))
}

func TestProcessedTransactionIntent(t *testing.T) {
	rec := ProcessedTransaction{
		TxID:      "req-1",
		RequestID: "req-1",
		ChainID:   ArbitrumChainID,
		Amount:    "3.25",
		Recipient: "0x2222222222222222222222222222222222222222",
		Status:    StatusFailed,
	}
	intent := rec.Intent()
	assert.Equal(t, "req-1", intent.RequestID)
	assert.Equal(t, ArbitrumChainID, intent.ChainID)
	assert.Equal(t, "3.25", intent.Amount)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", intent.Recipient)
}
