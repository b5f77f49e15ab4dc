// Package sourceledger talks to the shielded ledger that originates transfer
// intents. The relayer asks it to execute the private leg of a transfer and
// uses the returned transition id as the intent's request id.
package sourceledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/models"
)

// Client creates intent ids on the source ledger.
type Client interface {
	CreateIntentID(ctx context.Context, intent models.TransferIntent) (string, error)
}

// transferRequest is the wire shape of an intent creation call.
type transferRequest struct {
	ChainID   int    `json:"chainId"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// transferResponse carries the ledger's transition id. Some deployments
// return it as "id", others as "txId".
type transferResponse struct {
	ID   string `json:"id,omitempty"`
	TxID string `json:"txId,omitempty"`
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewHTTPClient creates a ledger client for the given endpoint.
func NewHTTPClient(endpoint string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// CreateIntentID executes the shielded transfer leg and returns the ledger's
// transition id for it.
func (c *HTTPClient) CreateIntentID(ctx context.Context, intent models.TransferIntent) (string, error) {
	payload, err := json.Marshal(transferRequest{
		ChainID:   intent.ChainID,
		Amount:    intent.Amount,
		Recipient: intent.Recipient,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/api/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call source ledger: %v", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var transfer transferResponse
	if err := json.Unmarshal(bodyBytes, &transfer); err != nil {
		return "", fmt.Errorf("failed to decode transfer response: %v, body: %s", err, string(bodyBytes))
	}
	switch {
	case transfer.ID != "":
		return transfer.ID, nil
	case transfer.TxID != "":
		return transfer.TxID, nil
	}
	return "", fmt.Errorf("source ledger returned no transition id, body: %s", string(bodyBytes))
}

func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
