package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ProviderClient talks to the payment provider's REST API. Only the
// transaction verification endpoint is used here; checkout sessions are
// created by the storefront.
type ProviderClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewProviderClient(baseURL, secretKey string, timeout time.Duration, logger *zap.Logger) *ProviderClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderClient{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type verifyResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    Transaction `json:"data"`
}

// VerifyTransaction fetches the provider's own record of the charge.
func (c *ProviderClient) VerifyTransaction(ctx context.Context, transactionID int64) (Transaction, error) {
	url := fmt.Sprintf("%s/transactions/%d/verify", c.baseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("payment: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("provider verify returned non-200",
			zap.Int64("transaction_id", transactionID),
			zap.Int("status", resp.StatusCode))
		return Transaction{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return Transaction{}, fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}
	if vr.Status != "success" {
		return Transaction{}, fmt.Errorf("%w: %s", ErrVerificationFailed, vr.Message)
	}
	return vr.Data, nil
}
