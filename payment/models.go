package payment

import "errors"

var (
	// ErrBadSignature is returned when the webhook signature header does not
	// match the shared secret hash.
	ErrBadSignature = errors.New("payment: bad webhook signature")
	// ErrVerificationFailed signals the provider's re-verification did not
	// confirm the charge the webhook claimed.
	ErrVerificationFailed = errors.New("payment: provider verification failed")
	// ErrProviderUnavailable wraps transport and non-2xx failures from the
	// provider API.
	ErrProviderUnavailable = errors.New("payment: provider unavailable")
)

// Webhook event names emitted by the provider.
const (
	EventChargeCompleted   = "charge.completed"
	EventTransferCompleted = "transfer.completed"
	EventRefundCompleted   = "refund.completed"
)

// SignatureHeader carries the provider's shared-secret hash on every webhook.
const SignatureHeader = "verif-hash"

// WebhookEvent is the provider's webhook envelope.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData is the charge payload inside the envelope. TxRef is ours, set
// when the checkout session is created; it carries the trade id.
type WebhookData struct {
	ID          int64          `json:"id"`
	TxRef       string         `json:"tx_ref"`
	ProviderRef string         `json:"flw_ref"`
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency"`
	Status      string         `json:"status"`
	Meta        map[string]any `json:"meta"`
}

// Transaction is the provider's record of a charge, fetched during
// re-verification. Webhook contents are never trusted on their own.
type Transaction struct {
	ID          int64   `json:"id"`
	TxRef       string  `json:"tx_ref"`
	ProviderRef string  `json:"flw_ref"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
}

// Successful reports whether the provider settled the charge.
func (t Transaction) Successful() bool {
	return t.Status == "successful"
}
