package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the webhook service.
type Store interface {
	ReserveEvent(ctx context.Context, tx pgx.Tx, key string) error
}

// Verifier re-checks a charge against the provider's records.
type Verifier interface {
	VerifyTransaction(ctx context.Context, transactionID int64) (Transaction, error)
}

// EscrowConfirmer holds the escrow once a deposit is confirmed.
type EscrowConfirmer interface {
	OnPaymentConfirmed(ctx context.Context, tx pgx.Tx, providerRef string, amount float64, currency, tradeID string) error
}

// Service processes provider webhooks. Every accepted event is
// signature-checked, re-verified against the provider, and applied exactly
// once via the idempotency table.
type Service struct {
	pool       TxBeginner
	repo       Store
	provider   Verifier
	escrow     EscrowConfirmer
	secretHash string
	logger     *zap.Logger
}

func NewService(pool TxBeginner, repo Store, provider Verifier, escrow EscrowConfirmer, secretHash string, logger *zap.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		provider:   provider,
		escrow:     escrow,
		secretHash: secretHash,
		logger:     logger,
	}
}

// VerifySignature checks the webhook's shared-secret header in constant time.
func (s *Service) VerifySignature(header string) error {
	if subtle.ConstantTimeCompare([]byte(header), []byte(s.secretHash)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// tx_ref is minted as "trade-<uuid>" when the checkout session is created.
const txRefPrefix = "trade-"

func tradeIDFromRef(txRef string) (string, error) {
	id := strings.TrimPrefix(txRef, txRefPrefix)
	if id == txRef || id == "" {
		return "", fmt.Errorf("payment: unrecognised tx_ref %q", txRef)
	}
	return id, nil
}

// HandleWebhook applies a raw webhook body. The signature header must already
// carry the provider hash; events other than completed charges are ignored.
func (s *Service) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	if err := s.VerifySignature(signature); err != nil {
		return err
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("payment: decode webhook: %w", err)
	}

	switch ev.Event {
	case EventChargeCompleted:
		return s.handleChargeCompleted(ctx, ev)
	case EventTransferCompleted, EventRefundCompleted:
		// Payout and refund settlement confirmations; money already moved on
		// our side when the verdict or release was recorded.
		s.logger.Info("settlement webhook acknowledged",
			zap.String("event", ev.Event),
			zap.String("tx_ref", ev.Data.TxRef))
		return nil
	default:
		s.logger.Info("ignoring webhook event", zap.String("event", ev.Event))
		return nil
	}
}

func (s *Service) handleChargeCompleted(ctx context.Context, ev WebhookEvent) error {
	if ev.Data.Status != "successful" {
		s.logger.Info("charge webhook not successful, ignoring",
			zap.String("tx_ref", ev.Data.TxRef),
			zap.String("status", ev.Data.Status))
		return nil
	}

	tradeID, err := tradeIDFromRef(ev.Data.TxRef)
	if err != nil {
		return err
	}

	// Never trust webhook amounts: fetch the provider's own record.
	verified, err := s.provider.VerifyTransaction(ctx, ev.Data.ID)
	if err != nil {
		return err
	}
	if !verified.Successful() || verified.TxRef != ev.Data.TxRef {
		return fmt.Errorf("%w: transaction %d does not match webhook for %s",
			ErrVerificationFailed, ev.Data.ID, ev.Data.TxRef)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	key := fmt.Sprintf("payment:%s:%d", ev.Event, ev.Data.ID)
	if err := s.repo.ReserveEvent(ctx, tx, key); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.logger.Info("webhook replay ignored",
				zap.String("tx_ref", ev.Data.TxRef),
				zap.Int64("transaction_id", ev.Data.ID))
			return nil
		}
		return err
	}

	if err := s.escrow.OnPaymentConfirmed(ctx, tx, verified.ProviderRef, verified.Amount, verified.Currency, tradeID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payment: commit tx: %w", err)
	}

	webhooksProcessed.WithLabelValues(ev.Event).Inc()
	s.logger.Info("deposit confirmed",
		zap.String("trade_id", tradeID),
		zap.String("provider_ref", verified.ProviderRef),
		zap.Float64("amount", verified.Amount))
	return nil
}
