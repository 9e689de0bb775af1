package escrow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tradeflow/trade"
)

// Store defines the escrow data access required by the coordinator.
type Store interface {
	CreatePending(ctx context.Context, tx pgx.Tx, tradeID, buyerCompanyID, sellerCompanyID string, amount float64, currency string) (Payment, error)
	GetByTrade(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, error)
	Hold(ctx context.Context, tx pgx.Tx, tradeID, providerRef string) (Payment, bool, error)
	Release(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, bool, error)
	Refund(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, bool, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType string, payload map[string]any) error
}

// TradeStore is the slice of the trade repository the coordinator needs to
// advance the workflow and fan out notifications.
type TradeStore interface {
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to trade.Status, patch map[string]any) (bool, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Coordinator translates trade-state transitions and payment confirmations
// into escrow movements, emitting one audit event per movement. All methods
// run inside the caller's transaction.
type Coordinator struct {
	repo   Store
	trades TradeStore
	logger *zap.Logger
}

func NewCoordinator(repo Store, trades TradeStore, logger *zap.Logger) *Coordinator {
	if repo == nil {
		repo = NewRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{repo: repo, trades: trades, logger: logger}
}

// OpenPending creates the escrow row awaiting the buyer's deposit. Invoked by
// the trade service when a quote is accepted.
func (c *Coordinator) OpenPending(ctx context.Context, tx pgx.Tx, tradeID, buyerCompanyID, sellerCompanyID string, amount float64, currency string) error {
	p, err := c.repo.CreatePending(ctx, tx, tradeID, buyerCompanyID, sellerCompanyID, amount, currency)
	if err != nil {
		return err
	}
	return c.repo.AppendEvent(ctx, tx, p.ID, EventOpened, map[string]any{
		"trade_id": tradeID,
		"amount":   amount,
		"currency": currency,
	})
}

// OnPaymentConfirmed moves escrow pending -> held once the provider has
// re-verified the charge, and advances the trade into escrow_funded.
// Idempotent: a replay for a providerRef that already holds the escrow is a
// no-op with no duplicate event row.
func (c *Coordinator) OnPaymentConfirmed(ctx context.Context, tx pgx.Tx, providerRef string, amount float64, currency, tradeID string) error {
	p, moved, err := c.repo.Hold(ctx, tx, tradeID, providerRef)
	if err != nil {
		return err
	}
	if !moved {
		existing, err := c.repo.GetByTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if existing.Status == StatusHeld && existing.ProviderRef != nil && *existing.ProviderRef == providerRef {
			c.logger.Info("duplicate payment confirmation ignored",
				zap.String("trade_id", tradeID),
				zap.String("provider_ref", providerRef))
			return nil
		}
		return fmt.Errorf("%w: escrow for trade %s is %s", ErrInvalidState, tradeID, existing.Status)
	}

	if amount < p.Amount || currency != p.Currency {
		return fmt.Errorf("%w: got %.2f %s, escrow requires %.2f %s",
			ErrAmountMismatch, amount, currency, p.Amount, p.Currency)
	}
	movementsTotal.WithLabelValues(string(StatusPending), string(StatusHeld)).Inc()

	if err := c.repo.AppendEvent(ctx, tx, p.ID, EventFunded, map[string]any{
		"trade_id":     tradeID,
		"provider_ref": providerRef,
		"amount":       amount,
		"currency":     currency,
	}); err != nil {
		return err
	}

	ok, err := c.trades.UpdateStatus(ctx, tx, tradeID, trade.StatusEscrowPending, trade.StatusEscrowFunded, map[string]any{
		"funded_provider_ref": providerRef,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: trade %s not awaiting funding", trade.ErrInvalidState, tradeID)
	}
	if err := c.trades.AppendTimeline(ctx, tx, tradeID, "ESCROW_FUNDED", "", map[string]any{
		"provider_ref": providerRef,
		"amount":       amount,
	}); err != nil {
		return err
	}
	return c.trades.EnqueueOutbox(ctx, tx, "escrow.funded", map[string]any{
		"trade_id": tradeID,
		"buyer":    p.BuyerCompanyID,
		"seller":   p.SellerCompanyID,
	})
}

// OnDeliveryAccepted releases held funds to the seller. A missing escrow row
// is a fatal integrity fault: it is logged and surfaced, never retried.
func (c *Coordinator) OnDeliveryAccepted(ctx context.Context, tx pgx.Tx, tradeID string) error {
	p, moved, err := c.repo.Release(ctx, tx, tradeID)
	if err != nil {
		return err
	}
	if !moved {
		existing, err := c.repo.GetByTrade(ctx, tx, tradeID)
		if err != nil {
			c.logger.Error("escrow row missing on delivery acceptance",
				zap.String("trade_id", tradeID))
			return fmt.Errorf("%w: trade %s", ErrIntegrity, tradeID)
		}
		return fmt.Errorf("%w: escrow for trade %s is %s, expected %s",
			ErrInvalidState, tradeID, existing.Status, StatusHeld)
	}
	movementsTotal.WithLabelValues(string(StatusHeld), string(StatusReleased)).Inc()

	if err := c.repo.AppendEvent(ctx, tx, p.ID, EventReleased, map[string]any{
		"trade_id": tradeID,
		"amount":   p.Amount,
		"currency": p.Currency,
	}); err != nil {
		return err
	}
	return c.trades.EnqueueOutbox(ctx, tx, "escrow.released", map[string]any{
		"trade_id": tradeID,
		"buyer":    p.BuyerCompanyID,
		"seller":   p.SellerCompanyID,
		"amount":   p.Amount,
	})
}

// OnDisputeVerdict applies a dispute verdict to the escrow. Only REFUND_BUYER
// moves money; any other verdict leaves the funds held for a human to act on.
func (c *Coordinator) OnDisputeVerdict(ctx context.Context, tx pgx.Tx, tradeID string, refundBuyer bool) error {
	if !refundBuyer {
		return nil
	}

	p, moved, err := c.repo.Refund(ctx, tx, tradeID)
	if err != nil {
		return err
	}
	if !moved {
		existing, err := c.repo.GetByTrade(ctx, tx, tradeID)
		if err != nil {
			c.logger.Error("escrow row missing on dispute refund",
				zap.String("trade_id", tradeID))
			return fmt.Errorf("%w: trade %s", ErrIntegrity, tradeID)
		}
		return fmt.Errorf("%w: escrow for trade %s is %s, expected %s",
			ErrInvalidState, tradeID, existing.Status, StatusHeld)
	}
	movementsTotal.WithLabelValues(string(StatusHeld), string(StatusRefunded)).Inc()

	if err := c.repo.AppendEvent(ctx, tx, p.ID, EventRefunded, map[string]any{
		"trade_id": tradeID,
		"amount":   p.Amount,
		"currency": p.Currency,
	}); err != nil {
		return err
	}
	return c.trades.EnqueueOutbox(ctx, tx, "escrow.refunded", map[string]any{
		"trade_id": tradeID,
		"buyer":    p.BuyerCompanyID,
		"seller":   p.SellerCompanyID,
		"amount":   p.Amount,
	})
}
