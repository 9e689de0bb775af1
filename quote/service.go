package quote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tradeflow/trade"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TradeStore is the slice of the trade repository the quote workflow needs:
// loading the request, advancing it on first quote, and recording history.
type TradeStore interface {
	Get(ctx context.Context, tx pgx.Tx, id string) (trade.Record, error)
	GetActor(ctx context.Context, tx pgx.Tx, userID string) (trade.Actor, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to trade.Status, patch map[string]any) (bool, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	trades      TradeStore
	logger      *zap.Logger
	idGenerator func() string
	now         func() time.Time
}

type SubmitParams struct {
	TradeID      string
	ActorUserID  string
	UnitPrice    float64
	TotalPrice   float64
	Currency     string
	LeadTimeDays int
	Incoterms    string
	PaymentTerms string
	ValidUntil   *time.Time
	Notes        *string
}

type ListResult struct {
	Items []Quote
	Total int
}

func NewService(pool TxBeginner, repo Repository, trades TradeStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		trades:      trades,
		logger:      logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Submit records a supplier's offer. The first quote on an open request moves
// the request into the quoted stage.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Quote, error) {
	if params.TradeID == "" {
		return Quote{}, fmt.Errorf("quote: missing trade id")
	}
	if params.ActorUserID == "" {
		return Quote{}, fmt.Errorf("quote: missing actor user id")
	}
	if params.UnitPrice <= 0 || params.TotalPrice <= 0 {
		return Quote{}, fmt.Errorf("quote: prices must be positive")
	}
	if params.Currency == "" {
		return Quote{}, fmt.Errorf("quote: currency required")
	}
	if params.LeadTimeDays <= 0 {
		return Quote{}, fmt.Errorf("quote: invalid lead time")
	}
	if params.ValidUntil != nil && !params.ValidUntil.After(s.now()) {
		return Quote{}, fmt.Errorf("quote: valid_until already passed")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	actor, err := s.trades.GetActor(ctx, tx, params.ActorUserID)
	if err != nil {
		return Quote{}, err
	}
	if actor.Role != trade.RoleSupplier && actor.Role != trade.RoleAdmin {
		return Quote{}, fmt.Errorf("%w: only suppliers quote", ErrForbidden)
	}

	t, err := s.trades.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Quote{}, err
	}
	if actor.CompanyID == t.BuyerCompanyID {
		return Quote{}, fmt.Errorf("%w: buyer cannot quote its own request", ErrForbidden)
	}
	if t.Status != trade.StatusRFQOpen && t.Status != trade.StatusQuoted {
		return Quote{}, fmt.Errorf("%w: trade %s is %s, quoting closed", ErrInvalidState, t.ID, t.Status)
	}

	q := Quote{
		ID:                s.idGenerator(),
		TradeID:           params.TradeID,
		SupplierCompanyID: actor.CompanyID,
		Status:            StatusOpen,
		UnitPrice:         params.UnitPrice,
		TotalPrice:        params.TotalPrice,
		Currency:          strings.ToUpper(params.Currency),
		LeadTimeDays:      params.LeadTimeDays,
		Incoterms:         params.Incoterms,
		PaymentTerms:      params.PaymentTerms,
		ValidUntil:        params.ValidUntil,
		Notes:             params.Notes,
	}

	created, err := s.repo.Create(ctx, tx, q)
	if err != nil {
		return Quote{}, err
	}

	if t.Status == trade.StatusRFQOpen {
		moved, err := s.trades.UpdateStatus(ctx, tx, t.ID, trade.StatusRFQOpen, trade.StatusQuoted, nil)
		if err != nil {
			return Quote{}, err
		}
		if !moved {
			// Another supplier quoted concurrently; the trade is already
			// quoted, which is fine.
			s.logger.Debug("trade already quoted", zap.String("trade_id", t.ID))
		}
	}

	if err := s.trades.AppendTimeline(ctx, tx, t.ID, "QUOTE_SUBMITTED", params.ActorUserID, map[string]any{
		"quote_id":    created.ID,
		"supplier":    created.SupplierCompanyID,
		"total_price": created.TotalPrice,
		"currency":    created.Currency,
	}); err != nil {
		return Quote{}, err
	}
	if err := s.trades.EnqueueOutbox(ctx, tx, "quote.submitted", map[string]any{
		"quote_id": created.ID,
		"trade_id": t.ID,
		"buyer":    t.BuyerCompanyID,
	}); err != nil {
		return Quote{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("quote: commit tx: %w", err)
	}

	return created, nil
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Withdraw retracts an open quote. Only the quoting supplier or an admin may
// do so, and only while the quote is still open.
func (s *Service) Withdraw(ctx context.Context, quoteID, actorUserID string) (Quote, error) {
	if quoteID == "" {
		return Quote{}, fmt.Errorf("quote: missing quote id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetForUpdate(ctx, tx, quoteID)
	if err != nil {
		return Quote{}, err
	}

	actor, err := s.trades.GetActor(ctx, tx, actorUserID)
	if err != nil {
		return Quote{}, err
	}
	if actor.Role != trade.RoleAdmin && actor.CompanyID != q.SupplierCompanyID {
		return Quote{}, fmt.Errorf("%w: quote %s belongs to another supplier", ErrForbidden, quoteID)
	}
	if q.Status != StatusOpen {
		return Quote{}, fmt.Errorf("%w: quote %s is %s", ErrInvalidState, quoteID, q.Status)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, quoteID, StatusWithdrawn)
	if err != nil {
		return Quote{}, err
	}

	if err := s.trades.AppendTimeline(ctx, tx, q.TradeID, "QUOTE_WITHDRAWN", actorUserID, map[string]any{
		"quote_id": quoteID,
	}); err != nil {
		return Quote{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("quote: commit withdraw: %w", err)
	}

	return updated, nil
}
