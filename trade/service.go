package trade

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service.
type Store interface {
	Get(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	GetActor(ctx context.Context, tx pgx.Tx, userID string) (Actor, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, patch map[string]any) (bool, error)
	UpdateStatusFromAny(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status, patch map[string]any) (bool, error)
	ClaimQuote(ctx context.Context, tx pgx.Tx, quoteID, tradeID string) (QuotePricing, bool, error)
	SetAcceptedQuote(ctx context.Context, tx pgx.Tx, tradeID, quoteID string, total float64, patch map[string]any) (bool, error)
	SupersedeOpenQuotes(ctx context.Context, tx pgx.Tx, tradeID, acceptedQuoteID string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// EscrowOpener creates the pending escrow row when a quote is accepted.
type EscrowOpener interface {
	OpenPending(ctx context.Context, tx pgx.Tx, tradeID, buyerCompanyID, sellerCompanyID string, amount float64, currency string) error
}

// EscrowReleaser releases held escrow funds when delivery is accepted.
type EscrowReleaser interface {
	OnDeliveryAccepted(ctx context.Context, tx pgx.Tx, tradeID string) error
}

// DisputeOpener creates an open dispute row when a party reports an issue.
type DisputeOpener interface {
	OpenDispute(ctx context.Context, tx pgx.Tx, tradeID, raisedByUserID, reason, evidence string) (string, error)
}

// Service governs the trade lifecycle. All public operations run inside one
// transaction so a transition and its side effects commit or roll back
// together.
type Service struct {
	pool     TxBeginner
	repo     Store
	escrow   EscrowReleaser
	opener   EscrowOpener
	disputes DisputeOpener
	logger   *zap.Logger
}

func NewService(pool TxBeginner, repo Store, escrow EscrowReleaser, opener EscrowOpener, disputes DisputeOpener, logger *zap.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		escrow:   escrow,
		opener:   opener,
		disputes: disputes,
		logger:   logger,
	}
}

// AcceptQuoteParams identifies the quote a buyer accepts for a trade.
type AcceptQuoteParams struct {
	TradeID     string
	QuoteID     string
	ActorUserID string
}

// AcceptQuote marks the winning quote, records its priced terms onto the
// trade, and advances the trade into escrow_pending. Two concurrent accepts
// race at the conditional writes; exactly one wins.
func (s *Service) AcceptQuote(ctx context.Context, params AcceptQuoteParams) (Record, error) {
	if params.TradeID == "" || params.QuoteID == "" {
		return Record{}, fmt.Errorf("trade: accept quote: trade id and quote id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Record{}, err
	}

	actor, err := s.repo.GetActor(ctx, tx, params.ActorUserID)
	if err != nil {
		return Record{}, err
	}
	if actor.CompanyID != rec.BuyerCompanyID && actor.Role != RoleAdmin {
		return Record{}, fmt.Errorf("%w: only the buyer may accept a quote", ErrForbidden)
	}

	pricing, claimed, err := s.repo.ClaimQuote(ctx, tx, params.QuoteID, params.TradeID)
	if err != nil {
		return Record{}, err
	}
	if !claimed {
		return Record{}, fmt.Errorf("%w: quote %s is not open for trade %s", ErrQuoteUnavailable, params.QuoteID, params.TradeID)
	}

	patch := map[string]any{
		"accepted_quote_id": params.QuoteID,
		"unit_price":        pricing.UnitPrice,
		"total_price":       pricing.TotalPrice,
		"lead_time_days":    pricing.LeadTimeDays,
		"incoterms":         pricing.Incoterms,
		"payment_terms":     pricing.PaymentTerms,
	}
	won, err := s.repo.SetAcceptedQuote(ctx, tx, params.TradeID, params.QuoteID, pricing.TotalPrice, patch)
	if err != nil {
		return Record{}, err
	}
	if !won {
		// The row moved under us: either another quote won the race or the
		// trade was never in quoted. Re-read for an actionable message.
		cur, gerr := s.repo.Get(ctx, tx, params.TradeID)
		if gerr != nil {
			return Record{}, gerr
		}
		if cur.AcceptedQuoteID != nil {
			return Record{}, fmt.Errorf("%w: another quote was already accepted", ErrInvalidState)
		}
		return Record{}, fmt.Errorf("%w: trade is %s, expected %s", ErrInvalidState, cur.Status, StatusQuoted)
	}
	transitionsTotal.WithLabelValues(string(StatusQuoted), string(StatusQuoteAccepted)).Inc()

	if err := s.repo.SupersedeOpenQuotes(ctx, tx, params.TradeID, params.QuoteID); err != nil {
		return Record{}, err
	}

	// Immediately open the funding window: the accepted trade awaits its
	// escrow deposit.
	ok, err := s.repo.UpdateStatus(ctx, tx, params.TradeID, StatusQuoteAccepted, StatusEscrowPending, nil)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("%w: trade left %s before funding window opened", ErrInvalidState, StatusQuoteAccepted)
	}
	transitionsTotal.WithLabelValues(string(StatusQuoteAccepted), string(StatusEscrowPending)).Inc()

	if s.opener != nil {
		if err := s.opener.OpenPending(ctx, tx, params.TradeID, rec.BuyerCompanyID, rec.SellerCompanyID, pricing.TotalPrice, pricing.Currency); err != nil {
			return Record{}, err
		}
	}

	if err := s.repo.AppendTimeline(ctx, tx, params.TradeID, "QUOTE_ACCEPTED", params.ActorUserID, map[string]any{
		"quote_id":    params.QuoteID,
		"unit_price":  pricing.UnitPrice,
		"total_price": pricing.TotalPrice,
	}); err != nil {
		return Record{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicQuoteAccepted, map[string]any{
		"trade_id": params.TradeID,
		"quote_id": params.QuoteID,
		"buyer":    rec.BuyerCompanyID,
		"seller":   rec.SellerCompanyID,
	}); err != nil {
		return Record{}, err
	}

	updated, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("trade: commit accept quote: %w", err)
	}

	s.logger.Info("quote accepted",
		zap.String("trade_id", params.TradeID),
		zap.String("quote_id", params.QuoteID))
	return updated, nil
}

// ConfirmDeliveryParams carries the buyer's delivery acceptance together with
// the two explicit consent flags.
type ConfirmDeliveryParams struct {
	TradeID           string
	ActorUserID       string
	GoodsReceived     bool
	ReleaseUnderstood bool
}

// ConfirmDelivery settles the trade and releases escrow in one transaction.
// The delivered -> settled edge and the escrow release commit together so the
// trade can never be stuck settled-but-unreleased.
func (s *Service) ConfirmDelivery(ctx context.Context, params ConfirmDeliveryParams) (Record, error) {
	if !params.GoodsReceived {
		return Record{}, fmt.Errorf("%w: goods-received confirmation missing", ErrConsentRequired)
	}
	if !params.ReleaseUnderstood {
		return Record{}, fmt.Errorf("%w: escrow-release acknowledgement missing", ErrConsentRequired)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Record{}, err
	}

	actor, err := s.repo.GetActor(ctx, tx, params.ActorUserID)
	if err != nil {
		return Record{}, err
	}
	if actor.CompanyID != rec.BuyerCompanyID {
		return Record{}, fmt.Errorf("%w: only the buyer may confirm delivery", ErrForbidden)
	}

	patch := map[string]any{
		"goods_received_confirmed":     true,
		"escrow_release_acknowledged":  true,
		"delivery_accepted_by_user_id": params.ActorUserID,
	}
	ok, err := s.repo.UpdateStatus(ctx, tx, params.TradeID, StatusDelivered, StatusSettled, patch)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		cur, gerr := s.repo.Get(ctx, tx, params.TradeID)
		if gerr != nil {
			return Record{}, gerr
		}
		return Record{}, fmt.Errorf("%w: trade is %s, expected %s", ErrInvalidState, cur.Status, StatusDelivered)
	}
	transitionsTotal.WithLabelValues(string(StatusDelivered), string(StatusSettled)).Inc()

	if err := s.escrow.OnDeliveryAccepted(ctx, tx, params.TradeID); err != nil {
		return Record{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, params.TradeID, "DELIVERY_ACCEPTED", params.ActorUserID, map[string]any{
		"goods_received_confirmed":    true,
		"escrow_release_acknowledged": true,
	}); err != nil {
		return Record{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicDeliveryAccepted, map[string]any{
		"trade_id": params.TradeID,
		"buyer":    rec.BuyerCompanyID,
		"seller":   rec.SellerCompanyID,
	}); err != nil {
		return Record{}, err
	}

	updated, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("trade: commit confirm delivery: %w", err)
	}

	s.logger.Info("delivery confirmed, trade settled", zap.String("trade_id", params.TradeID))
	return updated, nil
}

// ReportIssueParams carries a party's dispute claim against a funded trade.
type ReportIssueParams struct {
	TradeID     string
	ActorUserID string
	Reason      string
	Evidence    string
}

// ReportIssue moves a funded trade into disputed and opens a dispute record.
// Escrow stays held until a verdict is reached.
func (s *Service) ReportIssue(ctx context.Context, params ReportIssueParams) (string, error) {
	if params.Reason == "" {
		return "", fmt.Errorf("trade: report issue: reason required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return "", err
	}

	actor, err := s.repo.GetActor(ctx, tx, params.ActorUserID)
	if err != nil {
		return "", err
	}
	if actor.CompanyID != rec.BuyerCompanyID && actor.CompanyID != rec.SellerCompanyID && actor.Role != RoleAdmin {
		return "", fmt.Errorf("%w: only a party to the trade may report an issue", ErrForbidden)
	}

	ok, err := s.repo.UpdateStatusFromAny(ctx, tx, params.TradeID, FundedStatuses(), StatusDisputed, map[string]any{
		"dispute_reason": params.Reason,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		cur, gerr := s.repo.Get(ctx, tx, params.TradeID)
		if gerr != nil {
			return "", gerr
		}
		return "", fmt.Errorf("%w: trade is %s, disputes require a funded trade", ErrInvalidState, cur.Status)
	}
	transitionsTotal.WithLabelValues(string(rec.Status), string(StatusDisputed)).Inc()

	disputeID, err := s.disputes.OpenDispute(ctx, tx, params.TradeID, params.ActorUserID, params.Reason, params.Evidence)
	if err != nil {
		return "", err
	}

	if err := s.repo.AppendTimeline(ctx, tx, params.TradeID, "DISPUTE_OPENED", params.ActorUserID, map[string]any{
		"dispute_id": disputeID,
		"reason":     params.Reason,
	}); err != nil {
		return "", err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicDisputeOpened, map[string]any{
		"trade_id":   params.TradeID,
		"dispute_id": disputeID,
		"buyer":      rec.BuyerCompanyID,
		"seller":     rec.SellerCompanyID,
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("trade: commit report issue: %w", err)
	}

	s.logger.Info("issue reported",
		zap.String("trade_id", params.TradeID),
		zap.String("dispute_id", disputeID))
	return disputeID, nil
}

// TransitionParams drives the generic low-level transition primitive.
type TransitionParams struct {
	TradeID       string
	Target        Status
	ActorUserID   string
	MetadataPatch map[string]any
}

// guardedTargets are statuses reached only through the operation that owns
// their side effects: settlement releases escrow, funding records a verified
// payment, refunding records an escrow refund. The generic primitive must not
// produce them, or a trade could reach the status with the side effect never
// recorded.
var guardedTargets = map[Status]string{
	StatusSettled:      "delivery confirmation",
	StatusEscrowFunded: "payment confirmation",
	StatusRefunded:     "dispute resolution",
	StatusDisputed:     "issue reporting",
}

// Transition validates the requested edge against the state graph and applies
// it conditionally, appending the timeline and outbox rows in the same
// transaction. Only a party to the trade (or an admin) may call it, and
// statuses owned by a dedicated operation are rejected outright.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Record, error) {
	if !params.Target.Valid() {
		return Record{}, fmt.Errorf("%w: unknown status %q", ErrInvalidState, params.Target)
	}
	if owner, guarded := guardedTargets[params.Target]; guarded {
		return Record{}, fmt.Errorf("%w: %s is set through %s", ErrInvalidState, params.Target, owner)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Record{}, err
	}

	actor, err := s.repo.GetActor(ctx, tx, params.ActorUserID)
	if err != nil {
		return Record{}, err
	}
	if actor.CompanyID != rec.BuyerCompanyID && actor.CompanyID != rec.SellerCompanyID && actor.Role != RoleAdmin {
		return Record{}, fmt.Errorf("%w: only a party to the trade may move it", ErrForbidden)
	}

	if !CanTransition(rec.Status, params.Target) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, rec.Status, params.Target)
	}

	ok, err := s.repo.UpdateStatus(ctx, tx, params.TradeID, rec.Status, params.Target, params.MetadataPatch)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		cur, gerr := s.repo.Get(ctx, tx, params.TradeID)
		if gerr != nil {
			return Record{}, gerr
		}
		return Record{}, fmt.Errorf("%w: trade moved to %s concurrently", ErrInvalidState, cur.Status)
	}
	transitionsTotal.WithLabelValues(string(rec.Status), string(params.Target)).Inc()

	if err := s.repo.AppendTimeline(ctx, tx, params.TradeID, "TRADE_STATUS_CHANGED", params.ActorUserID, map[string]any{
		"previous_status": rec.Status,
		"next_status":     params.Target,
	}); err != nil {
		return Record{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicStatusChanged, map[string]any{
		"trade_id": params.TradeID,
		"previous": rec.Status,
		"next":     params.Target,
	}); err != nil {
		return Record{}, err
	}

	updated, err := s.repo.Get(ctx, tx, params.TradeID)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("trade: commit transition: %w", err)
	}
	return updated, nil
}
