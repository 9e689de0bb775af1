package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tradeflow/advisor"
	"tradeflow/shipment"
	"tradeflow/trade"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the dispute data access required by the engine.
type Store interface {
	Get(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	GetWithParties(ctx context.Context, tx pgx.Tx, id string) (Record, Parties, error)
	GetActor(ctx context.Context, tx pgx.Tx, userID string) (string, string, error)
	PersistVerdict(ctx context.Context, tx pgx.Tx, id string, info VerdictInfo, policyTriggered bool, next Status) (bool, error)
}

// ShipmentReader supplies the read-only logistics inputs to the policy.
type ShipmentReader interface {
	SelectRelevant(ctx context.Context, tradeID string) (shipment.Shipment, error)
	HasMovementSince(ctx context.Context, shipmentID string, cutoff time.Time) (bool, error)
}

// Advisor produces the narrative explanation. Its output is advisory only.
type Advisor interface {
	Assess(ctx context.Context, facts advisor.Facts) (advisor.Assessment, error)
}

// EscrowApplier applies the verdict to the held funds.
type EscrowApplier interface {
	OnDisputeVerdict(ctx context.Context, tx pgx.Tx, tradeID string, refundBuyer bool) error
}

// TradeStore is the slice of the trade repository the engine needs to move
// the trade out of disputed and record the outcome.
type TradeStore interface {
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to trade.Status, patch map[string]any) (bool, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Engine computes dispute verdicts: a deterministic overdue/movement policy
// layered under a generated narrative, with the policy always winning.
type Engine struct {
	pool      TxBeginner
	repo      Store
	shipments ShipmentReader
	advisor   Advisor
	escrow    EscrowApplier
	trades    TradeStore
	policy    Policy
	logger    *zap.Logger
	nowFn     func() time.Time
}

func NewEngine(pool TxBeginner, repo Store, shipments ShipmentReader, adv Advisor, escrow EscrowApplier, trades TradeStore, policy Policy, logger *zap.Logger) *Engine {
	if repo == nil {
		repo = NewRepository()
	}
	if policy.OverdueDays == 0 {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pool:      pool,
		repo:      repo,
		shipments: shipments,
		advisor:   adv,
		escrow:    escrow,
		trades:    trades,
		policy:    policy,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// JudgeResult is what the judge endpoint renders. A verdict object is always
// present, even on degraded paths; Success is true whenever a verdict is
// returned, stored or fresh.
type JudgeResult struct {
	Success         bool        `json:"success"`
	DisputeID       string      `json:"dispute_id"`
	Status          Status      `json:"status"`
	PolicyTriggered bool        `json:"policy_triggered"`
	Verdict         VerdictInfo `json:"verdict"`
}

const fallbackReasoning = "The automated explanation service was unavailable. " +
	"The computed shipment facts did not trigger the refund policy, so the dispute has been escalated for manual review."

// Judge computes (or returns) the verdict for a dispute. Idempotent: a
// dispute that is no longer judgeable yields its stored verdict unchanged.
// The narrative call may degrade to manual review; the deterministic policy
// is never skipped.
func (e *Engine) Judge(ctx context.Context, disputeID, requestingUserID string) (JudgeResult, error) {
	rec, parties, err := e.loadAuthorized(ctx, disputeID, requestingUserID)
	if err != nil {
		return JudgeResult{}, err
	}

	if !rec.Status.Judgeable() {
		stored, ok := rec.StoredVerdict()
		if !ok {
			return JudgeResult{}, fmt.Errorf("dispute: %s is %s without a stored verdict", rec.ID, rec.Status)
		}
		return JudgeResult{
			Success:         true,
			DisputeID:       rec.ID,
			Status:          rec.Status,
			PolicyTriggered: rec.PolicyTriggered,
			Verdict:         stored,
		}, nil
	}

	now := e.nowFn()
	facts, policyRes, err := e.computeFacts(ctx, rec, now)
	if err != nil {
		return JudgeResult{}, err
	}

	info := e.narrate(ctx, facts)

	policyTriggered := policyRes.Refund
	if policyTriggered {
		info.Verdict = VerdictRefundBuyer
		info.Confidence = 0.95
		info.Reasoning = fmt.Sprintf(
			"[policy] Delivery is %d days overdue with no carrier movement in the last %d days, which mandates a refund. %s",
			policyRes.DaysOverdue, e.policy.MovementWindowDays, info.Reasoning,
		)
		info.RecommendedAction = "refund_buyer"
	}

	next := StatusEscalatedToAdmin
	if info.Verdict == VerdictRefundBuyer {
		next = StatusResolvedRefundPending
	}

	result, err := e.persist(ctx, rec, parties, info, policyTriggered, next)
	if err != nil {
		return JudgeResult{}, err
	}

	verdictsTotal.WithLabelValues(string(result.Verdict.Verdict), fmt.Sprintf("%t", result.PolicyTriggered)).Inc()
	e.logger.Info("dispute judged",
		zap.String("dispute_id", disputeID),
		zap.String("verdict", string(result.Verdict.Verdict)),
		zap.Bool("policy_triggered", result.PolicyTriggered))
	return result, nil
}

func (e *Engine) loadAuthorized(ctx context.Context, disputeID, userID string) (Record, Parties, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Record{}, Parties{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, parties, err := e.repo.GetWithParties(ctx, tx, disputeID)
	if err != nil {
		return Record{}, Parties{}, err
	}

	companyID, role, err := e.repo.GetActor(ctx, tx, userID)
	if err != nil {
		return Record{}, Parties{}, err
	}
	if role != trade.RoleAdmin && companyID != parties.BuyerCompanyID && companyID != parties.SellerCompanyID {
		return Record{}, Parties{}, fmt.Errorf("%w: user %s is not a party to trade %s", ErrForbidden, userID, parties.TradeID)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, Parties{}, fmt.Errorf("dispute: commit read: %w", err)
	}
	return rec, parties, nil
}

func (e *Engine) computeFacts(ctx context.Context, rec Record, now time.Time) (advisor.Facts, PolicyResult, error) {
	facts := advisor.Facts{
		TradeID:        rec.TradeID,
		Reason:         rec.Reason,
		ShipmentStatus: "unknown",
	}

	ship, err := e.shipments.SelectRelevant(ctx, rec.TradeID)
	if err != nil {
		if err == shipment.ErrNoShipment {
			// No logistics data: the refund rule cannot trigger and the
			// narrative works from the claim alone.
			return facts, PolicyResult{}, nil
		}
		return advisor.Facts{}, PolicyResult{}, err
	}

	moved, err := e.shipments.HasMovementSince(ctx, ship.ID, e.policy.MovementCutoff(now))
	if err != nil {
		return advisor.Facts{}, PolicyResult{}, err
	}

	policyRes := e.policy.Evaluate(now, ship.EstimatedDelivery, moved)
	facts.ShipmentStatus = ship.Status
	facts.DaysOverdue = policyRes.DaysOverdue
	facts.RecentMovement = policyRes.RecentMovement
	return facts, policyRes, nil
}

// narrate asks the generative-text service for an explanation and validates
// its verdict against the closed enum. Any failure degrades to manual review
// rather than aborting the judgment.
func (e *Engine) narrate(ctx context.Context, facts advisor.Facts) VerdictInfo {
	assessment, err := e.advisor.Assess(ctx, facts)
	if err != nil {
		e.logger.Warn("narrative service failed, falling back to manual review",
			zap.String("trade_id", facts.TradeID),
			zap.Error(err))
		advisorFailures.Inc()
		return VerdictInfo{
			Verdict:           VerdictManualReview,
			Confidence:        0,
			Reasoning:         fallbackReasoning,
			RecommendedAction: "manual_review",
		}
	}

	if !ValidVerdict(assessment.Verdict) {
		e.logger.Warn("narrative returned unrecognised verdict, forcing manual review",
			zap.String("trade_id", facts.TradeID),
			zap.String("verdict", assessment.Verdict))
		return VerdictInfo{
			Verdict:           VerdictManualReview,
			Confidence:        assessment.Confidence,
			Reasoning:         assessment.Reasoning,
			RecommendedAction: "manual_review",
			MissingEvidence:   assessment.MissingEvidence,
		}
	}

	return VerdictInfo{
		Verdict:           Verdict(assessment.Verdict),
		Confidence:        assessment.Confidence,
		Reasoning:         assessment.Reasoning,
		RecommendedAction: assessment.RecommendedAction,
		MissingEvidence:   assessment.MissingEvidence,
	}
}

func (e *Engine) persist(ctx context.Context, rec Record, parties Parties, info VerdictInfo, policyTriggered bool, next Status) (JudgeResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return JudgeResult{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := e.repo.PersistVerdict(ctx, tx, rec.ID, info, policyTriggered, next)
	if err != nil {
		return JudgeResult{}, err
	}
	if !ok {
		// Raced with another judgment: surface whatever was stored.
		stored, err := e.repo.Get(ctx, tx, rec.ID)
		if err != nil {
			return JudgeResult{}, err
		}
		verdict, has := stored.StoredVerdict()
		if !has {
			return JudgeResult{}, fmt.Errorf("dispute: %s left judgeable without a verdict", rec.ID)
		}
		if err := tx.Commit(ctx); err != nil {
			return JudgeResult{}, fmt.Errorf("dispute: commit read: %w", err)
		}
		return JudgeResult{
			Success:         true,
			DisputeID:       stored.ID,
			Status:          stored.Status,
			PolicyTriggered: stored.PolicyTriggered,
			Verdict:         verdict,
		}, nil
	}

	refund := info.Verdict == VerdictRefundBuyer
	if err := e.escrow.OnDisputeVerdict(ctx, tx, parties.TradeID, refund); err != nil {
		return JudgeResult{}, err
	}
	if refund {
		moved, err := e.trades.UpdateStatus(ctx, tx, parties.TradeID, trade.StatusDisputed, trade.StatusRefunded, map[string]any{
			"dispute_id": rec.ID,
		})
		if err != nil {
			return JudgeResult{}, err
		}
		if !moved {
			return JudgeResult{}, fmt.Errorf("%w: trade %s is not disputed", trade.ErrInvalidState, parties.TradeID)
		}
	}

	if err := e.trades.AppendTimeline(ctx, tx, parties.TradeID, "DISPUTE_JUDGED", "", map[string]any{
		"dispute_id":       rec.ID,
		"verdict":          info.Verdict,
		"policy_triggered": policyTriggered,
	}); err != nil {
		return JudgeResult{}, err
	}
	if err := e.trades.EnqueueOutbox(ctx, tx, "dispute.judged", map[string]any{
		"dispute_id": rec.ID,
		"trade_id":   parties.TradeID,
		"verdict":    info.Verdict,
		"buyer":      parties.BuyerCompanyID,
		"seller":     parties.SellerCompanyID,
	}); err != nil {
		return JudgeResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return JudgeResult{}, fmt.Errorf("dispute: commit verdict: %w", err)
	}

	return JudgeResult{
		Success:         true,
		DisputeID:       rec.ID,
		Status:          next,
		PolicyTriggered: policyTriggered,
		Verdict:         info,
	}, nil
}
