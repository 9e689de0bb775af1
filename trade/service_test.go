package trade

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestAcceptQuote_BuyerWins(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusQuoted)
	opener := &fakeOpener{}
	svc := NewService(pool, store, nil, opener, nil, nil)

	rec, err := svc.AcceptQuote(context.Background(), AcceptQuoteParams{
		TradeID:     "trade-1",
		QuoteID:     "quote-1",
		ActorUserID: "buyer-user",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.ID != "trade-1" {
		t.Errorf("expected updated record, got %+v", rec)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if store.claimedQuote != "quote-1" {
		t.Errorf("expected quote-1 to be claimed, got %q", store.claimedQuote)
	}
	if store.acceptedQuote != "quote-1" {
		t.Errorf("expected quote-1 to be recorded on the trade")
	}
	if !store.superseded {
		t.Errorf("expected losing quotes to be superseded")
	}
	if len(store.updates) != 1 || store.updates[0] != (statusEdge{StatusQuoteAccepted, StatusEscrowPending}) {
		t.Errorf("expected quote_accepted -> escrow_pending, got %v", store.updates)
	}
	if !opener.opened {
		t.Errorf("expected a pending escrow row to be opened")
	}
	if opener.amount != 5000 || opener.currency != "USD" {
		t.Errorf("expected escrow opened at quoted total, got %v %s", opener.amount, opener.currency)
	}
	if len(store.timeline) != 1 || store.timeline[0] != "QUOTE_ACCEPTED" {
		t.Errorf("expected QUOTE_ACCEPTED timeline event, got %v", store.timeline)
	}
	if len(store.outbox) != 1 || store.outbox[0] != OutboxTopicQuoteAccepted {
		t.Errorf("expected %s outbox message, got %v", OutboxTopicQuoteAccepted, store.outbox)
	}
}

func TestAcceptQuote_NonBuyerForbidden(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusQuoted)
	store.actor = Actor{UserID: "seller-user", CompanyID: "seller-co", Role: RoleSupplier}
	svc := NewService(pool, store, nil, &fakeOpener{}, nil, nil)

	_, err := svc.AcceptQuote(context.Background(), AcceptQuoteParams{
		TradeID:     "trade-1",
		QuoteID:     "quote-1",
		ActorUserID: "seller-user",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if store.claimedQuote != "" {
		t.Errorf("expected no quote claim for a forbidden actor")
	}
}

func TestAcceptQuote_AdminMayAccept(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusQuoted)
	store.actor = Actor{UserID: "admin-user", CompanyID: "platform-co", Role: RoleAdmin}
	svc := NewService(pool, store, nil, &fakeOpener{}, nil, nil)

	if _, err := svc.AcceptQuote(context.Background(), AcceptQuoteParams{
		TradeID:     "trade-1",
		QuoteID:     "quote-1",
		ActorUserID: "admin-user",
	}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAcceptQuote_QuoteUnavailable(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusQuoted)
	store.claimOK = false
	svc := NewService(pool, store, nil, &fakeOpener{}, nil, nil)

	_, err := svc.AcceptQuote(context.Background(), AcceptQuoteParams{
		TradeID:     "trade-1",
		QuoteID:     "quote-withdrawn",
		ActorUserID: "buyer-user",
	})
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
	if !pool.tx.rolled || pool.tx.committed {
		t.Errorf("expected rollback without commit")
	}
}

func TestAcceptQuote_LostRace(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusQuoteAccepted)
	winner := "quote-2"
	store.rec.AcceptedQuoteID = &winner
	store.acceptOK = false
	svc := NewService(pool, store, nil, &fakeOpener{}, nil, nil)

	_, err := svc.AcceptQuote(context.Background(), AcceptQuoteParams{
		TradeID:     "trade-1",
		QuoteID:     "quote-1",
		ActorUserID: "buyer-user",
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected losing accept to roll back")
	}
}

func TestConfirmDelivery_ConsentRequired(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusDelivered)
	svc := NewService(pool, store, &fakeReleaser{}, nil, nil, nil)

	cases := []ConfirmDeliveryParams{
		{TradeID: "trade-1", ActorUserID: "buyer-user", GoodsReceived: false, ReleaseUnderstood: true},
		{TradeID: "trade-1", ActorUserID: "buyer-user", GoodsReceived: true, ReleaseUnderstood: false},
	}
	for _, params := range cases {
		if _, err := svc.ConfirmDelivery(context.Background(), params); !errors.Is(err, ErrConsentRequired) {
			t.Fatalf("expected ErrConsentRequired, got %v", err)
		}
	}
	if pool.tx != nil {
		t.Errorf("consent checks must run before any transaction begins")
	}
}

func TestConfirmDelivery_SettlesAndReleases(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusDelivered)
	releaser := &fakeReleaser{}
	svc := NewService(pool, store, releaser, nil, nil, nil)

	rec, err := svc.ConfirmDelivery(context.Background(), ConfirmDeliveryParams{
		TradeID:           "trade-1",
		ActorUserID:       "buyer-user",
		GoodsReceived:     true,
		ReleaseUnderstood: true,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.ID != "trade-1" {
		t.Errorf("expected updated record, got %+v", rec)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(store.updates) != 1 || store.updates[0] != (statusEdge{StatusDelivered, StatusSettled}) {
		t.Errorf("expected delivered -> settled, got %v", store.updates)
	}
	if !releaser.released {
		t.Errorf("expected escrow release in the same transaction")
	}
	if len(store.timeline) != 1 || store.timeline[0] != "DELIVERY_ACCEPTED" {
		t.Errorf("expected DELIVERY_ACCEPTED timeline event, got %v", store.timeline)
	}
	if len(store.outbox) != 1 || store.outbox[0] != OutboxTopicDeliveryAccepted {
		t.Errorf("expected %s outbox message, got %v", OutboxTopicDeliveryAccepted, store.outbox)
	}
}

func TestConfirmDelivery_OnlyBuyer(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusDelivered)
	store.actor = Actor{UserID: "seller-user", CompanyID: "seller-co", Role: RoleSupplier}
	releaser := &fakeReleaser{}
	svc := NewService(pool, store, releaser, nil, nil, nil)

	_, err := svc.ConfirmDelivery(context.Background(), ConfirmDeliveryParams{
		TradeID:           "trade-1",
		ActorUserID:       "seller-user",
		GoodsReceived:     true,
		ReleaseUnderstood: true,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if releaser.released {
		t.Errorf("expected no escrow release for a forbidden actor")
	}
}

func TestConfirmDelivery_WrongState(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusInTransit)
	store.updateOK = false
	releaser := &fakeReleaser{}
	svc := NewService(pool, store, releaser, nil, nil, nil)

	_, err := svc.ConfirmDelivery(context.Background(), ConfirmDeliveryParams{
		TradeID:           "trade-1",
		ActorUserID:       "buyer-user",
		GoodsReceived:     true,
		ReleaseUnderstood: true,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if releaser.released {
		t.Errorf("expected no escrow release before delivery")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
}

func TestReportIssue_OpensDispute(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusInTransit)
	opener := &fakeDisputeOpener{id: "dispute-9"}
	svc := NewService(pool, store, nil, nil, opener, nil)

	id, err := svc.ReportIssue(context.Background(), ReportIssueParams{
		TradeID:     "trade-1",
		ActorUserID: "buyer-user",
		Reason:      "goods arrived damaged",
		Evidence:    "photos attached",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if id != "dispute-9" {
		t.Errorf("expected dispute id passthrough, got %q", id)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(store.fromAnySet) != 3 {
		t.Errorf("expected dispute edge guarded by funded statuses, got %v", store.fromAnySet)
	}
	if opener.reason != "goods arrived damaged" || opener.evidence != "photos attached" {
		t.Errorf("expected claim passthrough, got %q / %q", opener.reason, opener.evidence)
	}
	if len(store.timeline) != 1 || store.timeline[0] != "DISPUTE_OPENED" {
		t.Errorf("expected DISPUTE_OPENED timeline event, got %v", store.timeline)
	}
	if len(store.outbox) != 1 || store.outbox[0] != OutboxTopicDisputeOpened {
		t.Errorf("expected %s outbox message, got %v", OutboxTopicDisputeOpened, store.outbox)
	}
}

func TestReportIssue_RequiresFundedTrade(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusEscrowPending)
	store.fromAnyOK = false
	opener := &fakeDisputeOpener{id: "dispute-9"}
	svc := NewService(pool, store, nil, nil, opener, nil)

	_, err := svc.ReportIssue(context.Background(), ReportIssueParams{
		TradeID:     "trade-1",
		ActorUserID: "buyer-user",
		Reason:      "never shipped",
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if opener.opened {
		t.Errorf("expected no dispute row for an unfunded trade")
	}
}

func TestReportIssue_OutsiderForbidden(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusInTransit)
	store.actor = Actor{UserID: "other-user", CompanyID: "other-co", Role: RoleBuyer}
	svc := NewService(pool, store, nil, nil, &fakeDisputeOpener{}, nil)

	_, err := svc.ReportIssue(context.Background(), ReportIssueParams{
		TradeID:     "trade-1",
		ActorUserID: "other-user",
		Reason:      "not my trade",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestTransition_AppliesLegalEdge(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusDraft)
	svc := NewService(pool, store, nil, nil, nil, nil)

	if _, err := svc.Transition(context.Background(), TransitionParams{
		TradeID:     "trade-1",
		Target:      StatusRFQOpen,
		ActorUserID: "buyer-user",
	}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(store.updates) != 1 || store.updates[0] != (statusEdge{StatusDraft, StatusRFQOpen}) {
		t.Errorf("expected draft -> rfq_open, got %v", store.updates)
	}
	if len(store.timeline) != 1 || store.timeline[0] != "TRADE_STATUS_CHANGED" {
		t.Errorf("expected TRADE_STATUS_CHANGED timeline event, got %v", store.timeline)
	}
	if len(store.outbox) != 1 || store.outbox[0] != OutboxTopicStatusChanged {
		t.Errorf("expected %s outbox message, got %v", OutboxTopicStatusChanged, store.outbox)
	}
}

func TestTransition_RejectsIllegalEdge(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusSettled)
	svc := NewService(pool, store, nil, nil, nil, nil)

	_, err := svc.Transition(context.Background(), TransitionParams{
		TradeID: "trade-1",
		Target:  StatusClosed,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(store.updates) != 0 {
		t.Errorf("expected no conditional write for an illegal edge")
	}
}

func TestTransition_RejectsUnknownTarget(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, newFakeStore(StatusDraft), nil, nil, nil, nil)

	_, err := svc.Transition(context.Background(), TransitionParams{
		TradeID: "trade-1",
		Target:  Status("archived"),
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if pool.tx != nil {
		t.Errorf("target validation must run before any transaction begins")
	}
}

func TestTransition_RejectsGuardedTargets(t *testing.T) {
	for _, target := range []Status{StatusSettled, StatusEscrowFunded, StatusRefunded, StatusDisputed} {
		pool := &fakePool{}
		store := newFakeStore(StatusDelivered)
		svc := NewService(pool, store, nil, nil, nil, nil)

		_, err := svc.Transition(context.Background(), TransitionParams{
			TradeID:     "trade-1",
			Target:      target,
			ActorUserID: "buyer-user",
		})
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("target %s: expected ErrInvalidState, got %v", target, err)
		}
		if pool.tx != nil {
			t.Errorf("target %s: guarded targets must be rejected before any transaction begins", target)
		}
		if len(store.updates) != 0 {
			t.Errorf("target %s: expected no conditional write", target)
		}
	}
}

func TestTransition_OutsiderForbidden(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusEscrowFunded)
	store.actor = Actor{UserID: "outside-user", CompanyID: "other-co", Role: RoleBuyer}
	svc := NewService(pool, store, nil, nil, nil, nil)

	_, err := svc.Transition(context.Background(), TransitionParams{
		TradeID:     "trade-1",
		Target:      StatusInTransit,
		ActorUserID: "outside-user",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback for an outsider")
	}
	if len(store.updates) != 0 {
		t.Errorf("expected no conditional write for an outsider")
	}
}

func TestTransition_SellerMayMove(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusEscrowFunded)
	store.actor = Actor{UserID: "seller-user", CompanyID: "seller-co", Role: RoleSupplier}
	svc := NewService(pool, store, nil, nil, nil, nil)

	if _, err := svc.Transition(context.Background(), TransitionParams{
		TradeID:     "trade-1",
		Target:      StatusInTransit,
		ActorUserID: "seller-user",
	}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestTransition_ConcurrentMove(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(StatusDraft)
	store.updateOK = false
	svc := NewService(pool, store, nil, nil, nil, nil)

	_, err := svc.Transition(context.Background(), TransitionParams{
		TradeID: "trade-1",
		Target:  StatusRFQOpen,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected losing transition to roll back")
	}
}

type statusEdge struct {
	from Status
	to   Status
}

type fakeStore struct {
	rec    Record
	actor  Actor
	getErr error

	pricing       QuotePricing
	claimOK       bool
	claimedQuote  string
	acceptOK      bool
	acceptedQuote string
	superseded    bool

	updateOK   bool
	updates    []statusEdge
	fromAnyOK  bool
	fromAnySet []Status

	timeline []string
	outbox   []string
}

func newFakeStore(status Status) *fakeStore {
	return &fakeStore{
		rec: Record{
			ID:              "trade-1",
			Status:          status,
			BuyerCompanyID:  "buyer-co",
			SellerCompanyID: "seller-co",
			Currency:        "USD",
		},
		actor: Actor{UserID: "buyer-user", CompanyID: "buyer-co", Role: RoleBuyer},
		pricing: QuotePricing{
			UnitPrice:    50,
			TotalPrice:   5000,
			Currency:     "USD",
			LeadTimeDays: 14,
			Incoterms:    "FOB",
			PaymentTerms: "NET30",
		},
		claimOK:   true,
		acceptOK:  true,
		updateOK:  true,
		fromAnyOK: true,
	}
}

func (f *fakeStore) Get(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	if f.getErr != nil {
		return Record{}, f.getErr
	}
	return f.rec, nil
}

func (f *fakeStore) GetActor(ctx context.Context, tx pgx.Tx, userID string) (Actor, error) {
	return f.actor, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, patch map[string]any) (bool, error) {
	if !f.updateOK {
		return false, nil
	}
	f.updates = append(f.updates, statusEdge{from, to})
	f.rec.Status = to
	return true, nil
}

func (f *fakeStore) UpdateStatusFromAny(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status, patch map[string]any) (bool, error) {
	f.fromAnySet = from
	if !f.fromAnyOK {
		return false, nil
	}
	f.rec.Status = to
	return true, nil
}

func (f *fakeStore) ClaimQuote(ctx context.Context, tx pgx.Tx, quoteID, tradeID string) (QuotePricing, bool, error) {
	if !f.claimOK {
		return QuotePricing{}, false, nil
	}
	f.claimedQuote = quoteID
	return f.pricing, true, nil
}

func (f *fakeStore) SetAcceptedQuote(ctx context.Context, tx pgx.Tx, tradeID, quoteID string, total float64, patch map[string]any) (bool, error) {
	if !f.acceptOK {
		return false, nil
	}
	f.acceptedQuote = quoteID
	f.rec.Status = StatusQuoteAccepted
	f.rec.AcceptedQuoteID = &f.acceptedQuote
	return true, nil
}

func (f *fakeStore) SupersedeOpenQuotes(ctx context.Context, tx pgx.Tx, tradeID, acceptedQuoteID string) error {
	f.superseded = true
	return nil
}

func (f *fakeStore) AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error {
	f.timeline = append(f.timeline, eventType)
	return nil
}

func (f *fakeStore) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.outbox = append(f.outbox, topic)
	return nil
}

type fakeOpener struct {
	opened   bool
	amount   float64
	currency string
}

func (f *fakeOpener) OpenPending(ctx context.Context, tx pgx.Tx, tradeID, buyerCompanyID, sellerCompanyID string, amount float64, currency string) error {
	f.opened = true
	f.amount = amount
	f.currency = currency
	return nil
}

type fakeReleaser struct {
	released bool
}

func (f *fakeReleaser) OnDeliveryAccepted(ctx context.Context, tx pgx.Tx, tradeID string) error {
	f.released = true
	return nil
}

type fakeDisputeOpener struct {
	id       string
	opened   bool
	reason   string
	evidence string
}

func (f *fakeDisputeOpener) OpenDispute(ctx context.Context, tx pgx.Tx, tradeID, raisedByUserID, reason, evidence string) (string, error) {
	f.opened = true
	f.reason = reason
	f.evidence = evidence
	return f.id, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
