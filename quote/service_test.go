package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradeflow/trade"
)

func newSubmitParams() SubmitParams {
	return SubmitParams{
		TradeID:      "trade-1",
		ActorUserID:  "supplier-user",
		UnitPrice:    50,
		TotalPrice:   5000,
		Currency:     "usd",
		LeadTimeDays: 14,
		Incoterms:    "FOB",
		PaymentTerms: "NET30",
	}
}

func TestSubmit_FirstQuoteMovesTradeToQuoted(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeQuoteRepo{}
	trades := newFakeTradeStore(trade.StatusRFQOpen)
	svc := NewService(pool, repo, trades, nil).WithIDGenerator(func() string { return "quote-1" })

	q, err := svc.Submit(context.Background(), newSubmitParams())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if q.ID != "quote-1" || q.SupplierCompanyID != "supplier-co" || q.Status != StatusOpen {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.Currency != "USD" {
		t.Errorf("expected currency normalised to USD, got %q", q.Currency)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(trades.updates) != 1 || trades.updates[0] != (tradeEdge{trade.StatusRFQOpen, trade.StatusQuoted}) {
		t.Errorf("expected rfq_open -> quoted, got %v", trades.updates)
	}
	if len(trades.timeline) != 1 || trades.timeline[0] != "QUOTE_SUBMITTED" {
		t.Errorf("expected QUOTE_SUBMITTED timeline event, got %v", trades.timeline)
	}
	if len(trades.outbox) != 1 || trades.outbox[0] != "quote.submitted" {
		t.Errorf("expected quote.submitted outbox message, got %v", trades.outbox)
	}
}

func TestSubmit_SecondQuoteLeavesStatusAlone(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeQuoteRepo{}
	trades := newFakeTradeStore(trade.StatusQuoted)
	svc := NewService(pool, repo, trades, nil)

	if _, err := svc.Submit(context.Background(), newSubmitParams()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(trades.updates) != 0 {
		t.Errorf("expected no transition on an already quoted trade, got %v", trades.updates)
	}
}

func TestSubmit_ToleratesConcurrentFirstQuote(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeQuoteRepo{}
	trades := newFakeTradeStore(trade.StatusRFQOpen)
	trades.updateOK = false
	svc := NewService(pool, repo, trades, nil)

	if _, err := svc.Submit(context.Background(), newSubmitParams()); err != nil {
		t.Fatalf("expected losing the first-quote race to succeed, got %v", err)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestSubmit_OnlySuppliersQuote(t *testing.T) {
	pool := &fakePool{}
	trades := newFakeTradeStore(trade.StatusRFQOpen)
	trades.actor = trade.Actor{UserID: "buyer-user", CompanyID: "buyer-co", Role: trade.RoleBuyer}
	svc := NewService(pool, &fakeQuoteRepo{}, trades, nil)

	_, err := svc.Submit(context.Background(), newSubmitParams())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSubmit_BuyerCannotQuoteOwnRequest(t *testing.T) {
	pool := &fakePool{}
	trades := newFakeTradeStore(trade.StatusRFQOpen)
	trades.actor = trade.Actor{UserID: "insider", CompanyID: "buyer-co", Role: trade.RoleSupplier}
	svc := NewService(pool, &fakeQuoteRepo{}, trades, nil)

	_, err := svc.Submit(context.Background(), newSubmitParams())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSubmit_QuotingClosedTrade(t *testing.T) {
	pool := &fakePool{}
	trades := newFakeTradeStore(trade.StatusEscrowPending)
	svc := NewService(pool, &fakeQuoteRepo{}, trades, nil)

	_, err := svc.Submit(context.Background(), newSubmitParams())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSubmit_Validation(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeQuoteRepo{}, newFakeTradeStore(trade.StatusRFQOpen), nil)

	bad := []func(*SubmitParams){
		func(p *SubmitParams) { p.TradeID = "" },
		func(p *SubmitParams) { p.ActorUserID = "" },
		func(p *SubmitParams) { p.UnitPrice = 0 },
		func(p *SubmitParams) { p.TotalPrice = -1 },
		func(p *SubmitParams) { p.Currency = "" },
		func(p *SubmitParams) { p.LeadTimeDays = 0 },
	}
	for i, mutate := range bad {
		params := newSubmitParams()
		mutate(&params)
		if _, err := svc.Submit(context.Background(), params); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if pool.tx != nil {
		t.Errorf("validation must run before any transaction begins")
	}
}

func TestSubmit_RejectsExpiredValidity(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeQuoteRepo{}, newFakeTradeStore(trade.StatusRFQOpen), nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	expired := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	params := newSubmitParams()
	params.ValidUntil = &expired
	if _, err := svc.Submit(context.Background(), params); err == nil {
		t.Fatalf("expected an error for an already expired quote")
	}
	if pool.tx != nil {
		t.Errorf("expiry validation must run before any transaction begins")
	}

	future := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	params = newSubmitParams()
	params.ValidUntil = &future
	if _, err := svc.Submit(context.Background(), params); err != nil {
		t.Fatalf("expected a future validity window to be accepted, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeQuoteRepo{stored: Quote{
		ID:                "quote-1",
		TradeID:           "trade-1",
		SupplierCompanyID: "supplier-co",
		Status:            StatusOpen,
	}}
	trades := newFakeTradeStore(trade.StatusQuoted)
	svc := NewService(pool, repo, trades, nil)

	q, err := svc.Withdraw(context.Background(), "quote-1", "supplier-user")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if q.Status != StatusWithdrawn {
		t.Errorf("expected withdrawn, got %s", q.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(trades.timeline) != 1 || trades.timeline[0] != "QUOTE_WITHDRAWN" {
		t.Errorf("expected QUOTE_WITHDRAWN timeline event, got %v", trades.timeline)
	}
}

func TestWithdraw_AnotherSuppliersQuote(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeQuoteRepo{stored: Quote{
		ID:                "quote-1",
		TradeID:           "trade-1",
		SupplierCompanyID: "rival-co",
		Status:            StatusOpen,
	}}
	svc := NewService(pool, repo, newFakeTradeStore(trade.StatusQuoted), nil)

	_, err := svc.Withdraw(context.Background(), "quote-1", "supplier-user")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestWithdraw_NotOpen(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeQuoteRepo{stored: Quote{
		ID:                "quote-1",
		TradeID:           "trade-1",
		SupplierCompanyID: "supplier-co",
		Status:            StatusAccepted,
	}}
	svc := NewService(pool, repo, newFakeTradeStore(trade.StatusQuoteAccepted), nil)

	_, err := svc.Withdraw(context.Background(), "quote-1", "supplier-user")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
}

type fakeQuoteRepo struct {
	stored Quote
}

func (f *fakeQuoteRepo) Create(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error) {
	f.stored = q
	return q, nil
}

func (f *fakeQuoteRepo) List(ctx context.Context, filters Filters) ([]Quote, int, error) {
	return []Quote{f.stored}, 1, nil
}

func (f *fakeQuoteRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Quote, error) {
	if f.stored.ID == "" {
		return Quote{}, ErrNotFound
	}
	return f.stored, nil
}

func (f *fakeQuoteRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Quote, error) {
	f.stored.Status = status
	return f.stored, nil
}

type tradeEdge struct {
	from trade.Status
	to   trade.Status
}

type fakeTradeStore struct {
	rec      trade.Record
	actor    trade.Actor
	updateOK bool
	updates  []tradeEdge
	timeline []string
	outbox   []string
}

func newFakeTradeStore(status trade.Status) *fakeTradeStore {
	return &fakeTradeStore{
		rec: trade.Record{
			ID:              "trade-1",
			Status:          status,
			BuyerCompanyID:  "buyer-co",
			SellerCompanyID: "seller-co",
		},
		actor:    trade.Actor{UserID: "supplier-user", CompanyID: "supplier-co", Role: trade.RoleSupplier},
		updateOK: true,
	}
}

func (f *fakeTradeStore) Get(ctx context.Context, tx pgx.Tx, id string) (trade.Record, error) {
	return f.rec, nil
}

func (f *fakeTradeStore) GetActor(ctx context.Context, tx pgx.Tx, userID string) (trade.Actor, error) {
	return f.actor, nil
}

func (f *fakeTradeStore) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to trade.Status, patch map[string]any) (bool, error) {
	if !f.updateOK {
		return false, nil
	}
	f.updates = append(f.updates, tradeEdge{from, to})
	f.rec.Status = to
	return true, nil
}

func (f *fakeTradeStore) AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error {
	f.timeline = append(f.timeline, eventType)
	return nil
}

func (f *fakeTradeStore) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.outbox = append(f.outbox, topic)
	return nil
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
