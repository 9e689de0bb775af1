package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"tradeflow/trade"
)

func TestOnPaymentConfirmed_HoldsAndAdvancesTrade(t *testing.T) {
	store := newFakeEscrowStore(StatusPending)
	trades := &fakeTrades{updateOK: true}
	coord := NewCoordinator(store, trades, nil)

	err := coord.OnPaymentConfirmed(context.Background(), nil, "FLW-123", 5000, "USD", "trade-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if store.heldRef != "FLW-123" {
		t.Errorf("expected provider ref recorded on hold, got %q", store.heldRef)
	}
	if len(store.events) != 1 || store.events[0] != EventFunded {
		t.Errorf("expected one ESCROW_FUNDED event, got %v", store.events)
	}
	if len(trades.updates) != 1 || trades.updates[0] != (tradeEdge{trade.StatusEscrowPending, trade.StatusEscrowFunded}) {
		t.Errorf("expected escrow_pending -> escrow_funded, got %v", trades.updates)
	}
	if len(trades.timeline) != 1 || trades.timeline[0] != "ESCROW_FUNDED" {
		t.Errorf("expected ESCROW_FUNDED timeline event, got %v", trades.timeline)
	}
	if len(trades.outbox) != 1 || trades.outbox[0] != "escrow.funded" {
		t.Errorf("expected escrow.funded outbox message, got %v", trades.outbox)
	}
}

func TestOnPaymentConfirmed_ReplayIsNoop(t *testing.T) {
	store := newFakeEscrowStore(StatusHeld)
	ref := "FLW-123"
	store.payment.ProviderRef = &ref
	store.holdOK = false
	trades := &fakeTrades{updateOK: true}
	coord := NewCoordinator(store, trades, nil)

	if err := coord.OnPaymentConfirmed(context.Background(), nil, "FLW-123", 5000, "USD", "trade-1"); err != nil {
		t.Fatalf("expected replay to be a no-op, got %v", err)
	}
	if len(store.events) != 0 {
		t.Errorf("expected no duplicate event row, got %v", store.events)
	}
	if len(trades.updates) != 0 {
		t.Errorf("expected no trade transition on replay, got %v", trades.updates)
	}
}

func TestOnPaymentConfirmed_DifferentRefConflicts(t *testing.T) {
	store := newFakeEscrowStore(StatusHeld)
	ref := "FLW-OTHER"
	store.payment.ProviderRef = &ref
	store.holdOK = false
	coord := NewCoordinator(store, &fakeTrades{updateOK: true}, nil)

	err := coord.OnPaymentConfirmed(context.Background(), nil, "FLW-123", 5000, "USD", "trade-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for a holding conflict, got %v", err)
	}
}

func TestOnPaymentConfirmed_AmountMismatch(t *testing.T) {
	store := newFakeEscrowStore(StatusPending)
	coord := NewCoordinator(store, &fakeTrades{updateOK: true}, nil)

	err := coord.OnPaymentConfirmed(context.Background(), nil, "FLW-123", 4999.99, "USD", "trade-1")
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch for underpayment, got %v", err)
	}

	store = newFakeEscrowStore(StatusPending)
	coord = NewCoordinator(store, &fakeTrades{updateOK: true}, nil)
	err = coord.OnPaymentConfirmed(context.Background(), nil, "FLW-123", 5000, "EUR", "trade-1")
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch for a currency mismatch, got %v", err)
	}
}

func TestOnDeliveryAccepted_Releases(t *testing.T) {
	store := newFakeEscrowStore(StatusHeld)
	trades := &fakeTrades{updateOK: true}
	coord := NewCoordinator(store, trades, nil)

	if err := coord.OnDeliveryAccepted(context.Background(), nil, "trade-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !store.released {
		t.Errorf("expected funds to be released")
	}
	if len(store.events) != 1 || store.events[0] != EventReleased {
		t.Errorf("expected one ESCROW_RELEASED event, got %v", store.events)
	}
	if len(trades.outbox) != 1 || trades.outbox[0] != "escrow.released" {
		t.Errorf("expected escrow.released outbox message, got %v", trades.outbox)
	}
}

func TestOnDeliveryAccepted_MissingRowIsIntegrityFault(t *testing.T) {
	store := newFakeEscrowStore(StatusHeld)
	store.releaseOK = false
	store.getErr = pgx.ErrNoRows
	coord := NewCoordinator(store, &fakeTrades{}, nil)

	err := coord.OnDeliveryAccepted(context.Background(), nil, "trade-1")
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestOnDeliveryAccepted_WrongState(t *testing.T) {
	store := newFakeEscrowStore(StatusRefunded)
	store.releaseOK = false
	coord := NewCoordinator(store, &fakeTrades{}, nil)

	err := coord.OnDeliveryAccepted(context.Background(), nil, "trade-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestOnDisputeVerdict_NonRefundLeavesFundsHeld(t *testing.T) {
	store := newFakeEscrowStore(StatusHeld)
	coord := NewCoordinator(store, &fakeTrades{}, nil)

	if err := coord.OnDisputeVerdict(context.Background(), nil, "trade-1", false); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if store.refunded || len(store.events) != 0 {
		t.Errorf("expected no movement for a non-refund verdict")
	}
}

func TestOnDisputeVerdict_RefundsBuyer(t *testing.T) {
	store := newFakeEscrowStore(StatusHeld)
	trades := &fakeTrades{updateOK: true}
	coord := NewCoordinator(store, trades, nil)

	if err := coord.OnDisputeVerdict(context.Background(), nil, "trade-1", true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !store.refunded {
		t.Errorf("expected funds to be refunded")
	}
	if len(store.events) != 1 || store.events[0] != EventRefunded {
		t.Errorf("expected one ESCROW_REFUNDED event, got %v", store.events)
	}
	if len(trades.outbox) != 1 || trades.outbox[0] != "escrow.refunded" {
		t.Errorf("expected escrow.refunded outbox message, got %v", trades.outbox)
	}
}

func TestOpenPending_RecordsAuditEvent(t *testing.T) {
	store := newFakeEscrowStore(StatusPending)
	coord := NewCoordinator(store, &fakeTrades{}, nil)

	if err := coord.OpenPending(context.Background(), nil, "trade-1", "buyer-co", "seller-co", 5000, "USD"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !store.created {
		t.Errorf("expected pending row to be created")
	}
	if len(store.events) != 1 || store.events[0] != EventOpened {
		t.Errorf("expected one ESCROW_OPENED event, got %v", store.events)
	}
}

func TestEscrowCanTransition(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusPending, StatusHeld},
		{StatusHeld, StatusReleased},
		{StatusHeld, StatusRefunded},
	}
	for _, e := range legal {
		if !CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be legal", e.from, e.to)
		}
	}
	illegal := []struct{ from, to Status }{
		{StatusPending, StatusReleased},
		{StatusReleased, StatusHeld},
		{StatusRefunded, StatusHeld},
		{StatusReleased, StatusRefunded},
	}
	for _, e := range illegal {
		if CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be illegal", e.from, e.to)
		}
	}
}

type fakeEscrowStore struct {
	payment Payment
	getErr  error

	created   bool
	holdOK    bool
	heldRef   string
	releaseOK bool
	released  bool
	refundOK  bool
	refunded  bool

	events []string
}

func newFakeEscrowStore(status Status) *fakeEscrowStore {
	return &fakeEscrowStore{
		payment: Payment{
			ID:              "escrow-1",
			TradeID:         "trade-1",
			BuyerCompanyID:  "buyer-co",
			SellerCompanyID: "seller-co",
			Amount:          5000,
			Currency:        "USD",
			Status:          status,
		},
		holdOK:    true,
		releaseOK: true,
		refundOK:  true,
	}
}

func (f *fakeEscrowStore) CreatePending(ctx context.Context, tx pgx.Tx, tradeID, buyerCompanyID, sellerCompanyID string, amount float64, currency string) (Payment, error) {
	f.created = true
	return f.payment, nil
}

func (f *fakeEscrowStore) GetByTrade(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, error) {
	if f.getErr != nil {
		return Payment{}, f.getErr
	}
	return f.payment, nil
}

func (f *fakeEscrowStore) Hold(ctx context.Context, tx pgx.Tx, tradeID, providerRef string) (Payment, bool, error) {
	if !f.holdOK {
		return Payment{}, false, nil
	}
	f.heldRef = providerRef
	f.payment.Status = StatusHeld
	return f.payment, true, nil
}

func (f *fakeEscrowStore) Release(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, bool, error) {
	if !f.releaseOK {
		return Payment{}, false, nil
	}
	f.released = true
	f.payment.Status = StatusReleased
	return f.payment, true, nil
}

func (f *fakeEscrowStore) Refund(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, bool, error) {
	if !f.refundOK {
		return Payment{}, false, nil
	}
	f.refunded = true
	f.payment.Status = StatusRefunded
	return f.payment, true, nil
}

func (f *fakeEscrowStore) AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType string, payload map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

type tradeEdge struct {
	from trade.Status
	to   trade.Status
}

type fakeTrades struct {
	updateOK bool
	updates  []tradeEdge
	timeline []string
	outbox   []string
}

func (f *fakeTrades) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to trade.Status, patch map[string]any) (bool, error) {
	if !f.updateOK {
		return false, nil
	}
	f.updates = append(f.updates, tradeEdge{from, to})
	return true, nil
}

func (f *fakeTrades) AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error {
	f.timeline = append(f.timeline, eventType)
	return nil
}

func (f *fakeTrades) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.outbox = append(f.outbox, topic)
	return nil
}
