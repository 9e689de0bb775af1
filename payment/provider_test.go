package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestVerifyTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/42/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"message": "Transaction fetched",
			"data": Transaction{
				ID:          42,
				TxRef:       "trade-abc",
				ProviderRef: "FLW-REF",
				Amount:      5000,
				Currency:    "USD",
				Status:      "successful",
			},
		})
	}))
	defer srv.Close()

	c := NewProviderClient(srv.URL, "sk-test", 2*time.Second, nil)
	txn, err := c.VerifyTransaction(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !txn.Successful() || txn.TxRef != "trade-abc" || txn.Amount != 5000 {
		t.Errorf("unexpected transaction %+v", txn)
	}
}

func TestVerifyTransaction_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "error",
			"message": "No transaction was found for this id",
		})
	}))
	defer srv.Close()

	c := NewProviderClient(srv.URL, "sk-test", 2*time.Second, nil)
	_, err := c.VerifyTransaction(context.Background(), 42)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestVerifyTransaction_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewProviderClient(srv.URL, "sk-test", 2*time.Second, nil)
	_, err := c.VerifyTransaction(context.Background(), 42)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
