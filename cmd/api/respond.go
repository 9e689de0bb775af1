package main

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"tradeflow/auth"
	"tradeflow/company"
	"tradeflow/dispute"
	"tradeflow/escrow"
	"tradeflow/payment"
	"tradeflow/quote"
	"tradeflow/trade"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps domain sentinels onto HTTP statuses. Anything
// unmatched is a 500 with a generic body; the detail stays in the logs.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trade.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, quote.ErrNotFound),
		errors.Is(err, company.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trade.ErrForbidden),
		errors.Is(err, dispute.ErrForbidden),
		errors.Is(err, quote.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, trade.ErrInvalidState),
		errors.Is(err, trade.ErrQuoteUnavailable),
		errors.Is(err, quote.ErrInvalidState),
		errors.Is(err, escrow.ErrInvalidState):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trade.ErrConsentRequired),
		errors.Is(err, escrow.ErrAmountMismatch):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrBadSignature):
		respondError(w, http.StatusUnauthorized, "bad signature")
	case errors.Is(err, payment.ErrVerificationFailed):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
