package main

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"tradeflow/auth"
	"tradeflow/dispute"
	"tradeflow/payment"
	"tradeflow/quote"
	"tradeflow/shipment"
	"tradeflow/trade"
)

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := s.auths.Register(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"full_name":  user.FullName,
		"company_id": user.CompanyID,
		"role":       user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	result, err := s.auths.Login(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":         result.User.ID,
			"email":      result.User.Email,
			"company_id": result.User.CompanyID,
			"role":       result.User.Role,
		},
	})
}

// --- payments ---

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(payment.SignatureHeader)
	if err := s.payments.HandleWebhook(r.Context(), signature, body); err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// --- companies ---

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	profile, err := s.companies.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":       profile.ID,
		"name":     profile.Name,
		"country":  profile.Country,
		"verified": profile.Verified,
	})
}

// --- quotes ---

type submitQuoteRequest struct {
	UnitPrice    float64    `json:"unit_price"`
	TotalPrice   float64    `json:"total_price"`
	Currency     string     `json:"currency"`
	LeadTimeDays int        `json:"lead_time_days"`
	Incoterms    string     `json:"incoterms"`
	PaymentTerms string     `json:"payment_terms"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var req submitQuoteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	q, err := s.quotes.Submit(r.Context(), quote.SubmitParams{
		TradeID:      chi.URLParam(r, "id"),
		ActorUserID:  claims.UserID,
		UnitPrice:    req.UnitPrice,
		TotalPrice:   req.TotalPrice,
		Currency:     req.Currency,
		LeadTimeDays: req.LeadTimeDays,
		Incoterms:    req.Incoterms,
		PaymentTerms: req.PaymentTerms,
		ValidUntil:   req.ValidUntil,
		Notes:        req.Notes,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, quoteView(q))
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	result, err := s.quotes.List(r.Context(), quote.Filters{
		TradeID: chi.URLParam(r, "id"),
		Status:  r.URL.Query().Get("status"),
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(result.Items))
	for _, q := range result.Items {
		items = append(items, quoteView(q))
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items, "total": result.Total})
}

func (s *Server) handleWithdrawQuote(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	q, err := s.quotes.Withdraw(r.Context(), chi.URLParam(r, "id"), claims.UserID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quoteView(q))
}

func quoteView(q quote.Quote) map[string]any {
	return map[string]any{
		"id":             q.ID,
		"trade_id":       q.TradeID,
		"supplier":       q.SupplierCompanyID,
		"status":         q.Status,
		"unit_price":     q.UnitPrice,
		"total_price":    q.TotalPrice,
		"currency":       q.Currency,
		"lead_time_days": q.LeadTimeDays,
		"incoterms":      q.Incoterms,
		"payment_terms":  q.PaymentTerms,
		"created_at":     q.CreatedAt,
	}
}

// --- trades ---

type acceptQuoteRequest struct {
	QuoteID string `json:"quote_id"`
}

func (s *Server) handleAcceptQuote(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var req acceptQuoteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	rec, err := s.trades.AcceptQuote(r.Context(), trade.AcceptQuoteParams{
		TradeID:     chi.URLParam(r, "id"),
		QuoteID:     req.QuoteID,
		ActorUserID: claims.UserID,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tradeView(rec))
}

type confirmDeliveryRequest struct {
	GoodsReceived     bool `json:"goods_received"`
	ReleaseUnderstood bool `json:"release_understood"`
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var req confirmDeliveryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	rec, err := s.trades.ConfirmDelivery(r.Context(), trade.ConfirmDeliveryParams{
		TradeID:           chi.URLParam(r, "id"),
		ActorUserID:       claims.UserID,
		GoodsReceived:     req.GoodsReceived,
		ReleaseUnderstood: req.ReleaseUnderstood,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tradeView(rec))
}

type reportIssueRequest struct {
	Reason   string `json:"reason"`
	Evidence string `json:"evidence"`
}

func (s *Server) handleReportIssue(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var req reportIssueRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	disputeID, err := s.trades.ReportIssue(r.Context(), trade.ReportIssueParams{
		TradeID:     chi.URLParam(r, "id"),
		ActorUserID: claims.UserID,
		Reason:      req.Reason,
		Evidence:    req.Evidence,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"dispute_id": disputeID})
}

type transitionRequest struct {
	Target   string         `json:"target"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	rec, err := s.trades.Transition(r.Context(), trade.TransitionParams{
		TradeID:       chi.URLParam(r, "id"),
		Target:        trade.Status(req.Target),
		ActorUserID:   claims.UserID,
		MetadataPatch: req.Metadata,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tradeView(rec))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	defer tx.Rollback(ctx)

	events, err := s.tradeRepo.ListTimeline(ctx, tx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	_ = tx.Commit(ctx)

	items := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		item := map[string]any{
			"id":         ev.ID,
			"type":       ev.Type,
			"created_at": ev.CreatedAt,
		}
		if ev.ActorID != nil {
			item["actor_id"] = *ev.ActorID
		}
		if len(ev.Payload) > 0 {
			var payload map[string]any
			if err := json.Unmarshal(ev.Payload, &payload); err == nil {
				item["payload"] = payload
			}
		}
		items = append(items, item)
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleShipment(w http.ResponseWriter, r *http.Request) {
	ship, err := s.shipments.SelectRelevant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == shipment.ErrNoShipment {
			respondError(w, http.StatusNotFound, "no shipment for trade")
			return
		}
		s.respondDomainError(w, err)
		return
	}

	events, err := s.shipments.ListEvents(r.Context(), ship.ID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	eventItems := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		eventItems = append(eventItems, map[string]any{
			"type":        ev.Type,
			"location":    ev.Location,
			"occurred_at": ev.OccurredAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":                 ship.ID,
		"carrier":            ship.Carrier,
		"status":             ship.Status,
		"estimated_delivery": ship.EstimatedDelivery,
		"events":             eventItems,
	})
}

func tradeView(rec trade.Record) map[string]any {
	view := map[string]any{
		"id":         rec.ID,
		"status":     rec.Status,
		"buyer":      rec.BuyerCompanyID,
		"seller":     rec.SellerCompanyID,
		"amount":     rec.Amount,
		"currency":   rec.Currency,
		"updated_at": rec.UpdatedAt,
	}
	if rec.AcceptedQuoteID != nil {
		view["accepted_quote_id"] = *rec.AcceptedQuoteID
	}
	return view
}

// --- disputes ---

func (s *Server) handleJudgeDispute(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	result, err := s.disputes.Judge(r.Context(), chi.URLParam(r, "id"), claims.UserID)
	if err != nil {
		// A judge request naming a dispute that does not exist is a bad
		// request, not a missing resource on this route.
		if errors.Is(err, dispute.ErrNotFound) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
