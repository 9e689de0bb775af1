package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradeflow/advisor"
	"tradeflow/auth"
	"tradeflow/company"
	"tradeflow/config"
	"tradeflow/dispute"
	"tradeflow/escrow"
	"tradeflow/payment"
	"tradeflow/quote"
	"tradeflow/shipment"
	"tradeflow/trade"
)

// Server wires the domain services behind the HTTP API.
type Server struct {
	server *http.Server
	logger *zap.Logger

	pool      *pgxpool.Pool
	tradeRepo *trade.Repository
	auths     *auth.Service
	trades    *trade.Service
	quotes    *quote.Service
	disputes  *dispute.Engine
	payments  *payment.Service
	companies *company.Service
	shipments *shipment.Reader
	limiter   *judgeLimiter
}

// NewServer builds the full dependency graph from config.
func NewServer(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*Server, error) {
	tradeRepo := trade.NewRepository()
	escrowCoord := escrow.NewCoordinator(nil, tradeRepo, logger.Named("escrow"))
	disputeRepo := dispute.NewRepository()

	tradeSvc := trade.NewService(pool, tradeRepo, escrowCoord, escrowCoord, disputeRepo, logger.Named("trade"))
	quoteSvc := quote.NewService(pool, quote.NewRepository(pool), tradeRepo, logger.Named("quote"))

	advisorClient := advisor.NewClient(cfg.AdvisorBaseURL, cfg.AdvisorAPIKey, cfg.AdvisorModel, cfg.AdvisorTimeout, logger.Named("advisor"))
	shipmentReader := shipment.NewReader(pool)
	policy := dispute.Policy{
		OverdueDays:        cfg.OverdueDaysThreshold,
		MovementWindowDays: cfg.MovementWindowDays,
	}
	disputeEngine := dispute.NewEngine(pool, disputeRepo, shipmentReader, advisorClient, escrowCoord, tradeRepo, policy, logger.Named("dispute"))

	providerClient := payment.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderSecretKey, cfg.ProviderTimeout, logger.Named("provider"))
	paymentSvc := payment.NewService(pool, nil, providerClient, escrowCoord, cfg.WebhookSecretHash, logger.Named("payment"))

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	companySvc, err := company.NewService(company.NewRepository(pool))
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:    logger,
		pool:      pool,
		tradeRepo: tradeRepo,
		auths:     authSvc,
		trades:    tradeSvc,
		quotes:    quoteSvc,
		disputes:  disputeEngine,
		payments:  paymentSvc,
		companies: companySvc,
		shipments: shipmentReader,
		limiter:   newJudgeLimiter(cfg.JudgeRatePerMinute, cfg.JudgeRateBurst),
	}

	s.server = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	// The provider authenticates with its own signature header, not a JWT.
	r.Post("/api/webhooks/payments", s.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/companies/{id}", s.handleGetCompany)

		r.Post("/api/trades/{id}/quotes", s.handleSubmitQuote)
		r.Get("/api/trades/{id}/quotes", s.handleListQuotes)
		r.Post("/api/quotes/{id}/withdraw", s.handleWithdrawQuote)

		r.Post("/api/trades/{id}/accept-quote", s.handleAcceptQuote)
		r.Post("/api/trades/{id}/confirm-delivery", s.handleConfirmDelivery)
		r.Post("/api/trades/{id}/report-issue", s.handleReportIssue)
		r.Post("/api/trades/{id}/transition", s.handleTransition)
		r.Get("/api/trades/{id}/timeline", s.handleTimeline)
		r.Get("/api/trades/{id}/shipment", s.handleShipment)

		r.With(s.judgeRateLimit).Post("/api/disputes/{id}/judge", s.handleJudgeDispute)
	})

	return r
}

// Start blocks until the server stops or fails.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
