// Package http exposes the trip ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripledger/internal/cache"
	"tripledger/internal/calculator"
	"tripledger/internal/core"
	"tripledger/internal/middleware/trace"
	"tripledger/internal/services"
)

// Service is the application surface the handlers call into.
// Implemented by *services.Ledger; tests supply a stub.
type Service interface {
	ReplaceRoster(ctx context.Context, tripID string, participants []core.Participant) error
	Roster(ctx context.Context, tripID string) ([]core.Participant, error)

	RecordExpense(ctx context.Context, tripID, actorID string, in services.ExpenseInput) (*core.Expense, error)
	EditExpense(ctx context.Context, tripID, actorID, expenseID string, in services.ExpenseInput) (*core.Expense, error)
	DeleteExpense(ctx context.Context, tripID, actorID, expenseID string) error
	GetExpense(ctx context.Context, tripID, expenseID string) (*core.Expense, error)
	ListExpenses(ctx context.Context, tripID string, filter core.ExpenseFilter) ([]core.Expense, error)

	Deposit(ctx context.Context, tripID, actorID string, perPerson core.Money, count int, description string) (*core.FundTransaction, error)
	SpendFromFund(ctx context.Context, tripID, actorID string, amount core.Money, category, description string) (*core.FundTransaction, error)
	Fund(ctx context.Context, tripID string) (*services.FundOverview, error)

	Balances(ctx context.Context, tripID string) ([]core.BalanceSummary, error)
	Plan(ctx context.Context, tripID string) (*services.SettlementPlan, error)

	RequestSettlement(ctx context.Context, tripID, actorID, fromUserID, toUserID string, amount core.Money, memo string) (*core.Settlement, error)
	ApproveSettlement(ctx context.Context, tripID, actorID, settlementID string) (*core.Settlement, error)
	RejectSettlement(ctx context.Context, tripID, actorID, settlementID, reason string) (*core.Settlement, error)
	CancelSettlement(ctx context.Context, tripID, actorID, settlementID string) (*core.Settlement, error)
	ListSettlements(ctx context.Context, tripID string, status core.SettlementStatus) ([]core.Settlement, error)

	Statistics(ctx context.Context, tripID, participantID string) (*calculator.Statistics, error)
	Audit(ctx context.Context, tripID string, limit int) ([]core.AuditRecord, error)
	RequestReport(ctx context.Context, tripID, actorID string) error
}

// Options tunes the server's ambient behavior.
type Options struct {
	RateLimitPerMinute int
	CacheTTL           time.Duration
	Tracer             *trace.Middleware
}

type Server struct {
	http.Server
	service      Service
	rateLimiter  *rateLimiter
	balanceCache *cache.BalanceCache
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, service Service, opts Options) *Server {
	mux := http.NewServeMux()

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	s := &Server{
		service:      service,
		rateLimiter:  newRateLimiter(opts.RateLimitPerMinute),
		balanceCache: cache.NewBalanceCache(256, ttl),
		cacheManager: cache.NewManager(),
	}
	s.cacheManager.Register(s.balanceCache)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("PUT /api/trips/{tripID}/participants", s.withMutation(s.handleReplaceRoster))
	mux.HandleFunc("GET /api/trips/{tripID}/participants", s.withRead(s.handleListParticipants))

	mux.HandleFunc("POST /api/trips/{tripID}/expenses", s.withMutation(s.handleRecordExpense))
	mux.HandleFunc("GET /api/trips/{tripID}/expenses", s.withRead(s.handleListExpenses))
	mux.HandleFunc("GET /api/trips/{tripID}/expenses/{expenseID}", s.withRead(s.handleGetExpense))
	mux.HandleFunc("PUT /api/trips/{tripID}/expenses/{expenseID}", s.withMutation(s.handleEditExpense))
	mux.HandleFunc("DELETE /api/trips/{tripID}/expenses/{expenseID}", s.withMutation(s.handleDeleteExpense))

	mux.HandleFunc("POST /api/trips/{tripID}/fund/deposits", s.withMutation(s.handleDeposit))
	mux.HandleFunc("POST /api/trips/{tripID}/fund/expenses", s.withMutation(s.handleSpendFromFund))
	mux.HandleFunc("GET /api/trips/{tripID}/fund", s.withRead(s.handleFund))

	mux.HandleFunc("GET /api/trips/{tripID}/balances", s.withRead(s.handleBalances))
	mux.HandleFunc("GET /api/trips/{tripID}/settlements/plan", s.withRead(s.handlePlan))

	mux.HandleFunc("POST /api/trips/{tripID}/settlements", s.withMutation(s.handleRequestSettlement))
	mux.HandleFunc("GET /api/trips/{tripID}/settlements", s.withRead(s.handleListSettlements))
	mux.HandleFunc("POST /api/trips/{tripID}/settlements/{settlementID}/approve", s.withMutation(s.handleApproveSettlement))
	mux.HandleFunc("POST /api/trips/{tripID}/settlements/{settlementID}/reject", s.withMutation(s.handleRejectSettlement))
	mux.HandleFunc("POST /api/trips/{tripID}/settlements/{settlementID}/cancel", s.withMutation(s.handleCancelSettlement))

	mux.HandleFunc("GET /api/trips/{tripID}/statistics", s.withRead(s.handleStatistics))
	mux.HandleFunc("GET /api/trips/{tripID}/audit", s.withRead(s.handleAudit))
	mux.HandleFunc("POST /api/trips/{tripID}/report", s.withMutation(s.handleRequestReport))

	var handler http.Handler = mux
	if opts.Tracer != nil {
		handler = opts.Tracer.Middleware(handler)
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.cacheManager.StartCleanup(10 * time.Minute)
	return s
}

// withRead applies the ambient middleware for read endpoints.
func (s *Server) withRead(next http.HandlerFunc) http.HandlerFunc {
	return s.withSecurityHeaders(next)
}

// withMutation additionally rate-limits write endpoints per client IP.
func (s *Server) withMutation(next http.HandlerFunc) http.HandlerFunc {
	return s.withSecurityHeaders(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		if !s.rateLimiter.allow(clientIP) {
			w.Header().Set("Retry-After", "60")
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next(w, r)
	})
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.cacheManager != nil {
			s.cacheManager.Stop()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
