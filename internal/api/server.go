// Package api provides the HTTP server for the points ledger and voucher
// service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gramseva/points/internal/app/ledger"
	"github.com/gramseva/points/internal/app/pinauth"
	"github.com/gramseva/points/internal/app/voucher"
	"github.com/gramseva/points/internal/auth"
	"github.com/gramseva/points/internal/domain"
	"github.com/gramseva/points/internal/infra/sqlite"
)

// Server is the points HTTP API server.
type Server struct {
	db             *sqlite.DB
	ledger         *ledger.Engine
	vouchers       *voucher.Service
	pins           *pinauth.Authenticator
	resolver       *auth.Resolver
	metricsEnabled bool
	requestTimeout time.Duration
}

// NewServer creates a new API server.
func NewServer(db *sqlite.DB, eng *ledger.Engine, vs *voucher.Service, pa *pinauth.Authenticator, resolver *auth.Resolver) *Server {
	return &Server{
		db:             db,
		ledger:         eng,
		vouchers:       vs,
		pins:           pa,
		resolver:       resolver,
		requestTimeout: 30 * time.Second,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRequestTimeout overrides the per-request timeout.
func (s *Server) SetRequestTimeout(d time.Duration) { s.requestTimeout = d }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(corsMiddleware)
	r.Use(s.resolver.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ledger", func(r chi.Router) {
			r.Post("/credit", s.handleCredit)
			r.Post("/debit", s.handleDebit)
			r.Post("/refund", s.handleRefund)
			r.Post("/link", s.handleLinkApplication)
			r.Get("/accounts/{id}/balance", s.handleBalance)
			r.Get("/accounts/{id}/entries", s.handleEntries)
			r.Get("/entries/{hash}/verify", s.handleVerifyEntry)
			r.Get("/distributions", s.handleListDistributions)
			r.Post("/distributions/payout", s.handlePayout)
		})

		r.Route("/vouchers", func(r chi.Router) {
			r.Post("/", s.handleGenerateVoucher)
			r.Post("/redeem", s.handleRedeemVoucher)
			r.Post("/{code}/cancel", s.handleCancelVoucher)
			r.Get("/quota", s.handleVoucherQuota)
		})

		r.Route("/pin", func(r chi.Router) {
			r.Post("/verify", s.handleVerifyPin)
			r.Post("/change", s.handleChangePin)
		})

		r.Route("/operators", func(r chi.Router) {
			r.Get("/", s.handleListOperators)
			r.Post("/", s.handleAddOperator)
			r.Delete("/{id}", s.handleDeactivateOperator)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// errStatus maps a domain error to its HTTP status and stable kind string.
func errStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return http.StatusConflict, "duplicate_transaction"
	case errors.Is(err, domain.ErrNoEligibleDeduction):
		return http.StatusNotFound, "no_eligible_deduction"
	case errors.Is(err, domain.ErrVoucherNotFound):
		return http.StatusNotFound, "voucher_not_found"
	case errors.Is(err, domain.ErrVoucherNotActive):
		return http.StatusConflict, "voucher_not_active"
	case errors.Is(err, domain.ErrVoucherExpired):
		return http.StatusGone, "voucher_expired"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnprocessableEntity, "signature_invalid"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, domain.ErrInvalidRecipient):
		return http.StatusBadRequest, "invalid_recipient"
	case errors.Is(err, domain.ErrInvalidPin):
		return http.StatusUnauthorized, "invalid_pin"
	case errors.Is(err, domain.ErrNoOperators):
		return http.StatusNotFound, "no_operators"
	case errors.Is(err, domain.ErrCurrentPinIncorrect):
		return http.StatusUnauthorized, "current_pin_incorrect"
	case errors.Is(err, domain.ErrInvalidPinFormat):
		return http.StatusBadRequest, "invalid_pin_format"
	case errors.Is(err, domain.ErrOperatorNotFound):
		return http.StatusNotFound, "operator_not_found"
	case errors.Is(err, domain.ErrPrimaryOperator):
		return http.StatusConflict, "primary_operator"
	case errors.Is(err, domain.ErrPrimaryExists):
		return http.StatusConflict, "primary_exists"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error and writes the standard error envelope.
func writeError(w http.ResponseWriter, err error) {
	status, kind := errStatus(err)
	if status == http.StatusInternalServerError {
		// Internal details stay out of the response body.
		writeJSON(w, status, errBody(kind, "internal error"))
		return
	}
	if errors.Is(err, domain.ErrRateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(err, time.Now())))
	}
	writeJSON(w, status, errBody(kind, err.Error()))
}

// retryAfterSeconds derives Retry-After from the limiter's window reset,
// rounded up. Rate-limit errors without a reset time fall back to 60.
func retryAfterSeconds(err error, now time.Time) int {
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		return 60
	}
	remainingMS := rl.ResetAtMS - now.UnixMilli()
	if remainingMS <= 0 {
		return 1
	}
	return int((remainingMS + 999) / 1000)
}

func errBody(kind, msg string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    kind,
			"message": msg,
		},
	}
}

// corsMiddleware adds CORS headers for the portal front end.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
