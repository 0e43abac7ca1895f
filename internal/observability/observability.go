// Package observability defines the Prometheus metrics for the points
// core: ledger mutations, voucher lifecycle, PIN authentication, and rate
// limiting.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerOperations counts balance-affecting operations by kind and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Total ledger operations by kind and outcome.",
}, []string{"kind", "outcome"})

// InsufficientBalanceTotal counts debits rejected for lack of points.
var InsufficientBalanceTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "ledger",
	Name:      "insufficient_balance_total",
	Help:      "Total debits rejected because the balance was insufficient.",
})

// DuplicateTransactions counts rejected replays of an identical payload.
var DuplicateTransactions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "ledger",
	Name:      "duplicate_transactions_total",
	Help:      "Total ledger writes rejected by the transaction-hash dedup key.",
})

// CommissionPoints counts points routed to each fee-split beneficiary.
var CommissionPoints = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "ledger",
	Name:      "commission_points_total",
	Help:      "Total fee points recorded per beneficiary share.",
}, []string{"share"})

// ─── Voucher Metrics ────────────────────────────────────────────────────────

// VouchersGenerated counts issued vouchers.
var VouchersGenerated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "voucher",
	Name:      "generated_total",
	Help:      "Total vouchers generated.",
})

// VoucherRedemptions counts redemption attempts by outcome.
var VoucherRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "voucher",
	Name:      "redemptions_total",
	Help:      "Total voucher redemption attempts by outcome.",
}, []string{"outcome"})

// SignatureFailures counts redemption-time HMAC mismatches. Any nonzero
// value means stored voucher rows no longer match their generation-time
// signatures.
var SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "voucher",
	Name:      "signature_failures_total",
	Help:      "Total voucher signature verification failures.",
})

// ─── PIN Metrics ────────────────────────────────────────────────────────────

// PinAttempts counts PIN verification attempts by outcome.
var PinAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "pin",
	Name:      "attempts_total",
	Help:      "Total PIN verification attempts by outcome.",
}, []string{"outcome"})

// PinLockouts counts operator lockouts.
var PinLockouts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "pin",
	Name:      "lockouts_total",
	Help:      "Total operator lockouts after repeated PIN failures.",
})

// ─── Rate Limiter Metrics ───────────────────────────────────────────────────

// RateLimited counts rejected attempts per operation.
var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gramseva",
	Subsystem: "ratelimit",
	Name:      "rejected_total",
	Help:      "Total attempts rejected by the rate limiter per operation.",
}, []string{"operation"})
