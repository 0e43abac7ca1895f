// Package ledger implements the point transaction engine: credits,
// fee debits with commission fan-out, and refunds of orphaned deductions.
//
// Every balance-affecting sequence runs inside one immediate database
// transaction: the balance check, the ledger append, the balance update,
// and any commission fan-out commit or roll back together. Audit writes
// are the sole exception — best-effort, never blocking the mutation.
package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gramseva/points/internal/audit"
	"github.com/gramseva/points/internal/domain"
	"github.com/gramseva/points/internal/infra/sqlite"
	"github.com/gramseva/points/internal/observability"
)

// Config controls ledger behavior.
type Config struct {
	ApplicationFee  int64         // fixed fee per application (default: 15)
	MaxCreditAmount int64         // ceiling for a single credit (default: 1000)
	RefundWindow    time.Duration // how far back an orphaned deduction is refundable (default: 10m)
	Shares          []domain.Share
}

// DefaultConfig returns the portal's standard fee policy: a 15-point
// application fee split 5/5/5, with only the village-admin share settled
// in real time.
func DefaultConfig() Config {
	return Config{
		ApplicationFee:  15,
		MaxCreditAmount: 1000,
		RefundWindow:    10 * time.Minute,
		Shares: []domain.Share{
			{Label: "maintenance", Amount: 5, Settlement: domain.SettleDeferred, PoolTag: "platform_maintenance"},
			{Label: "super_admin", Amount: 5, Settlement: domain.SettleDeferred, PoolTag: "super_admin_pool"},
			{Label: "village_admin", Amount: 5, Settlement: domain.SettleImmediate},
		},
	}
}

// Engine is the point ledger engine.
type Engine struct {
	db         *sqlite.DB
	cfg        Config
	audit      *audit.Logger
	signingKey []byte // HMAC-SHA512 key for admin credit signatures

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a ledger engine.
func New(db *sqlite.DB, cfg Config, signingKey []byte, auditLog *audit.Logger) *Engine {
	return &Engine{
		db:         db,
		cfg:        cfg,
		audit:      auditLog,
		signingKey: signingKey,
		now:        time.Now,
	}
}

// CreditRequest describes a credit operation.
type CreditRequest struct {
	AccountID   string
	Amount      int64
	Reason      string
	IssuerID    string // set for admin-originated credits
	Recovery    bool   // ADMIN_RECOVERY instead of CREATE
	SubmitterIP string
}

// Credit adds points to an account. Admin-originated credits carry an
// HMAC-SHA512 signature so an auditor can verify the entry was not forged
// by direct database access.
func (e *Engine) Credit(ctx context.Context, req CreditRequest) (*domain.TxResult, error) {
	if req.Amount <= 0 || req.Amount > e.cfg.MaxCreditAmount {
		return nil, domain.ErrInvalidAmount
	}

	tx, err := e.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	kind := domain.EntryCreate
	if req.Recovery {
		kind = domain.EntryAdminRecovery
	}
	res, err := e.creditTx(tx, req.AccountID, req.Amount, kind, req.Reason, req.IssuerID, req.SubmitterIP)
	if err != nil {
		observability.LedgerOperations.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	observability.LedgerOperations.WithLabelValues(string(kind), "ok").Inc()
	e.audit.Record(req.IssuerID, "ledger.credit", req.AccountID, req.SubmitterIP,
		fmt.Sprintf("amount=%d hash=%s", req.Amount, res.TxHash))
	return res, nil
}

// creditTx appends a credit entry inside the caller's transaction. Shared
// by Credit, the commission distributor, and voucher redemption.
func (e *Engine) creditTx(tx *sql.Tx, accountID string, amount int64, kind domain.EntryKind, reason, issuerID, ip string) (*domain.TxResult, error) {
	acct, err := e.db.GetAccountTx(tx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Role != domain.RoleApplicant && acct.Role != domain.RoleVillageAdmin {
		return nil, domain.ErrAccountNotFound
	}

	nowMS := e.now().UnixMilli()
	newBalance := acct.Balance + amount
	entry := domain.LedgerEntry{
		AccountID:       accountID,
		AdminID:         issuerID,
		Kind:            kind,
		Amount:          amount,
		PreviousBalance: acct.Balance,
		NewBalance:      newBalance,
		Reason:          reason,
		SubmitterIP:     ip,
		CreatedAtMS:     nowMS,
	}
	entry.TxHash = e.TxHash(entry)
	if issuerID != "" {
		entry.Signature = e.Sign(entry)
	}

	if err := e.db.InsertLedgerEntryTx(tx, entry); err != nil {
		if err == domain.ErrDuplicateTransaction {
			observability.DuplicateTransactions.Inc()
		}
		return nil, err
	}
	if err := e.db.UpdateBalanceTx(tx, accountID, newBalance); err != nil {
		return nil, err
	}
	return &domain.TxResult{NewBalance: newBalance, TxHash: entry.TxHash}, nil
}

// CreditInTx appends a credit entry inside a transaction the caller owns.
// Voucher redemption uses it to keep the redeem mark and the credit atomic.
func (e *Engine) CreditInTx(tx *sql.Tx, accountID string, amount int64, kind domain.EntryKind, reason, issuerID, ip string) (*domain.TxResult, error) {
	return e.creditTx(tx, accountID, amount, kind, reason, issuerID, ip)
}

// DebitRequest describes an application-fee deduction. ApplicationID is
// the intended application number; it is recorded on the distribution row
// but the ledger entry stays unlinked until LinkApplication confirms the
// application actually committed.
type DebitRequest struct {
	AccountID     string
	ApplicationID string
	Reason        string
	SubmitterIP   string
}

// Debit charges the fixed application fee. The balance check and the
// decrement happen in one immediate transaction, so two concurrent debits
// against a balance that covers only one cannot both pass. The commission
// distributor runs synchronously in the same transaction.
//
// The new DEDUCT entry starts with a null application reference; the
// directory service links the committed application via LinkApplication.
// An entry still unlinked inside the refund window is the orphaned
// deduction Refund looks for.
func (e *Engine) Debit(ctx context.Context, req DebitRequest) (*domain.TxResult, error) {
	fee := e.cfg.ApplicationFee

	tx, err := e.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	acct, err := e.db.GetAccountTx(tx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.Role != domain.RoleApplicant {
		return nil, domain.ErrAccountNotFound
	}
	if acct.Balance < fee {
		observability.InsufficientBalanceTotal.Inc()
		return nil, domain.ErrInsufficientBalance
	}

	nowMS := e.now().UnixMilli()
	newBalance := acct.Balance - fee
	entry := domain.LedgerEntry{
		AccountID:       req.AccountID,
		Kind:            domain.EntryDeduct,
		Amount:          -fee,
		PreviousBalance: acct.Balance,
		NewBalance:      newBalance,
		Reason:          req.Reason,
		SubmitterIP:     req.SubmitterIP,
		CreatedAtMS:     nowMS,
	}
	entry.TxHash = e.TxHash(entry)

	if err := e.db.InsertLedgerEntryTx(tx, entry); err != nil {
		if err == domain.ErrDuplicateTransaction {
			observability.DuplicateTransactions.Inc()
		}
		return nil, err
	}
	if err := e.db.UpdateBalanceTx(tx, req.AccountID, newBalance); err != nil {
		return nil, err
	}

	// Fee fan-out in the same transaction. Lock order is fixed: the
	// debited account above, then the commission account — concurrent
	// debit/credit pairs never take the two in opposite order.
	if err := e.distribute(tx, acct, entry.TxHash, req.ApplicationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	observability.LedgerOperations.WithLabelValues(string(domain.EntryDeduct), "ok").Inc()
	e.audit.Record(req.AccountID, "ledger.debit", req.AccountID, req.SubmitterIP,
		fmt.Sprintf("fee=%d hash=%s", fee, entry.TxHash))
	return &domain.TxResult{NewBalance: newBalance, TxHash: entry.TxHash}, nil
}

// Refund credits back an orphaned deduction: a DEDUCT entry inside the
// refund window whose application reference never got linked. The
// original entry keeps its row and gains the refunded marker.
func (e *Engine) Refund(ctx context.Context, accountID, submitterIP string) (*domain.TxResult, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sinceMS := e.now().Add(-e.cfg.RefundWindow).UnixMilli()
	orig, err := e.db.FindRefundableDeductionTx(tx, accountID, sinceMS)
	if err != nil {
		return nil, err
	}

	acct, err := e.db.GetAccountTx(tx, accountID)
	if err != nil {
		return nil, err
	}

	amount := -orig.Amount // deduct amounts are negative
	nowMS := e.now().UnixMilli()
	newBalance := acct.Balance + amount
	entry := domain.LedgerEntry{
		AccountID:       accountID,
		Kind:            domain.EntryRefund,
		Amount:          amount,
		PreviousBalance: acct.Balance,
		NewBalance:      newBalance,
		Reason:          fmt.Sprintf("Refund of %s", orig.TxHash),
		SubmitterIP:     submitterIP,
		CreatedAtMS:     nowMS,
	}
	entry.TxHash = e.TxHash(entry)

	if err := e.db.InsertLedgerEntryTx(tx, entry); err != nil {
		return nil, err
	}
	if err := e.db.UpdateBalanceTx(tx, accountID, newBalance); err != nil {
		return nil, err
	}
	if err := e.db.MarkEntryRefundedTx(tx, orig.TxHash); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	observability.LedgerOperations.WithLabelValues(string(domain.EntryRefund), "ok").Inc()
	e.audit.Record(accountID, "ledger.refund", orig.TxHash, submitterIP,
		fmt.Sprintf("amount=%d", amount))
	return &domain.TxResult{NewBalance: newBalance, TxHash: entry.TxHash}, nil
}

// LinkApplication attaches a committed application to its fee deduction,
// taking it out of refund eligibility.
func (e *Engine) LinkApplication(ctx context.Context, txHash, applicationID string) error {
	return e.db.LinkApplication(txHash, applicationID)
}

// ─── Integrity ──────────────────────────────────────────────────────────────

// hashPayload fixes the canonical field order for the transaction hash.
type hashPayload struct {
	AccountID       string `json:"account_id"`
	Amount          int64  `json:"amount"`
	PreviousBalance int64  `json:"previous_balance"`
	NewBalance      int64  `json:"new_balance"`
	TimestampMS     int64  `json:"timestamp_ms"`
	Reason          string `json:"reason"`
}

// TxHash computes the entry's content hash: SHA-256 over the canonical
// JSON of its own fields. It deliberately does not cover the preceding
// entry — this is a per-entry dedup and integrity key, not a chain.
func (e *Engine) TxHash(entry domain.LedgerEntry) string {
	payload, _ := json.Marshal(hashPayload{
		AccountID:       entry.AccountID,
		Amount:          entry.Amount,
		PreviousBalance: entry.PreviousBalance,
		NewBalance:      entry.NewBalance,
		TimestampMS:     entry.CreatedAtMS,
		Reason:          entry.Reason,
	})
	return domain.SHA256Hex(payload)
}

// signPayload extends the hash payload with the issuing admin.
type signPayload struct {
	hashPayload
	IssuerID string `json:"issuer_id"`
}

// Sign computes the HMAC-SHA512 admin signature over the entry's
// generation fields plus the issuer.
func (e *Engine) Sign(entry domain.LedgerEntry) string {
	payload, _ := json.Marshal(signPayload{
		hashPayload: hashPayload{
			AccountID:       entry.AccountID,
			Amount:          entry.Amount,
			PreviousBalance: entry.PreviousBalance,
			NewBalance:      entry.NewBalance,
			TimestampMS:     entry.CreatedAtMS,
			Reason:          entry.Reason,
		},
		IssuerID: entry.AdminID,
	})
	mac := hmac.New(sha512.New, e.signingKey)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes an entry's admin signature and compares it
// to the stored value (auditor path).
func (e *Engine) VerifySignature(entry domain.LedgerEntry) bool {
	if entry.Signature == "" {
		return false
	}
	return hmac.Equal([]byte(e.Sign(entry)), []byte(entry.Signature))
}
