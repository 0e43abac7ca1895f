// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the architecture — it depends on nothing.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ─── Roles & Principals ─────────────────────────────────────────────────────

// Role identifies where a principal sits in the portal hierarchy.
type Role string

const (
	RoleApplicant    Role = "applicant"
	RoleVillageAdmin Role = "village_admin"
	RoleSystemAdmin  Role = "system_admin"
	RoleSuperAdmin   Role = "super_admin"
)

// roleRank orders roles for minimum-role gates. Unknown roles rank below
// applicant so a garbled token can never pass a gate.
var roleRank = map[Role]int{
	RoleApplicant:    1,
	RoleVillageAdmin: 2,
	RoleSystemAdmin:  3,
	RoleSuperAdmin:   4,
}

// Rank returns the numeric position of the role in the hierarchy (0 if unknown).
func (r Role) Rank() int { return roleRank[r] }

// AtLeast reports whether r meets or exceeds the required role.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank() && r.Rank() > 0
}

// Valid reports whether the role is one of the four known roles.
func (r Role) Valid() bool { return r.Rank() > 0 }

// Principal is the decoded identity behind a bearer credential.
// Balance is a snapshot at token issuance — never authoritative for
// ledger decisions, which re-read the account under a transaction.
type Principal struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	VillageID   string `json:"village_id,omitempty"`
	OperatorID  string `json:"operator_id,omitempty"`
	Designation string `json:"designation,omitempty"`
	IsPrimary   bool   `json:"is_primary,omitempty"`
	Approved    bool   `json:"approved"`
	Balance     int64  `json:"balance"`
}

// ─── Accounts ───────────────────────────────────────────────────────────────

// Account is any balance-holding principal (applicant or village admin).
// Balance is the single authoritative figure; it always equals the sum of
// the account's ledger entry amounts and is never negative.
type Account struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	VillageID string    `json:"village_id,omitempty"`
	Approved  bool      `json:"approved"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryCreate        EntryKind = "CREATE"
	EntryDeduct        EntryKind = "DEDUCT"
	EntryRefund        EntryKind = "REFUND"
	EntryAdminRecovery EntryKind = "ADMIN_RECOVERY"
	EntryCommission    EntryKind = "COMMISSION"
	EntryVoucherRedeem EntryKind = "VOUCHER_REDEEM"
)

// RefundedMarker is appended to a DEDUCT entry's reason once it has been
// refunded. The entry itself is never deleted.
const RefundedMarker = " (REFUNDED)"

// LedgerEntry is one immutable row in the append-only point ledger.
// TxHash is SHA-256 over the entry's own fields — a content-addressed
// dedup key, NOT a chain: it deliberately does not cover the previous
// entry's hash.
type LedgerEntry struct {
	ID              int64     `json:"id"`
	TxHash          string    `json:"tx_hash"`
	AccountID       string    `json:"account_id"`
	AdminID         string    `json:"admin_id,omitempty"`
	Kind            EntryKind `json:"kind"`
	Amount          int64     `json:"amount"` // signed: negative for deductions
	PreviousBalance int64     `json:"previous_balance"`
	NewBalance      int64     `json:"new_balance"`
	Reason          string    `json:"reason"`
	ApplicationID   string    `json:"application_id,omitempty"`
	Signature       string    `json:"signature,omitempty"` // HMAC-SHA512, admin credits only
	SubmitterIP     string    `json:"submitter_ip,omitempty"`
	IsImmutable     bool      `json:"is_immutable"`
	CreatedAtMS     int64     `json:"created_at_ms"`
}

// TxResult is the outcome of a balance-affecting operation.
type TxResult struct {
	NewBalance int64  `json:"new_balance"`
	TxHash     string `json:"tx_hash"`
}

// ─── Commission Distribution ────────────────────────────────────────────────

// DistributionStatus tracks a fee split's payout lifecycle.
type DistributionStatus string

const (
	DistributionActive   DistributionStatus = "active"
	DistributionPaidOut  DistributionStatus = "paid_out"
	DistributionArchived DistributionStatus = "archived"
)

// Distribution records how a single application fee was split among the
// three beneficiaries at deduction time. The village admin share is
// transferred in real time; the other two are deferred to a payout batch.
type Distribution struct {
	ID                string             `json:"id"`
	ApplicationID     string             `json:"application_id"`
	VillageID         string             `json:"village_id"`
	TotalPoints       int64              `json:"total_points"`
	MaintenanceShare  int64              `json:"maintenance_share"`
	SuperAdminShare   int64              `json:"super_admin_share"`
	VillageAdminShare int64              `json:"village_admin_share"`
	Status            DistributionStatus `json:"status"`
	CreatedAtMS       int64              `json:"created_at_ms"`
}

// SettlementKind tags how a fee share is settled.
type SettlementKind string

const (
	// SettleImmediate transfers the share to an account inside the
	// debit's own transaction.
	SettleImmediate SettlementKind = "immediate"
	// SettleDeferred only records the share for a later payout batch.
	SettleDeferred SettlementKind = "deferred"
)

// Share declares one beneficiary of a fee split. The immediate/deferred
// asymmetry is expressed here once rather than as parallel code paths.
type Share struct {
	Label      string         `json:"label"`
	Amount     int64          `json:"amount"`
	Settlement SettlementKind `json:"settlement"`
	PoolTag    string         `json:"pool_tag,omitempty"` // deferred shares only
}

// ─── Vouchers ───────────────────────────────────────────────────────────────

// VoucherStatus is the voucher state machine. A voucher leaves active
// exactly once.
type VoucherStatus string

const (
	VoucherActive    VoucherStatus = "active"
	VoucherRedeemed  VoucherStatus = "redeemed"
	VoucherExpired   VoucherStatus = "expired"
	VoucherCancelled VoucherStatus = "cancelled"
)

// Voucher is a signed, single-use, expiring credit instrument bound to a
// specific recipient and issuer.
type Voucher struct {
	Code          string        `json:"code"`
	RecipientID   string        `json:"recipient_id"`
	IssuerID      string        `json:"issuer_id"`
	PointValue    int64         `json:"point_value"`
	Status        VoucherStatus `json:"status"`
	Signature     string        `json:"signature"` // HMAC-SHA512 over generation fields
	Notes         string        `json:"notes,omitempty"`
	GeneratedMS   int64         `json:"generated_ms"`
	ExpiresMS     int64         `json:"expires_ms"`
	RedeemedMS    int64         `json:"redeemed_ms,omitempty"`
	RedeemedIP    string        `json:"redeemed_ip,omitempty"`
	RedeemedAgent string        `json:"redeemed_agent,omitempty"`
}

// VoucherQuota tracks per-issuer voucher counters. ActiveCount is capped
// and mutated atomically alongside voucher creation/redemption.
type VoucherQuota struct {
	AdminID         string `json:"admin_id"`
	ActiveCount     int    `json:"active_count"`
	TotalGenerated  int64  `json:"total_generated"`
	LastGeneratedMS int64  `json:"last_generated_ms"`
}

// ─── Sub-Village Operators ──────────────────────────────────────────────────

// Operator is a named human sharing one village-admin login, distinguished
// by a 4-digit PIN. Exactly one operator per village is primary.
type Operator struct {
	ID                  string    `json:"id"`
	VillageID           string    `json:"village_id"`
	FullName            string    `json:"full_name"`
	Designation         string    `json:"designation"`
	Phone               string    `json:"phone"`
	PinHash             string    `json:"-"`
	IsPrimary           bool      `json:"is_primary"`
	IsActive            bool      `json:"is_active"`
	IsLocked            bool      `json:"is_locked"`
	FailedAttempts      int       `json:"failed_attempts"`
	LockedAtMS          int64     `json:"locked_at_ms,omitempty"`
	ConsecutiveLockouts int       `json:"consecutive_lockouts"`
	PinResetRequired    bool      `json:"pin_reset_required"`
	CreatedAt           time.Time `json:"created_at"`
}

// OperatorSession is the result of a successful PIN verification.
type OperatorSession struct {
	OperatorID  string `json:"operator_id"`
	Designation string `json:"designation"`
	IsPrimary   bool   `json:"is_primary"`
	Token       string `json:"token"`
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// SHA256Hex computes SHA-256 and returns the hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
