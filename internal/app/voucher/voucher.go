// Package voucher implements signed, single-use, expiring credit
// instruments. A voucher is bound to one recipient and one issuer at
// generation time; redemption re-verifies the HMAC signature and credits
// the recipient's ledger inside the same transaction that flips the
// voucher out of active.
package voucher

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gramseva/points/internal/app/ledger"
	"github.com/gramseva/points/internal/audit"
	"github.com/gramseva/points/internal/domain"
	"github.com/gramseva/points/internal/infra/sqlite"
	"github.com/gramseva/points/internal/observability"
	"github.com/gramseva/points/internal/ratelimit"
)

// Config controls voucher policy.
type Config struct {
	MinValue      int64         // smallest voucher denomination (default: 500)
	MaxActive     int           // per-issuer outstanding cap (default: 5)
	Lifetime      time.Duration // generation-to-expiry window (default: 30d)
	GenerateMax   int           // generation attempts per issuer per window
	RedeemMax     int           // redemption attempts per recipient per window
	LimiterWindow time.Duration
}

// DefaultConfig returns the portal's standard voucher policy.
func DefaultConfig() Config {
	return Config{
		MinValue:      500,
		MaxActive:     5,
		Lifetime:      30 * 24 * time.Hour,
		GenerateMax:   10,
		RedeemMax:     10,
		LimiterWindow: time.Hour,
	}
}

// Service generates, redeems, and cancels vouchers.
type Service struct {
	db      *sqlite.DB
	cfg     Config
	ledger  *ledger.Engine
	limiter ratelimit.Limiter
	audit   *audit.Logger

	signingKey []byte // HMAC-SHA512 key for voucher signatures
	codeKey    []byte // HMAC-SHA256 key for the code's binding segment

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a voucher service.
func New(db *sqlite.DB, cfg Config, eng *ledger.Engine, limiter ratelimit.Limiter, signingKey, codeKey []byte, auditLog *audit.Logger) *Service {
	return &Service{
		db:         db,
		cfg:        cfg,
		ledger:     eng,
		limiter:    limiter,
		audit:      auditLog,
		signingKey: signingKey,
		codeKey:    codeKey,
		now:        time.Now,
	}
}

// Generate issues a new voucher from issuer to recipientID. Only system
// and super admins may issue; the recipient must be an approved applicant.
// The voucher insert and the issuer's quota increment commit together.
func (s *Service) Generate(ctx context.Context, issuer domain.Principal, recipientID string, value int64, notes string) (*domain.Voucher, error) {
	if issuer.Role != domain.RoleSystemAdmin && issuer.Role != domain.RoleSuperAdmin {
		return nil, domain.ErrForbidden
	}
	if value < s.cfg.MinValue {
		return nil, domain.ErrInvalidAmount
	}

	dec := s.limiter.Allow("voucher_gen_"+issuer.ID, s.cfg.GenerateMax, s.cfg.LimiterWindow)
	if !dec.Allowed {
		observability.RateLimited.WithLabelValues("voucher_generate").Inc()
		return nil, &domain.RateLimitError{ResetAtMS: dec.ResetAtMS}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	recipient, err := s.db.GetAccountTx(tx, recipientID)
	if err != nil {
		if err == domain.ErrAccountNotFound {
			return nil, domain.ErrInvalidRecipient
		}
		return nil, err
	}
	if recipient.Role != domain.RoleApplicant || !recipient.Approved {
		return nil, domain.ErrInvalidRecipient
	}

	quota, err := s.db.GetQuotaTx(tx, issuer.ID)
	if err != nil {
		return nil, err
	}
	if quota.ActiveCount >= s.cfg.MaxActive {
		return nil, domain.ErrQuotaExceeded
	}

	now := s.now()
	nowMS := now.UnixMilli()
	code, err := s.newCode(recipientID, issuer.ID, now.Unix())
	if err != nil {
		return nil, err
	}

	v := domain.Voucher{
		Code:        code,
		RecipientID: recipientID,
		IssuerID:    issuer.ID,
		PointValue:  value,
		Status:      domain.VoucherActive,
		Notes:       notes,
		GeneratedMS: nowMS,
		ExpiresMS:   now.Add(s.cfg.Lifetime).UnixMilli(),
	}
	v.Signature = s.Sign(v)

	if err := s.db.InsertVoucherTx(tx, v); err != nil {
		return nil, err
	}
	if err := s.db.IncrementQuotaTx(tx, issuer.ID, nowMS); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	observability.VouchersGenerated.Inc()
	s.audit.Record(issuer.ID, "voucher.generate", recipientID, "",
		fmt.Sprintf("code=%s value=%d", audit.TruncateCode(code), value))
	return &v, nil
}

// Redeem converts an active voucher into a ledger credit for the bound
// recipient. Lookup is by code AND recipient, so a valid code issued to
// someone else reads as not found. The status flip, quota decrement, and
// credit entry commit as one transaction.
func (s *Service) Redeem(ctx context.Context, recipient domain.Principal, code, ip, agent string) (*domain.TxResult, error) {
	if recipient.Role != domain.RoleApplicant {
		return nil, domain.ErrForbidden
	}

	dec := s.limiter.Allow("voucher_redeem_"+recipient.ID, s.cfg.RedeemMax, s.cfg.LimiterWindow)
	if !dec.Allowed {
		observability.RateLimited.WithLabelValues("voucher_redeem").Inc()
		return nil, &domain.RateLimitError{ResetAtMS: dec.ResetAtMS}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	v, err := s.db.GetVoucherByCodeTx(tx, code, recipient.ID)
	if err != nil {
		if err == domain.ErrVoucherNotFound {
			observability.VoucherRedemptions.WithLabelValues("not_found").Inc()
			// The security insert needs the connection the transaction
			// is holding, so release it first.
			tx.Rollback()
			s.audit.Security(audit.EventVoucherProbe, recipient.ID, ip,
				fmt.Sprintf("code=%s", audit.TruncateCode(code)))
		}
		return nil, err
	}

	if v.Status != domain.VoucherActive {
		observability.VoucherRedemptions.WithLabelValues("not_active").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrVoucherNotActive, v.Status)
	}

	now := s.now()
	if now.UnixMilli() >= v.ExpiresMS {
		// Lazy expiry: stamp the terminal status even though the
		// redemption itself fails. The voucher leaves active here, so
		// the issuer's quota slot is released with it.
		if err := s.db.MarkVoucherStatusTx(tx, code, domain.VoucherExpired); err != nil {
			return nil, err
		}
		if err := s.db.DecrementQuotaTx(tx, v.IssuerID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		observability.VoucherRedemptions.WithLabelValues("expired").Inc()
		return nil, domain.ErrVoucherExpired
	}

	if !s.Verify(*v) {
		observability.SignatureFailures.Inc()
		observability.VoucherRedemptions.WithLabelValues("bad_signature").Inc()
		tx.Rollback()
		s.audit.Security(audit.EventSignatureMismatch, recipient.ID, ip,
			fmt.Sprintf("code=%s", audit.TruncateCode(code)))
		return nil, domain.ErrSignatureInvalid
	}

	if err := s.db.MarkVoucherRedeemedTx(tx, code, now.UnixMilli(), ip, agent); err != nil {
		return nil, err
	}
	if err := s.db.DecrementQuotaTx(tx, v.IssuerID); err != nil {
		return nil, err
	}
	res, err := s.ledger.CreditInTx(tx, recipient.ID, v.PointValue,
		domain.EntryVoucherRedeem, fmt.Sprintf("Voucher redemption %s", code), v.IssuerID, ip)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	observability.VoucherRedemptions.WithLabelValues("ok").Inc()
	s.audit.Record(recipient.ID, "voucher.redeem", code, ip,
		fmt.Sprintf("value=%d hash=%s", v.PointValue, res.TxHash))
	return res, nil
}

// Cancel withdraws one of the caller's own active vouchers and releases
// its quota slot.
func (s *Service) Cancel(ctx context.Context, issuer domain.Principal, code string) error {
	if issuer.Role != domain.RoleSystemAdmin && issuer.Role != domain.RoleSuperAdmin {
		return domain.ErrForbidden
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	v, err := s.db.GetVoucherForIssuerTx(tx, code, issuer.ID)
	if err != nil {
		return err
	}
	if err := s.db.MarkVoucherStatusTx(tx, v.Code, domain.VoucherCancelled); err != nil {
		return err
	}
	if err := s.db.DecrementQuotaTx(tx, issuer.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.Record(issuer.ID, "voucher.cancel", code, "", "")
	return nil
}

// Quota reads an issuer's current voucher counters.
func (s *Service) Quota(ctx context.Context, issuerID string) (*domain.VoucherQuota, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	q, err := s.db.GetQuotaTx(tx, issuerID)
	if err != nil {
		return nil, err
	}
	return q, tx.Commit()
}

// ─── Code & Signature ───────────────────────────────────────────────────────

// newCode builds a voucher code from three segments: the tail of the unix
// timestamp, eight hex chars binding recipient and issuer via HMAC, and
// eight hex chars of fresh randomness.
func (s *Service) newCode(recipientID, issuerID string, unixTS int64) (string, error) {
	tsPart := strconv.FormatInt(unixTS, 10)
	if len(tsPart) > 6 {
		tsPart = tsPart[len(tsPart)-6:]
	}

	mac := hmac.New(sha256.New, s.codeKey)
	fmt.Fprintf(mac, "%s|%s|%d", recipientID, issuerID, unixTS)
	binding := hex.EncodeToString(mac.Sum(nil))[:8]

	nonce := make([]byte, 4)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	return strings.ToUpper(tsPart + binding + hex.EncodeToString(nonce)), nil
}

// signPayload fixes the canonical field order for the voucher signature.
type signPayload struct {
	Code        string `json:"code"`
	RecipientID string `json:"recipient"`
	PointValue  int64  `json:"value"`
	IssuerID    string `json:"issuer"`
	GeneratedMS int64  `json:"generated_ms"`
}

// Sign computes the HMAC-SHA512 signature over the voucher's generation
// fields. Redemption recomputes it, so any post-issue tampering with the
// stored row fails verification.
func (s *Service) Sign(v domain.Voucher) string {
	payload, _ := json.Marshal(signPayload{
		Code:        v.Code,
		RecipientID: v.RecipientID,
		PointValue:  v.PointValue,
		IssuerID:    v.IssuerID,
		GeneratedMS: v.GeneratedMS,
	})
	mac := hmac.New(sha512.New, s.signingKey)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes a voucher's signature and compares it to the stored value.
func (s *Service) Verify(v domain.Voucher) bool {
	return hmac.Equal([]byte(s.Sign(v)), []byte(v.Signature))
}
