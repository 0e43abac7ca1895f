// Package pinauth disambiguates which named operator is behind a shared
// village-admin login using a 4-digit PIN, with a per-operator lockout
// state machine.
//
// All operators of a village share one login; the PIN alone identifies
// the human. Verification walks the village's active operators in a fixed
// order (primary first, then oldest) and the first bcrypt match wins. A
// failed attempt counts against every operator that was eligible to
// match, because the caller never proved which one they were.
package pinauth

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gramseva/points/internal/audit"
	"github.com/gramseva/points/internal/auth"
	"github.com/gramseva/points/internal/domain"
	"github.com/gramseva/points/internal/infra/sqlite"
	"github.com/gramseva/points/internal/observability"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// Config controls lockout policy.
type Config struct {
	MaxAttempts   int           // failures before lock (default: 3)
	LockoutWindow time.Duration // lock duration before auto-unlock (default: 10m)
	SessionTTL    time.Duration // operator token lifetime (default: 8h)
	BcryptCost    int           // cost for new PIN hashes
}

// DefaultConfig returns the portal's standard lockout policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		LockoutWindow: 10 * time.Minute,
		SessionTTL:    8 * time.Hour,
		BcryptCost:    bcrypt.DefaultCost,
	}
}

// Authenticator verifies operator PINs and manages operator records.
type Authenticator struct {
	db     *sqlite.DB
	cfg    Config
	tokens *auth.Resolver
	audit  *audit.Logger

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a PIN authenticator.
func New(db *sqlite.DB, cfg Config, tokens *auth.Resolver, auditLog *audit.Logger) *Authenticator {
	return &Authenticator{
		db:     db,
		cfg:    cfg,
		tokens: tokens,
		audit:  auditLog,
		now:    time.Now,
	}
}

// VerifyPin identifies which of a village's operators entered the PIN.
//
// Eligibility per operator: active, not inside a live lockout window, not
// pending a PIN reset. An elapsed lockout auto-unlocks on the way through;
// if it was the operator's second consecutive lockout the unlock demands a
// reset, which keeps the operator out of this round too. On no match every
// operator that was compared takes a failure, so three wrong village-wide
// attempts lock everyone who could have matched.
func (a *Authenticator) VerifyPin(ctx context.Context, villageID, pin, ip string) (*domain.OperatorSession, error) {
	tx, err := a.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ops, err := a.db.ListActiveOperatorsTx(tx, villageID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, domain.ErrNoOperators
	}

	nowMS := a.now().UnixMilli()
	var eligible []domain.Operator
	for _, op := range ops {
		if op.IsLocked {
			if nowMS-op.LockedAtMS < a.cfg.LockoutWindow.Milliseconds() {
				continue
			}
			requireReset := op.ConsecutiveLockouts >= 2
			if err := a.db.UnlockOperatorTx(tx, op.ID, requireReset); err != nil {
				return nil, err
			}
			if requireReset {
				continue
			}
			op.IsLocked = false
			op.FailedAttempts = 0
		}
		if op.PinResetRequired {
			continue
		}
		eligible = append(eligible, op)
	}

	for _, op := range eligible {
		if bcrypt.CompareHashAndPassword([]byte(op.PinHash), []byte(pin)) != nil {
			continue
		}
		if err := a.db.ResetAttemptsTx(tx, op.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		token, err := a.tokens.Issue(domain.Principal{
			ID:          villageID,
			Role:        domain.RoleVillageAdmin,
			VillageID:   villageID,
			OperatorID:  op.ID,
			Designation: op.Designation,
			IsPrimary:   op.IsPrimary,
			Approved:    true,
		}, a.cfg.SessionTTL)
		if err != nil {
			return nil, err
		}

		observability.PinAttempts.WithLabelValues("ok").Inc()
		a.audit.Record(op.ID, "pin.verify", villageID, ip,
			fmt.Sprintf("designation=%s", op.Designation))
		return &domain.OperatorSession{
			OperatorID:  op.ID,
			Designation: op.Designation,
			IsPrimary:   op.IsPrimary,
			Token:       token,
		}, nil
	}

	// No match: everyone who was compared shares the failure. Security
	// events wait until the transaction has released the connection.
	var lockedIDs []string
	for _, op := range eligible {
		locked, err := a.db.RecordFailedAttemptTx(tx, op.ID, a.cfg.MaxAttempts, nowMS)
		if err != nil {
			return nil, err
		}
		if locked {
			lockedIDs = append(lockedIDs, op.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, id := range lockedIDs {
		observability.PinLockouts.Inc()
		a.audit.Security(audit.EventPinLockout, id, ip,
			fmt.Sprintf("village=%s", villageID))
	}

	observability.PinAttempts.WithLabelValues("fail").Inc()
	return nil, domain.ErrInvalidPin
}

// ChangePin replaces an operator's PIN after verifying the current one.
// Installing the new hash clears the reset flag and all lockout state.
func (a *Authenticator) ChangePin(ctx context.Context, operatorID, currentPin, newPin string) error {
	if !pinPattern.MatchString(newPin) {
		return domain.ErrInvalidPinFormat
	}

	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	op, err := a.db.GetOperatorTx(tx, operatorID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PinHash), []byte(currentPin)) != nil {
		return domain.ErrCurrentPinIncorrect
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPin), a.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := a.db.UpdatePinHashTx(tx, operatorID, string(hash)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	a.audit.Record(operatorID, "pin.change", operatorID, "", "")
	return nil
}

// AddOperatorRequest describes a new named operator.
type AddOperatorRequest struct {
	VillageID   string
	FullName    string
	Designation string
	Phone       string
	Pin         string
	IsPrimary   bool
}

// AddOperator registers a named operator. The village's primary operator
// may add others within its village; system and super admins may
// provision operators for any village, which is how a village's first
// primary comes into existence. A village holds at most one primary.
func (a *Authenticator) AddOperator(ctx context.Context, caller *domain.Principal, req AddOperatorRequest) (*domain.Operator, error) {
	if !caller.IsPrimary && !caller.Role.AtLeast(domain.RoleSystemAdmin) {
		return nil, domain.ErrForbidden
	}
	if err := auth.RequireSameVillage(caller, req.VillageID); err != nil {
		return nil, err
	}
	if !pinPattern.MatchString(req.Pin) {
		return nil, domain.ErrInvalidPinFormat
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Pin), a.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	op := domain.Operator{
		ID:          uuid.NewString(),
		VillageID:   req.VillageID,
		FullName:    req.FullName,
		Designation: req.Designation,
		Phone:       req.Phone,
		PinHash:     string(hash),
		IsPrimary:   req.IsPrimary,
		IsActive:    true,
	}

	tx, err := a.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if req.IsPrimary {
		_, err := a.db.GetPrimaryOperatorTx(tx, req.VillageID)
		if err == nil {
			return nil, domain.ErrPrimaryExists
		}
		if err != domain.ErrOperatorNotFound {
			return nil, err
		}
	}
	if err := a.db.InsertOperatorTx(tx, op); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.audit.Record(caller.OperatorID, "operator.add", op.ID, "",
		fmt.Sprintf("village=%s designation=%s", req.VillageID, req.Designation))
	return &op, nil
}

// DeactivateOperator retires an operator. Only the primary may do this,
// only within its own village, and never against itself or another
// primary.
func (a *Authenticator) DeactivateOperator(ctx context.Context, caller *domain.Principal, operatorID string) error {
	if !caller.IsPrimary {
		return domain.ErrForbidden
	}
	if err := a.db.DeactivateOperator(operatorID, caller.VillageID); err != nil {
		return err
	}
	a.audit.Record(caller.OperatorID, "operator.deactivate", operatorID, "", "")
	return nil
}

// ListOperators returns a village's operators with PIN hashes withheld by
// the JSON mapping.
func (a *Authenticator) ListOperators(ctx context.Context, villageID string) ([]domain.Operator, error) {
	return a.db.ListOperators(villageID)
}
