package ledger

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/gramseva/points/internal/domain"
	"github.com/gramseva/points/internal/observability"
)

// ─── Commission Distribution ────────────────────────────────────────────────
// Runs only inside a fee debit's transaction. One Distribution row records
// the full split; the village-admin share is additionally settled as a
// real credit right away, while the maintenance and super-admin shares
// wait for a payout batch. The asymmetry is intentional and declared on
// the Share type, not scattered across code paths.

// VillageAdminCommissionReason is the reason on the immediate commission credit.
const VillageAdminCommissionReason = "Village Admin Commission"

// distribute fans the fee out to the configured shares. Called with the
// debited account already read (and thus locked) in the same transaction.
func (e *Engine) distribute(tx *sql.Tx, debited *domain.Account, debitHash, applicationID string) error {
	var total, maintenance, superAdmin, villageAdmin int64
	for _, s := range e.cfg.Shares {
		total += s.Amount
		switch {
		case s.Settlement == domain.SettleImmediate:
			villageAdmin += s.Amount
		case s.PoolTag == "platform_maintenance":
			maintenance += s.Amount
		default:
			superAdmin += s.Amount
		}
		observability.CommissionPoints.WithLabelValues(s.Label).Add(float64(s.Amount))
	}
	if total != e.cfg.ApplicationFee {
		return fmt.Errorf("share total %d does not cover fee %d", total, e.cfg.ApplicationFee)
	}

	if applicationID == "" {
		applicationID = debitHash // fall back to the deduction's own hash
	}
	dist := domain.Distribution{
		ID:                uuid.NewString(),
		ApplicationID:     applicationID,
		VillageID:         debited.VillageID,
		TotalPoints:       total,
		MaintenanceShare:  maintenance,
		SuperAdminShare:   superAdmin,
		VillageAdminShare: villageAdmin,
		Status:            domain.DistributionActive,
		CreatedAtMS:       e.now().UnixMilli(),
	}
	if err := e.db.InsertDistributionTx(tx, dist); err != nil {
		return err
	}

	// Immediate settlement: the village admin's cut lands as a real
	// credit in the same transaction as the debit.
	for _, s := range e.cfg.Shares {
		if s.Settlement != domain.SettleImmediate {
			continue
		}
		admin, err := e.db.GetVillageAdminTx(tx, debited.VillageID)
		if err != nil {
			// A village without an admin account still collects the fee;
			// the share stays in the distribution row for manual payout.
			if err == domain.ErrAccountNotFound {
				continue
			}
			return err
		}
		if _, err := e.creditTx(tx, admin.ID, s.Amount, domain.EntryCommission,
			VillageAdminCommissionReason, "", ""); err != nil {
			return err
		}
	}
	return nil
}

// SettleDeferredShares marks a batch of active distributions paid out.
// The actual pool transfers happen outside this core (payout batch job).
func (e *Engine) SettleDeferredShares(ids []string) (int64, error) {
	return e.db.MarkDistributionsPaidOut(ids)
}
