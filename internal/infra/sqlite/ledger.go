package sqlite

import (
	"database/sql"
	"strings"

	"github.com/gramseva/points/internal/domain"
)

// ─── Ledger Entry Operations ────────────────────────────────────────────────
// Entries are append-only. The single sanctioned mutation is the
// (REFUNDED) reason annotation on a deduct entry.

// InsertLedgerEntryTx appends a ledger entry. A UNIQUE violation on
// tx_hash surfaces as domain.ErrDuplicateTransaction: a retried request
// with identical payload and timestamp produces the same hash.
func (db *DB) InsertLedgerEntryTx(tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries
			(tx_hash, account_id, admin_id, kind, amount, previous_balance,
			 new_balance, reason, application_id, signature, submitter_ip, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.TxHash, e.AccountID, nullable(e.AdminID), string(e.Kind), e.Amount,
		e.PreviousBalance, e.NewBalance, e.Reason, nullable(e.ApplicationID),
		nullable(e.Signature), nullable(e.SubmitterIP), e.CreatedAtMS)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.ErrDuplicateTransaction
	}
	return err
}

// GetLedgerEntry retrieves an entry by transaction hash.
func (db *DB) GetLedgerEntry(txHash string) (*domain.LedgerEntry, error) {
	rows, err := db.db.Query(ledgerQuery+` WHERE tx_hash = ?`, txHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanLedgerEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return &entries[0], nil
}

// ListLedgerEntries returns an account's entries, newest first.
func (db *DB) ListLedgerEntries(accountID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := db.db.Query(ledgerQuery+`
		WHERE account_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// FindRefundableDeductionTx locates the most recent DEDUCT entry for the
// account made at or after sinceMS whose application reference is still
// null and which has not already been refunded. A null application
// reference after the grace period is the orphaned-deduction signal.
func (db *DB) FindRefundableDeductionTx(tx *sql.Tx, accountID string, sinceMS int64) (*domain.LedgerEntry, error) {
	rows, err := tx.Query(ledgerQuery+`
		WHERE account_id = ?
		  AND kind = ?
		  AND created_at_ms >= ?
		  AND application_id IS NULL
		  AND reason NOT LIKE '%(REFUNDED)'
		ORDER BY created_at_ms DESC, id DESC LIMIT 1`,
		accountID, string(domain.EntryDeduct), sinceMS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanLedgerEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrNoEligibleDeduction
	}
	return &entries[0], nil
}

// MarkEntryRefundedTx annotates a deduct entry's reason with the refunded
// marker. The append-only contract allows this single annotation.
func (db *DB) MarkEntryRefundedTx(tx *sql.Tx, txHash string) error {
	_, err := tx.Exec(`
		UPDATE ledger_entries SET reason = reason || ? WHERE tx_hash = ?`,
		domain.RefundedMarker, txHash)
	return err
}

// LinkApplication attaches a committed application to its fee deduction.
// Once linked the deduction is no longer refund-eligible.
func (db *DB) LinkApplication(txHash, applicationID string) error {
	res, err := db.db.Exec(`
		UPDATE ledger_entries SET application_id = ?
		WHERE tx_hash = ? AND application_id IS NULL`,
		applicationID, txHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNoEligibleDeduction
	}
	return nil
}

// SumLedgerAmounts returns the sum of all entry amounts for an account.
// Used by conservation checks and reporting collaborators.
func (db *DB) SumLedgerAmounts(accountID string) (int64, error) {
	var sum sql.NullInt64
	err := db.db.QueryRow(`
		SELECT SUM(amount) FROM ledger_entries WHERE account_id = ?`,
		accountID).Scan(&sum)
	return sum.Int64, err
}

// ─── Distribution Operations ────────────────────────────────────────────────

// InsertDistributionTx records a fee split alongside the triggering debit.
func (db *DB) InsertDistributionTx(tx *sql.Tx, d domain.Distribution) error {
	_, err := tx.Exec(`
		INSERT INTO distributions
			(id, application_id, village_id, total_points, maintenance_share,
			 super_admin_share, village_admin_share, status, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ApplicationID, d.VillageID, d.TotalPoints, d.MaintenanceShare,
		d.SuperAdminShare, d.VillageAdminShare, string(d.Status), d.CreatedAtMS)
	return err
}

// ListDistributions returns distributions by status, newest first.
func (db *DB) ListDistributions(status domain.DistributionStatus, limit int) ([]domain.Distribution, error) {
	rows, err := db.db.Query(`
		SELECT id, application_id, village_id, total_points, maintenance_share,
		       super_admin_share, village_admin_share, status, created_at_ms
		FROM distributions WHERE status = ?
		ORDER BY created_at_ms DESC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Distribution
	for rows.Next() {
		var d domain.Distribution
		var status string
		if err := rows.Scan(&d.ID, &d.ApplicationID, &d.VillageID, &d.TotalPoints,
			&d.MaintenanceShare, &d.SuperAdminShare, &d.VillageAdminShare,
			&status, &d.CreatedAtMS); err != nil {
			return nil, err
		}
		d.Status = domain.DistributionStatus(status)
		result = append(result, d)
	}
	return result, rows.Err()
}

// MarkDistributionsPaidOut flips active distributions to paid_out for a
// payout batch. Returns the number of rows settled.
func (db *DB) MarkDistributionsPaidOut(ids []string) (int64, error) {
	var total int64
	for _, id := range ids {
		res, err := db.db.Exec(`
			UPDATE distributions SET status = ? WHERE id = ? AND status = ?`,
			string(domain.DistributionPaidOut), id, string(domain.DistributionActive))
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

const ledgerQuery = `
	SELECT id, tx_hash, account_id, admin_id, kind, amount, previous_balance,
	       new_balance, reason, application_id, signature, submitter_ip,
	       is_immutable, created_at_ms
	FROM ledger_entries`

func scanLedgerEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var result []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		var adminID, appID, sig, ip sql.NullString
		var immutable int
		if err := rows.Scan(&e.ID, &e.TxHash, &e.AccountID, &adminID, &kind,
			&e.Amount, &e.PreviousBalance, &e.NewBalance, &e.Reason, &appID,
			&sig, &ip, &immutable, &e.CreatedAtMS); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		e.AdminID = adminID.String
		e.ApplicationID = appID.String
		e.Signature = sig.String
		e.SubmitterIP = ip.String
		e.IsImmutable = immutable == 1
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
