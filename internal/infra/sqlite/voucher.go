package sqlite

import (
	"database/sql"

	"github.com/gramseva/points/internal/domain"
)

// ─── Voucher Operations ─────────────────────────────────────────────────────
// Vouchers are never physically deleted; redemption, expiry, and
// cancellation are status transitions stamped in place.

// InsertVoucherTx persists a new voucher.
func (db *DB) InsertVoucherTx(tx *sql.Tx, v domain.Voucher) error {
	_, err := tx.Exec(`
		INSERT INTO vouchers
			(code, recipient_id, issuer_id, point_value, status, signature,
			 notes, generated_ms, expires_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.Code, v.RecipientID, v.IssuerID, v.PointValue, string(v.Status),
		v.Signature, v.Notes, v.GeneratedMS, v.ExpiresMS)
	return err
}

// GetVoucherByCodeTx looks a voucher up by code AND bound recipient.
// A code without the matching recipient reads as not-found on purpose:
// callers cannot probe codes issued to other accounts.
func (db *DB) GetVoucherByCodeTx(tx *sql.Tx, code, recipientID string) (*domain.Voucher, error) {
	return scanVoucher(tx.QueryRow(voucherQuery+`
		WHERE code = ? AND recipient_id = ?`, code, recipientID))
}

// GetVoucherForIssuerTx looks a voucher up by code and issuer (cancellation path).
func (db *DB) GetVoucherForIssuerTx(tx *sql.Tx, code, issuerID string) (*domain.Voucher, error) {
	return scanVoucher(tx.QueryRow(voucherQuery+`
		WHERE code = ? AND issuer_id = ?`, code, issuerID))
}

// GetVoucher retrieves a voucher by code without recipient binding.
// Reporting use only — the redemption path must use GetVoucherByCodeTx.
func (db *DB) GetVoucher(code string) (*domain.Voucher, error) {
	return scanVoucher(db.db.QueryRow(voucherQuery+` WHERE code = ?`, code))
}

// MarkVoucherRedeemedTx is the active → redeemed transition. The status
// guard in the WHERE clause makes the flip single-winner even if two
// redemptions race past the earlier checks.
func (db *DB) MarkVoucherRedeemedTx(tx *sql.Tx, code string, redeemedMS int64, ip, agent string) error {
	res, err := tx.Exec(`
		UPDATE vouchers
		SET status = ?, redeemed_ms = ?, redeemed_ip = ?, redeemed_agent = ?
		WHERE code = ? AND status = ?`,
		string(domain.VoucherRedeemed), redeemedMS, ip, agent,
		code, string(domain.VoucherActive))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrVoucherNotActive
	}
	return nil
}

// MarkVoucherStatusTx transitions a voucher out of active (expiry and
// cancellation paths).
func (db *DB) MarkVoucherStatusTx(tx *sql.Tx, code string, to domain.VoucherStatus) error {
	res, err := tx.Exec(`
		UPDATE vouchers SET status = ? WHERE code = ? AND status = ?`,
		string(to), code, string(domain.VoucherActive))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrVoucherNotActive
	}
	return nil
}

// ─── Quota Operations ───────────────────────────────────────────────────────

// GetQuotaTx reads an issuer's quota counters (zero row if never issued).
func (db *DB) GetQuotaTx(tx *sql.Tx, adminID string) (*domain.VoucherQuota, error) {
	q := &domain.VoucherQuota{AdminID: adminID}
	err := tx.QueryRow(`
		SELECT active_count, total_generated, last_generated_ms
		FROM voucher_quotas WHERE admin_id = ?`, adminID).
		Scan(&q.ActiveCount, &q.TotalGenerated, &q.LastGeneratedMS)
	if err == sql.ErrNoRows {
		return q, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// IncrementQuotaTx bumps the issuer's active and lifetime counters.
func (db *DB) IncrementQuotaTx(tx *sql.Tx, adminID string, nowMS int64) error {
	_, err := tx.Exec(`
		INSERT INTO voucher_quotas (admin_id, active_count, total_generated, last_generated_ms)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(admin_id) DO UPDATE SET
			active_count      = active_count + 1,
			total_generated   = total_generated + 1,
			last_generated_ms = excluded.last_generated_ms
	`, adminID, nowMS)
	return err
}

// DecrementQuotaTx drops the issuer's active count, floored at zero.
func (db *DB) DecrementQuotaTx(tx *sql.Tx, adminID string) error {
	_, err := tx.Exec(`
		UPDATE voucher_quotas
		SET active_count = MAX(active_count - 1, 0)
		WHERE admin_id = ?`, adminID)
	return err
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

const voucherQuery = `
	SELECT code, recipient_id, issuer_id, point_value, status, signature,
	       notes, generated_ms, expires_ms, redeemed_ms, redeemed_ip,
	       redeemed_agent
	FROM vouchers`

func scanVoucher(row *sql.Row) (*domain.Voucher, error) {
	var v domain.Voucher
	var status string
	var redeemedMS sql.NullInt64
	var ip, agent sql.NullString
	err := row.Scan(&v.Code, &v.RecipientID, &v.IssuerID, &v.PointValue,
		&status, &v.Signature, &v.Notes, &v.GeneratedMS, &v.ExpiresMS,
		&redeemedMS, &ip, &agent)
	if err == sql.ErrNoRows {
		return nil, domain.ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Status = domain.VoucherStatus(status)
	v.RedeemedMS = redeemedMS.Int64
	v.RedeemedIP = ip.String
	v.RedeemedAgent = agent.String
	return &v, nil
}
