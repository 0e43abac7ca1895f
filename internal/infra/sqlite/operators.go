package sqlite

import (
	"database/sql"
	"time"

	"github.com/gramseva/points/internal/domain"
)

// ─── Operator Operations ────────────────────────────────────────────────────
// Operators share one village-admin login; iteration order matters for PIN
// disambiguation, so list queries always order primary-first.

// InsertOperator adds an operator to a village.
func (db *DB) InsertOperator(op domain.Operator) error {
	_, err := db.db.Exec(insertOperatorStmt,
		op.ID, op.VillageID, op.FullName, op.Designation, op.Phone, op.PinHash,
		boolToInt(op.IsPrimary), boolToInt(op.IsActive))
	return err
}

// InsertOperatorTx adds an operator inside a transaction, so callers can
// pair the insert with a primary-uniqueness check.
func (db *DB) InsertOperatorTx(tx *sql.Tx, op domain.Operator) error {
	_, err := tx.Exec(insertOperatorStmt,
		op.ID, op.VillageID, op.FullName, op.Designation, op.Phone, op.PinHash,
		boolToInt(op.IsPrimary), boolToInt(op.IsActive))
	return err
}

const insertOperatorStmt = `
	INSERT INTO operators
		(id, village_id, full_name, designation, phone, pin_hash, is_primary, is_active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// ListActiveOperatorsTx returns a village's active operators, primary
// first, then oldest first. This order is the PIN tie-break.
func (db *DB) ListActiveOperatorsTx(tx *sql.Tx, villageID string) ([]domain.Operator, error) {
	rows, err := tx.Query(operatorQuery+`
		WHERE village_id = ? AND is_active = 1
		ORDER BY is_primary DESC, created_at ASC, id ASC`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOperators(rows)
}

// ListOperators returns all operators for a village (admin view).
func (db *DB) ListOperators(villageID string) ([]domain.Operator, error) {
	rows, err := db.db.Query(operatorQuery+`
		WHERE village_id = ?
		ORDER BY is_primary DESC, created_at ASC, id ASC`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOperators(rows)
}

// GetPrimaryOperatorTx returns a village's primary operator, or
// ErrOperatorNotFound when the village has none yet.
func (db *DB) GetPrimaryOperatorTx(tx *sql.Tx, villageID string) (*domain.Operator, error) {
	rows, err := tx.Query(operatorQuery+` WHERE village_id = ? AND is_primary = 1`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ops, err := scanOperators(rows)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, domain.ErrOperatorNotFound
	}
	return &ops[0], nil
}

// GetOperatorTx retrieves a single operator.
func (db *DB) GetOperatorTx(tx *sql.Tx, id string) (*domain.Operator, error) {
	rows, err := tx.Query(operatorQuery+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ops, err := scanOperators(rows)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, domain.ErrOperatorNotFound
	}
	return &ops[0], nil
}

// UnlockOperatorTx clears an elapsed lock. When the unlock follows the
// operator's second consecutive lockout it also demands a PIN reset.
func (db *DB) UnlockOperatorTx(tx *sql.Tx, id string, requireReset bool) error {
	_, err := tx.Exec(`
		UPDATE operators
		SET is_locked = 0, failed_attempts = 0, locked_at_ms = 0,
		    pin_reset_required = CASE WHEN ? THEN 1 ELSE pin_reset_required END
		WHERE id = ?`, boolToInt(requireReset), id)
	return err
}

// RecordFailedAttemptTx bumps an operator's shared failure counter and
// locks it once the threshold is crossed.
func (db *DB) RecordFailedAttemptTx(tx *sql.Tx, id string, maxAttempts int, nowMS int64) (locked bool, err error) {
	res, err := tx.Exec(`
		UPDATE operators
		SET failed_attempts = failed_attempts + 1,
		    is_locked = CASE WHEN failed_attempts + 1 >= ? THEN 1 ELSE 0 END,
		    locked_at_ms = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE locked_at_ms END,
		    consecutive_lockouts = CASE WHEN failed_attempts + 1 >= ?
		        THEN consecutive_lockouts + 1 ELSE consecutive_lockouts END
		WHERE id = ?`, maxAttempts, maxAttempts, nowMS, maxAttempts, id)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, domain.ErrOperatorNotFound
	}
	var lockedInt int
	err = tx.QueryRow(`SELECT is_locked FROM operators WHERE id = ?`, id).Scan(&lockedInt)
	return lockedInt == 1, err
}

// ResetAttemptsTx clears the failure state after a successful login.
func (db *DB) ResetAttemptsTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`
		UPDATE operators
		SET failed_attempts = 0, consecutive_lockouts = 0, is_locked = 0, locked_at_ms = 0
		WHERE id = ?`, id)
	return err
}

// UpdatePinHashTx installs a new PIN hash and clears all lockout state.
func (db *DB) UpdatePinHashTx(tx *sql.Tx, id, pinHash string) error {
	res, err := tx.Exec(`
		UPDATE operators
		SET pin_hash = ?, pin_reset_required = 0, failed_attempts = 0,
		    consecutive_lockouts = 0, is_locked = 0, locked_at_ms = 0
		WHERE id = ?`, pinHash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrOperatorNotFound
	}
	return nil
}

// DeactivateOperator retires a non-primary operator. The update is scoped
// to villageID, so an id from another village reads as not found rather
// than acting across the village boundary.
func (db *DB) DeactivateOperator(id, villageID string) error {
	res, err := db.db.Exec(`
		UPDATE operators SET is_active = 0
		WHERE id = ? AND village_id = ? AND is_primary = 0`, id, villageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var primary int
		err := db.db.QueryRow(`
			SELECT is_primary FROM operators WHERE id = ? AND village_id = ?`,
			id, villageID).Scan(&primary)
		if err == sql.ErrNoRows {
			return domain.ErrOperatorNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrPrimaryOperator
	}
	return nil
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

const operatorQuery = `
	SELECT id, village_id, full_name, designation, phone, pin_hash,
	       is_primary, is_active, is_locked, failed_attempts, locked_at_ms,
	       consecutive_lockouts, pin_reset_required, created_at
	FROM operators`

func scanOperators(rows *sql.Rows) ([]domain.Operator, error) {
	var result []domain.Operator
	for rows.Next() {
		var op domain.Operator
		var primary, active, locked, reset int
		var createdStr string
		if err := rows.Scan(&op.ID, &op.VillageID, &op.FullName, &op.Designation,
			&op.Phone, &op.PinHash, &primary, &active, &locked,
			&op.FailedAttempts, &op.LockedAtMS, &op.ConsecutiveLockouts,
			&reset, &createdStr); err != nil {
			return nil, err
		}
		op.IsPrimary = primary == 1
		op.IsActive = active == 1
		op.IsLocked = locked == 1
		op.PinResetRequired = reset == 1
		op.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdStr)
		result = append(result, op)
	}
	return result, rows.Err()
}
