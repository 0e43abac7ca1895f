package sqlite

import (
	"database/sql"
	"time"

	"github.com/gramseva/points/internal/domain"
)

// ─── Account Operations ─────────────────────────────────────────────────────
// Accounts are provisioned by the directory service; this package only
// needs the balance-bearing subset.

// UpsertAccount inserts or updates an account. Balance is only set on
// first insert — updates never touch it (the ledger owns balance changes).
func (db *DB) UpsertAccount(a domain.Account) error {
	_, err := db.db.Exec(`
		INSERT INTO accounts (id, role, village_id, approved, balance)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role       = excluded.role,
			village_id = excluded.village_id,
			approved   = excluded.approved
	`, a.ID, string(a.Role), a.VillageID, boolToInt(a.Approved), a.Balance)
	return err
}

// GetAccount retrieves an account outside any transaction.
func (db *DB) GetAccount(id string) (*domain.Account, error) {
	return scanAccount(db.db.QueryRow(accountQuery+` WHERE id = ?`, id))
}

// GetAccountTx retrieves an account inside a transaction.
func (db *DB) GetAccountTx(tx *sql.Tx, id string) (*domain.Account, error) {
	return scanAccount(tx.QueryRow(accountQuery+` WHERE id = ?`, id))
}

// GetVillageAdminTx finds the village-admin account for a village.
func (db *DB) GetVillageAdminTx(tx *sql.Tx, villageID string) (*domain.Account, error) {
	return scanAccount(tx.QueryRow(
		accountQuery+` WHERE village_id = ? AND role = ? LIMIT 1`,
		villageID, string(domain.RoleVillageAdmin)))
}

// UpdateBalanceTx sets the authoritative balance. Must only be called with
// a matching ledger entry in the same transaction.
func (db *DB) UpdateBalanceTx(tx *sql.Tx, accountID string, newBalance int64) error {
	res, err := tx.Exec(`UPDATE accounts SET balance = ? WHERE id = ?`, newBalance, accountID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

const accountQuery = `SELECT id, role, village_id, approved, balance, created_at FROM accounts`

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var role string
	var approved int
	var createdStr string
	err := row.Scan(&a.ID, &role, &a.VillageID, &approved, &a.Balance, &createdStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = domain.Role(role)
	a.Approved = approved == 1
	a.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdStr)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
