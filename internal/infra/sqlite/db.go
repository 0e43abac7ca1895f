// Package sqlite persists accounts, the point ledger, fee distributions,
// vouchers, quotas, sub-village operators, and audit trails.
//
// All SQL lives in this package. Balance-affecting sequences compose the
// *Tx method variants inside one immediate transaction: SQLite has no
// SELECT ... FOR UPDATE, but an immediate transaction takes the write lock
// up front, so a check-then-mutate sequence observes no stale state.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the portal database under dir and applies all
// migrations.
func Open(dir string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		filepath.Join(dir, "points.db"))

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver serializes writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	conn.SetMaxOpenConns(1)

	db := &DB{db: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// Begin starts a transaction. With _txlock=immediate the write lock is
// acquired at BEGIN, giving row-stability for check-then-mutate sequences.
func (db *DB) Begin() (*sql.Tx, error) { return db.db.Begin() }

// migrate applies the schema. Each string is a single SQL statement
// (SQLite executes one at a time).
func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
func Migrations() []string {
	return []string{
		// Balance-holding principals
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			role       TEXT NOT NULL,
			village_id TEXT NOT NULL DEFAULT '',
			approved   INTEGER NOT NULL DEFAULT 0,
			balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_village_role ON accounts(village_id, role)`,

		// Append-only point ledger. tx_hash UNIQUE doubles as the
		// idempotency key: a retried identical payload collides here.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash          TEXT NOT NULL UNIQUE,
			account_id       TEXT NOT NULL,
			admin_id         TEXT,
			kind             TEXT NOT NULL,
			amount           INTEGER NOT NULL,
			previous_balance INTEGER NOT NULL,
			new_balance      INTEGER NOT NULL,
			reason           TEXT NOT NULL,
			application_id   TEXT,
			signature        TEXT,
			submitter_ip     TEXT,
			is_immutable     INTEGER NOT NULL DEFAULT 1,
			created_at_ms    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id, created_at_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_kind ON ledger_entries(kind, created_at_ms)`,

		// Fee split bookkeeping
		`CREATE TABLE IF NOT EXISTS distributions (
			id                  TEXT PRIMARY KEY,
			application_id      TEXT NOT NULL,
			village_id          TEXT NOT NULL,
			total_points        INTEGER NOT NULL,
			maintenance_share   INTEGER NOT NULL,
			super_admin_share   INTEGER NOT NULL,
			village_admin_share INTEGER NOT NULL,
			status              TEXT NOT NULL DEFAULT 'active',
			created_at_ms       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_distributions_status ON distributions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_distributions_application ON distributions(application_id)`,

		// Vouchers (never physically deleted; status transitions only)
		`CREATE TABLE IF NOT EXISTS vouchers (
			code           TEXT PRIMARY KEY,
			recipient_id   TEXT NOT NULL,
			issuer_id      TEXT NOT NULL,
			point_value    INTEGER NOT NULL,
			status         TEXT NOT NULL DEFAULT 'active',
			signature      TEXT NOT NULL,
			notes          TEXT NOT NULL DEFAULT '',
			generated_ms   INTEGER NOT NULL,
			expires_ms     INTEGER NOT NULL,
			redeemed_ms    INTEGER,
			redeemed_ip    TEXT,
			redeemed_agent TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vouchers_recipient ON vouchers(recipient_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_vouchers_issuer ON vouchers(issuer_id, status)`,

		// Per-issuer voucher counters
		`CREATE TABLE IF NOT EXISTS voucher_quotas (
			admin_id          TEXT PRIMARY KEY,
			active_count      INTEGER NOT NULL DEFAULT 0,
			total_generated   INTEGER NOT NULL DEFAULT 0,
			last_generated_ms INTEGER NOT NULL DEFAULT 0
		)`,

		// Sub-village operators sharing one village-admin login
		`CREATE TABLE IF NOT EXISTS operators (
			id                   TEXT PRIMARY KEY,
			village_id           TEXT NOT NULL,
			full_name            TEXT NOT NULL,
			designation          TEXT NOT NULL DEFAULT '',
			phone                TEXT NOT NULL,
			pin_hash             TEXT NOT NULL,
			is_primary           INTEGER NOT NULL DEFAULT 0,
			is_active            INTEGER NOT NULL DEFAULT 1,
			is_locked            INTEGER NOT NULL DEFAULT 0,
			failed_attempts      INTEGER NOT NULL DEFAULT 0,
			locked_at_ms         INTEGER NOT NULL DEFAULT 0,
			consecutive_lockouts INTEGER NOT NULL DEFAULT 0,
			pin_reset_required   INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(village_id, phone)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operators_village ON operators(village_id, is_active)`,
		// One primary per village, enforced at the schema level too.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_operators_primary
			ON operators(village_id) WHERE is_primary = 1`,

		// Audit trails (best-effort writes)
		`CREATE TABLE IF NOT EXISTS audit_events (
			id            TEXT PRIMARY KEY,
			actor         TEXT NOT NULL,
			action        TEXT NOT NULL,
			target        TEXT NOT NULL DEFAULT '',
			ip            TEXT NOT NULL DEFAULT '',
			detail        TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS security_events (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			actor         TEXT NOT NULL DEFAULT '',
			ip            TEXT NOT NULL DEFAULT '',
			detail        TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_security_kind ON security_events(kind, created_at_ms)`,
	}
}
