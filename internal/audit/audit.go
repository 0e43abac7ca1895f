// Package audit records who did what, and security-relevant failures.
//
// Every write is best-effort: a failed audit insert is logged and
// swallowed so that it can never abort the primary ledger mutation.
package audit

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gramseva/points/internal/infra/sqlite"
)

// Security event kinds.
const (
	EventSignatureMismatch = "signature_mismatch"
	EventVoucherProbe      = "voucher_probe"
	EventPinLockout        = "pin_lockout"
)

// codePrefixLen caps how much of a failed voucher code reaches the logs.
const codePrefixLen = 8

// Logger writes audit and security events.
type Logger struct {
	db  *sqlite.DB
	now func() time.Time
}

// New creates an audit logger.
func New(db *sqlite.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// Record writes an ordinary audit event. Failures are logged and swallowed.
func (l *Logger) Record(actor, action, target, ip, detail string) {
	if l == nil || l.db == nil {
		return
	}
	err := l.db.InsertAuditEvent(sqlite.AuditEvent{
		ID:          uuid.NewString(),
		Actor:       actor,
		Action:      action,
		Target:      target,
		IP:          ip,
		Detail:      detail,
		CreatedAtMS: l.now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[audit] drop event actor=%s action=%s: %v", actor, action, err)
	}
}

// Security writes a security event. Failures are logged and swallowed.
func (l *Logger) Security(kind, actor, ip, detail string) {
	if l == nil || l.db == nil {
		return
	}
	err := l.db.InsertSecurityEvent(sqlite.SecurityEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		Actor:       actor,
		IP:          ip,
		Detail:      detail,
		CreatedAtMS: l.now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[audit] drop security event kind=%s: %v", kind, err)
	}
}

// TruncateCode reduces a voucher code to its loggable prefix.
func TruncateCode(code string) string {
	if len(code) <= codePrefixLen {
		return code
	}
	return code[:codePrefixLen]
}
