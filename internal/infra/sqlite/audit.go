package sqlite

// ─── Audit Trail Operations ─────────────────────────────────────────────────

// AuditEvent is one audit-trail row.
type AuditEvent struct {
	ID          string `json:"id"`
	Actor       string `json:"actor"`
	Action      string `json:"action"`
	Target      string `json:"target,omitempty"`
	IP          string `json:"ip,omitempty"`
	Detail      string `json:"detail,omitempty"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// SecurityEvent is a security-relevant failure, recorded separately from
// ordinary audit events.
type SecurityEvent struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Actor       string `json:"actor,omitempty"`
	IP          string `json:"ip,omitempty"`
	Detail      string `json:"detail,omitempty"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// InsertAuditEvent appends an audit event.
func (db *DB) InsertAuditEvent(e AuditEvent) error {
	_, err := db.db.Exec(`
		INSERT INTO audit_events (id, actor, action, target, ip, detail, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, e.Action, e.Target, e.IP, e.Detail, e.CreatedAtMS)
	return err
}

// InsertSecurityEvent appends a security event.
func (db *DB) InsertSecurityEvent(e SecurityEvent) error {
	_, err := db.db.Exec(`
		INSERT INTO security_events (id, kind, actor, ip, detail, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Kind, e.Actor, e.IP, e.Detail, e.CreatedAtMS)
	return err
}

// ListSecurityEvents returns recent security events of a kind ("" for all).
func (db *DB) ListSecurityEvents(kind string, limit int) ([]SecurityEvent, error) {
	q := `SELECT id, kind, actor, ip, detail, created_at_ms FROM security_events`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Actor, &e.IP, &e.Detail, &e.CreatedAtMS); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// CountAuditEvents returns the number of audit events for an actor.
func (db *DB) CountAuditEvents(actor string) (int64, error) {
	var n int64
	err := db.db.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE actor = ?`, actor).Scan(&n)
	return n, err
}
