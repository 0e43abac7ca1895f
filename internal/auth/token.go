// Package auth decodes bearer credentials into principals and enforces
// role gates.
//
// Tokens are HMAC-SHA256 signed: base64url(claims JSON) "." hex(mac).
// The claims carry a role and balance snapshot taken at issuance; the
// balance is display-only — every ledger operation re-reads the
// authoritative account balance inside its own transaction.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gramseva/points/internal/domain"
)

// Claims is the signed token payload.
type Claims struct {
	Subject     string      `json:"sub"`
	Role        domain.Role `json:"role"`
	VillageID   string      `json:"village_id,omitempty"`
	OperatorID  string      `json:"operator_id,omitempty"`
	Designation string      `json:"designation,omitempty"`
	IsPrimary   bool        `json:"is_primary,omitempty"`
	Approved    bool        `json:"approved"`
	Balance     int64       `json:"balance"`
	IssuedAt    int64       `json:"iat"`
	ExpiresAt   int64       `json:"exp"`
}

// Resolver issues and verifies tokens.
type Resolver struct {
	key []byte

	// Injectable clock for testing.
	now func() time.Time
}

// NewResolver creates a resolver with the server-held token secret.
func NewResolver(secret []byte) *Resolver {
	return &Resolver{key: secret, now: time.Now}
}

// Issue mints a signed token for the principal.
func (r *Resolver) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	now := r.now()
	claims := Claims{
		Subject:     p.ID,
		Role:        p.Role,
		VillageID:   p.VillageID,
		OperatorID:  p.OperatorID,
		Designation: p.Designation,
		IsPrimary:   p.IsPrimary,
		Approved:    p.Approved,
		Balance:     p.Balance,
		IssuedAt:    now.UnixMilli(),
		ExpiresAt:   now.Add(ttl).UnixMilli(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + r.sign(body), nil
}

// Resolve verifies a token and returns the principal behind it.
func (r *Resolver) Resolve(token string) (*domain.Principal, error) {
	body, mac, ok := strings.Cut(token, ".")
	if !ok || body == "" || mac == "" {
		return nil, domain.ErrUnauthenticated
	}
	if !hmac.Equal([]byte(r.sign(body)), []byte(mac)) {
		return nil, domain.ErrUnauthenticated
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, domain.ErrUnauthenticated
	}
	if !claims.Role.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	if claims.ExpiresAt <= r.now().UnixMilli() {
		return nil, domain.ErrUnauthenticated
	}

	return &domain.Principal{
		ID:          claims.Subject,
		Role:        claims.Role,
		VillageID:   claims.VillageID,
		OperatorID:  claims.OperatorID,
		Designation: claims.Designation,
		IsPrimary:   claims.IsPrimary,
		Approved:    claims.Approved,
		Balance:     claims.Balance,
	}, nil
}

func (r *Resolver) sign(body string) string {
	mac := hmac.New(sha256.New, r.key)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// ─── Role Gates ─────────────────────────────────────────────────────────────
// Pure policy checks; callers re-query the account store for freshness
// where it matters.

// RequireMinRole fails unless the principal meets the minimum role in the
// hierarchy applicant < village_admin < system_admin < super_admin.
func RequireMinRole(p *domain.Principal, min domain.Role) error {
	if p == nil {
		return domain.ErrUnauthenticated
	}
	if !p.Role.AtLeast(min) {
		return domain.ErrForbidden
	}
	return nil
}

// RequireRole fails unless the principal holds exactly one of the roles.
func RequireRole(p *domain.Principal, roles ...domain.Role) error {
	if p == nil {
		return domain.ErrUnauthenticated
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return domain.ErrForbidden
}

// RequireApproved fails unless the principal is an approved applicant.
func RequireApproved(p *domain.Principal) error {
	if p == nil {
		return domain.ErrUnauthenticated
	}
	if p.Role != domain.RoleApplicant || !p.Approved {
		return domain.ErrForbidden
	}
	return nil
}

// RequireSameVillage fails unless the principal is scoped to the village.
// Super and system admins are village-unscoped and always pass.
func RequireSameVillage(p *domain.Principal, villageID string) error {
	if p == nil {
		return domain.ErrUnauthenticated
	}
	if p.Role.AtLeast(domain.RoleSystemAdmin) {
		return nil
	}
	if p.VillageID != villageID {
		return domain.ErrForbidden
	}
	return nil
}
