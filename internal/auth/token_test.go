package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gramseva/points/internal/domain"
)

func TestIssueResolve(t *testing.T) {
	r := NewResolver([]byte("secret"))
	p := domain.Principal{
		ID: "u1", Role: domain.RoleVillageAdmin, VillageID: "v1",
		OperatorID: "op1", Designation: "sarpanch", IsPrimary: true,
		Approved: true, Balance: 250,
	}

	token, err := r.Issue(p, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	got, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if *got != p {
		t.Errorf("round trip %+v, want %+v", *got, p)
	}
}

func TestResolve_Garbage(t *testing.T) {
	r := NewResolver([]byte("secret"))
	for _, token := range []string{
		"", "no-dot", ".", "a.", ".b",
		"not-base64!!!.deadbeef",
	} {
		if _, err := r.Resolve(token); err != domain.ErrUnauthenticated {
			t.Errorf("Resolve(%q) err = %v, want ErrUnauthenticated", token, err)
		}
	}
}

func TestResolve_WrongKey(t *testing.T) {
	token, _ := NewResolver([]byte("key-a")).Issue(
		domain.Principal{ID: "u1", Role: domain.RoleApplicant}, time.Hour)
	if _, err := NewResolver([]byte("key-b")).Resolve(token); err != domain.ErrUnauthenticated {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolve_TamperedBody(t *testing.T) {
	r := NewResolver([]byte("secret"))
	token, _ := r.Issue(domain.Principal{ID: "u1", Role: domain.RoleApplicant}, time.Hour)

	body, mac, _ := strings.Cut(token, ".")
	// Any body change must break the MAC.
	tampered := body[:len(body)-1] + "A." + mac
	if tampered == token {
		tampered = body[:len(body)-1] + "B." + mac
	}
	if _, err := r.Resolve(tampered); err != domain.ErrUnauthenticated {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolve_Expired(t *testing.T) {
	r := NewResolver([]byte("secret"))
	base := time.UnixMilli(1700000000000)
	r.now = func() time.Time { return base }

	token, _ := r.Issue(domain.Principal{ID: "u1", Role: domain.RoleApplicant}, time.Minute)

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := r.Resolve(token); err != domain.ErrUnauthenticated {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolve_UnknownRoleRejected(t *testing.T) {
	r := NewResolver([]byte("secret"))
	token, _ := r.Issue(domain.Principal{ID: "u1", Role: domain.Role("overlord")}, time.Hour)
	if _, err := r.Resolve(token); err != domain.ErrUnauthenticated {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

// ─── Gates ──────────────────────────────────────────────────────────────────

func TestRequireMinRole(t *testing.T) {
	if err := RequireMinRole(nil, domain.RoleApplicant); err != domain.ErrUnauthenticated {
		t.Errorf("nil principal err = %v", err)
	}
	admin := &domain.Principal{Role: domain.RoleSystemAdmin}
	if err := RequireMinRole(admin, domain.RoleVillageAdmin); err != nil {
		t.Errorf("system_admin vs village_admin gate: %v", err)
	}
	applicant := &domain.Principal{Role: domain.RoleApplicant}
	if err := RequireMinRole(applicant, domain.RoleSystemAdmin); err != domain.ErrForbidden {
		t.Errorf("applicant vs system_admin gate err = %v, want ErrForbidden", err)
	}
}

func TestRequireApproved(t *testing.T) {
	if err := RequireApproved(&domain.Principal{Role: domain.RoleApplicant, Approved: true}); err != nil {
		t.Errorf("approved applicant: %v", err)
	}
	if err := RequireApproved(&domain.Principal{Role: domain.RoleApplicant}); err != domain.ErrForbidden {
		t.Errorf("unapproved applicant err = %v, want ErrForbidden", err)
	}
	// Approval is an applicant concept; other roles never pass this gate.
	if err := RequireApproved(&domain.Principal{Role: domain.RoleSuperAdmin, Approved: true}); err != domain.ErrForbidden {
		t.Errorf("super_admin err = %v, want ErrForbidden", err)
	}
}

func TestRequireSameVillage(t *testing.T) {
	va := &domain.Principal{Role: domain.RoleVillageAdmin, VillageID: "v1"}
	if err := RequireSameVillage(va, "v1"); err != nil {
		t.Errorf("same village: %v", err)
	}
	if err := RequireSameVillage(va, "v2"); err != domain.ErrForbidden {
		t.Errorf("other village err = %v, want ErrForbidden", err)
	}
	sys := &domain.Principal{Role: domain.RoleSystemAdmin}
	if err := RequireSameVillage(sys, "v2"); err != nil {
		t.Errorf("system admin should be village-unscoped: %v", err)
	}
}

// ─── Middleware ─────────────────────────────────────────────────────────────

func TestMiddleware(t *testing.T) {
	r := NewResolver([]byte("secret"))
	token, _ := r.Issue(domain.Principal{ID: "u1", Role: domain.RoleApplicant, Approved: true}, time.Hour)

	var seen *domain.Principal
	handler := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = PrincipalFrom(req.Context())
	}))

	// Authorization header.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.ID != "u1" {
		t.Fatalf("principal via header = %+v", seen)
	}

	// Session cookie.
	seen = nil
	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "gramseva_session", Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.ID != "u1" {
		t.Fatalf("principal via cookie = %+v", seen)
	}

	// No credential: the request passes through unauthenticated.
	seen = &domain.Principal{}
	req = httptest.NewRequest("GET", "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != nil {
		t.Errorf("principal without credential = %+v, want nil", seen)
	}

	// A forged token also passes through as unauthenticated, not as an error.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer forged.token")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != nil {
		t.Errorf("principal with forged token = %+v, want nil", seen)
	}
}
