package pinauth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gramseva/points/internal/audit"
	"github.com/gramseva/points/internal/auth"
	"github.com/gramseva/points/internal/domain"
	"github.com/gramseva/points/internal/infra/sqlite"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *sqlite.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost // keep the test suite fast
	a := New(db, cfg, auth.NewResolver([]byte("token-key")), audit.New(db))
	return a, db
}

func addOperator(t *testing.T, db *sqlite.DB, cost int, id, village, phone, pin string, primary bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		t.Fatal(err)
	}
	err = db.InsertOperator(domain.Operator{
		ID: id, VillageID: village, FullName: "Operator " + id,
		Designation: "clerk", Phone: phone, PinHash: string(hash),
		IsPrimary: primary, IsActive: true,
	})
	if err != nil {
		t.Fatalf("InsertOperator(%s) error: %v", id, err)
	}
}

// ─── VerifyPin ──────────────────────────────────────────────────────────────

func TestVerifyPin(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)
	addOperator(t, db, bcrypt.MinCost, "op2", "v1", "200", "5678", false)

	sess, err := a.VerifyPin(context.Background(), "v1", "5678", "1.2.3.4")
	if err != nil {
		t.Fatalf("VerifyPin() error: %v", err)
	}
	if sess.OperatorID != "op2" {
		t.Errorf("OperatorID = %q, want op2", sess.OperatorID)
	}
	if sess.IsPrimary {
		t.Error("op2 is not primary")
	}
	if sess.Token == "" {
		t.Fatal("no session token issued")
	}

	// The token must resolve to a village-admin principal scoped to the
	// matched operator.
	p, err := auth.NewResolver([]byte("token-key")).Resolve(sess.Token)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if p.Role != domain.RoleVillageAdmin || p.VillageID != "v1" || p.OperatorID != "op2" {
		t.Errorf("principal = %+v", p)
	}
}

func TestVerifyPin_NoOperators(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	_, err := a.VerifyPin(context.Background(), "empty-village", "1234", "")
	if err != domain.ErrNoOperators {
		t.Errorf("err = %v, want ErrNoOperators", err)
	}
}

func TestVerifyPin_WrongPinGeneric(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)

	_, err := a.VerifyPin(context.Background(), "v1", "0000", "")
	if err != domain.ErrInvalidPin {
		t.Errorf("err = %v, want ErrInvalidPin", err)
	}
}

func TestVerifyPin_LockoutSequence(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)
	base := time.UnixMilli(1700000000000)
	a.now = func() time.Time { return base }

	// Three village-wide failures lock the operator.
	for i := 0; i < 3; i++ {
		if _, err := a.VerifyPin(context.Background(), "v1", "0000", ""); err != domain.ErrInvalidPin {
			t.Fatalf("attempt %d err = %v", i+1, err)
		}
	}

	// Even the correct PIN is refused during the lockout window: the
	// locked operator is skipped and the caller sees the same generic
	// error as any wrong PIN.
	if _, err := a.VerifyPin(context.Background(), "v1", "1234", ""); err != domain.ErrInvalidPin {
		t.Fatalf("locked verify err = %v, want ErrInvalidPin", err)
	}

	// After the window the lock clears and the PIN works again.
	a.now = func() time.Time { return base.Add(11 * time.Minute) }
	sess, err := a.VerifyPin(context.Background(), "v1", "1234", "")
	if err != nil {
		t.Fatalf("post-window verify error: %v", err)
	}
	if sess.OperatorID != "op1" {
		t.Errorf("OperatorID = %q, want op1", sess.OperatorID)
	}
}

func TestVerifyPin_SecondLockoutDemandsReset(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)
	base := time.UnixMilli(1700000000000)

	// First lockout.
	a.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		a.VerifyPin(context.Background(), "v1", "0000", "")
	}

	// Auto-unlock, then a second lockout in a row.
	a.now = func() time.Time { return base.Add(11 * time.Minute) }
	for i := 0; i < 3; i++ {
		a.VerifyPin(context.Background(), "v1", "0000", "")
	}

	// After the second window the unlock demands a PIN reset; not even
	// the correct PIN gets through until it happens.
	a.now = func() time.Time { return base.Add(22 * time.Minute) }
	if _, err := a.VerifyPin(context.Background(), "v1", "1234", ""); err != domain.ErrInvalidPin {
		t.Fatalf("reset-pending verify err = %v, want ErrInvalidPin", err)
	}

	// ChangePin lifts the demand.
	if err := a.ChangePin(context.Background(), "op1", "1234", "4321"); err != nil {
		t.Fatalf("ChangePin() error: %v", err)
	}
	if _, err := a.VerifyPin(context.Background(), "v1", "4321", ""); err != nil {
		t.Errorf("post-reset verify error: %v", err)
	}
}

func TestVerifyPin_SuccessResetsCounters(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)

	a.VerifyPin(context.Background(), "v1", "0000", "")
	a.VerifyPin(context.Background(), "v1", "0000", "")
	if _, err := a.VerifyPin(context.Background(), "v1", "1234", ""); err != nil {
		t.Fatalf("VerifyPin() error: %v", err)
	}

	// Two fresh failures must not lock: the success cleared the count.
	a.VerifyPin(context.Background(), "v1", "0000", "")
	a.VerifyPin(context.Background(), "v1", "0000", "")
	if _, err := a.VerifyPin(context.Background(), "v1", "1234", ""); err != nil {
		t.Errorf("verify after reset error: %v", err)
	}
}

func TestVerifyPin_PrimaryWinsTie(t *testing.T) {
	a, db := newTestAuthenticator(t)
	// Same PIN on both operators: the primary must win.
	addOperator(t, db, bcrypt.MinCost, "op2", "v1", "200", "1234", false)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)

	sess, err := a.VerifyPin(context.Background(), "v1", "1234", "")
	if err != nil {
		t.Fatalf("VerifyPin() error: %v", err)
	}
	if sess.OperatorID != "op1" {
		t.Errorf("OperatorID = %q, want the primary op1", sess.OperatorID)
	}
}

// ─── ChangePin ──────────────────────────────────────────────────────────────

func TestChangePin(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)

	if err := a.ChangePin(context.Background(), "op1", "9999", "4321"); err != domain.ErrCurrentPinIncorrect {
		t.Errorf("wrong current err = %v, want ErrCurrentPinIncorrect", err)
	}
	for _, bad := range []string{"123", "12345", "abcd", ""} {
		if err := a.ChangePin(context.Background(), "op1", "1234", bad); err != domain.ErrInvalidPinFormat {
			t.Errorf("ChangePin(new=%q) err = %v, want ErrInvalidPinFormat", bad, err)
		}
	}

	if err := a.ChangePin(context.Background(), "op1", "1234", "4321"); err != nil {
		t.Fatalf("ChangePin() error: %v", err)
	}
	if _, err := a.VerifyPin(context.Background(), "v1", "4321", ""); err != nil {
		t.Errorf("verify with new PIN error: %v", err)
	}
	if _, err := a.VerifyPin(context.Background(), "v1", "1234", ""); err != domain.ErrInvalidPin {
		t.Errorf("verify with old PIN err = %v, want ErrInvalidPin", err)
	}
}

// ─── Operator Management ────────────────────────────────────────────────────

func TestAddOperator(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	primary := &domain.Principal{
		ID: "v1", Role: domain.RoleVillageAdmin, VillageID: "v1",
		OperatorID: "op1", IsPrimary: true,
	}

	op, err := a.AddOperator(context.Background(), primary, AddOperatorRequest{
		VillageID: "v1", FullName: "Sita Devi", Designation: "sarpanch",
		Phone: "300", Pin: "2468",
	})
	if err != nil {
		t.Fatalf("AddOperator() error: %v", err)
	}
	if op.ID == "" {
		t.Error("no operator id assigned")
	}

	sess, err := a.VerifyPin(context.Background(), "v1", "2468", "")
	if err != nil {
		t.Fatalf("VerifyPin() for new operator error: %v", err)
	}
	if sess.OperatorID != op.ID {
		t.Errorf("OperatorID = %q, want %q", sess.OperatorID, op.ID)
	}
}

func TestAddOperator_NonPrimaryForbidden(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	caller := &domain.Principal{
		ID: "v1", Role: domain.RoleVillageAdmin, VillageID: "v1",
		OperatorID: "op2", IsPrimary: false,
	}
	_, err := a.AddOperator(context.Background(), caller, AddOperatorRequest{
		VillageID: "v1", FullName: "X", Phone: "400", Pin: "1111",
	})
	if err != domain.ErrForbidden {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestDeactivateOperator(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)
	addOperator(t, db, bcrypt.MinCost, "op2", "v1", "200", "5678", false)
	primary := &domain.Principal{
		ID: "v1", Role: domain.RoleVillageAdmin, VillageID: "v1",
		OperatorID: "op1", IsPrimary: true,
	}

	if err := a.DeactivateOperator(context.Background(), primary, "op2"); err != nil {
		t.Fatalf("DeactivateOperator() error: %v", err)
	}
	if _, err := a.VerifyPin(context.Background(), "v1", "5678", ""); err != domain.ErrInvalidPin {
		t.Errorf("deactivated operator verify err = %v, want ErrInvalidPin", err)
	}

	if err := a.DeactivateOperator(context.Background(), primary, "op1"); err != domain.ErrPrimaryOperator {
		t.Errorf("deactivating primary err = %v, want ErrPrimaryOperator", err)
	}
}

func TestDeactivateOperator_OtherVillage(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)
	addOperator(t, db, bcrypt.MinCost, "op2", "v1", "200", "5678", false)
	addOperator(t, db, bcrypt.MinCost, "op3", "v2", "300", "9999", true)
	v2Primary := &domain.Principal{
		ID: "v2", Role: domain.RoleVillageAdmin, VillageID: "v2",
		OperatorID: "op3", IsPrimary: true,
	}

	// A primary's reach ends at its village boundary.
	err := a.DeactivateOperator(context.Background(), v2Primary, "op2")
	if err != domain.ErrOperatorNotFound {
		t.Fatalf("cross-village deactivate err = %v, want ErrOperatorNotFound", err)
	}
	if _, err := a.VerifyPin(context.Background(), "v1", "5678", ""); err != nil {
		t.Errorf("v1 operator can no longer log in: %v", err)
	}
}

func TestAddOperator_SecondPrimaryRejected(t *testing.T) {
	a, db := newTestAuthenticator(t)
	addOperator(t, db, bcrypt.MinCost, "op1", "v1", "100", "1234", true)
	primary := &domain.Principal{
		ID: "v1", Role: domain.RoleVillageAdmin, VillageID: "v1",
		OperatorID: "op1", IsPrimary: true,
	}

	_, err := a.AddOperator(context.Background(), primary, AddOperatorRequest{
		VillageID: "v1", FullName: "Sita Devi", Phone: "300", Pin: "2468",
		IsPrimary: true,
	})
	if err != domain.ErrPrimaryExists {
		t.Errorf("err = %v, want ErrPrimaryExists", err)
	}
}

func TestAddOperator_SystemAdminProvisionsFirstPrimary(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	admin := &domain.Principal{ID: "admin1", Role: domain.RoleSystemAdmin}

	op, err := a.AddOperator(context.Background(), admin, AddOperatorRequest{
		VillageID: "v9", FullName: "Ram Lal", Designation: "sarpanch",
		Phone: "100", Pin: "1234", IsPrimary: true,
	})
	if err != nil {
		t.Fatalf("AddOperator() error: %v", err)
	}
	if !op.IsPrimary {
		t.Error("provisioned operator is not primary")
	}

	sess, err := a.VerifyPin(context.Background(), "v9", "1234", "")
	if err != nil {
		t.Fatalf("VerifyPin() error: %v", err)
	}
	if !sess.IsPrimary {
		t.Error("session does not carry primary flag")
	}
}
