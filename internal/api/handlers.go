package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gramseva/points/internal/app/ledger"
	"github.com/gramseva/points/internal/app/pinauth"
	"github.com/gramseva/points/internal/auth"
	"github.com/gramseva/points/internal/domain"
)

// principal resolves the caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) *domain.Principal {
	p := auth.PrincipalFrom(r.Context())
	if p == nil {
		writeError(w, domain.ErrUnauthenticated)
		return nil
	}
	return p
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("bad_request", "malformed JSON body"))
		return false
	}
	return true
}

// ─── Ledger Handlers ────────────────────────────────────────────────────────

type creditRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Recovery  bool   `json:"recovery,omitempty"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireMinRole(p, domain.RoleSystemAdmin); err != nil {
		writeError(w, err)
		return
	}

	var req creditRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.ledger.Credit(r.Context(), ledger.CreditRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		IssuerID:    p.ID,
		Recovery:    req.Recovery,
		SubmitterIP: r.RemoteAddr,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type debitRequest struct {
	ApplicationID string `json:"application_id,omitempty"`
	Reason        string `json:"reason"`
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireApproved(p); err != nil {
		writeError(w, err)
		return
	}

	var req debitRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.ledger.Debit(r.Context(), ledger.DebitRequest{
		AccountID:     p.ID,
		ApplicationID: req.ApplicationID,
		Reason:        req.Reason,
		SubmitterIP:   r.RemoteAddr,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireApproved(p); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.ledger.Refund(r.Context(), p.ID, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type linkRequest struct {
	TxHash        string `json:"tx_hash"`
	ApplicationID string `json:"application_id"`
}

// handleLinkApplication is called by the application directory once an
// application row has committed, attaching it to the fee deduction.
func (s *Server) handleLinkApplication(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireMinRole(p, domain.RoleVillageAdmin); err != nil {
		writeError(w, err)
		return
	}

	var req linkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TxHash == "" || req.ApplicationID == "" {
		writeJSON(w, http.StatusBadRequest, errBody("bad_request", "tx_hash and application_id are required"))
		return
	}
	if err := s.ledger.LinkApplication(r.Context(), req.TxHash, req.ApplicationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// canReadAccount gates balance and history reads: self, the account's
// village admin, or any system-level admin.
func canReadAccount(p *domain.Principal, acct *domain.Account) bool {
	if p.ID == acct.ID {
		return true
	}
	if p.Role == domain.RoleVillageAdmin && p.VillageID == acct.VillageID {
		return true
	}
	return p.Role.AtLeast(domain.RoleSystemAdmin)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	acct, err := s.db.GetAccount(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !canReadAccount(p, acct) {
		writeError(w, domain.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": acct.ID,
		"balance":    acct.Balance,
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	acct, err := s.db.GetAccount(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !canReadAccount(p, acct) {
		writeError(w, domain.ErrForbidden)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := s.db.ListLedgerEntries(acct.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": acct.ID,
		"entries":    entries,
	})
}

// handleVerifyEntry recomputes an entry's admin signature (auditor path).
func (s *Server) handleVerifyEntry(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireMinRole(p, domain.RoleSystemAdmin); err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.db.GetLedgerEntry(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tx_hash":         entry.TxHash,
		"hash_valid":      s.ledger.TxHash(*entry) == entry.TxHash,
		"signature_valid": s.ledger.VerifySignature(*entry),
	})
}

func (s *Server) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireMinRole(p, domain.RoleSystemAdmin); err != nil {
		writeError(w, err)
		return
	}

	status := domain.DistributionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.DistributionActive
	}
	dists, err := s.db.ListDistributions(status, 200)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"distributions": dists})
}

type payoutRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireMinRole(p, domain.RoleSuperAdmin); err != nil {
		writeError(w, err)
		return
	}

	var req payoutRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.db.MarkDistributionsPaidOut(req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"paid_out": n})
}

// ─── Voucher Handlers ───────────────────────────────────────────────────────

type generateVoucherRequest struct {
	RecipientID string `json:"recipient_id"`
	PointValue  int64  `json:"point_value"`
	Notes       string `json:"notes,omitempty"`
}

func (s *Server) handleGenerateVoucher(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req generateVoucherRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.vouchers.Generate(r.Context(), *p, req.RecipientID, req.PointValue, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"code":       v.Code,
		"expires_ms": v.ExpiresMS,
	})
}

type redeemVoucherRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemVoucher(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req redeemVoucherRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.vouchers.Redeem(r.Context(), *p, req.Code, r.RemoteAddr, r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelVoucher(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := s.vouchers.Cancel(r.Context(), *p, chi.URLParam(r, "code")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleVoucherQuota(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireMinRole(p, domain.RoleSystemAdmin); err != nil {
		writeError(w, err)
		return
	}
	q, err := s.vouchers.Quota(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ─── PIN & Operator Handlers ────────────────────────────────────────────────

type verifyPinRequest struct {
	VillageID string `json:"village_id"`
	Pin       string `json:"pin"`
}

// handleVerifyPin is the one unauthenticated mutation: it IS the login.
func (s *Server) handleVerifyPin(w http.ResponseWriter, r *http.Request) {
	var req verifyPinRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.pins.VerifyPin(r.Context(), req.VillageID, req.Pin, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type changePinRequest struct {
	CurrentPin string `json:"current_pin"`
	NewPin     string `json:"new_pin"`
}

func (s *Server) handleChangePin(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if p.OperatorID == "" {
		writeError(w, domain.ErrForbidden)
		return
	}

	var req changePinRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.pins.ChangePin(r.Context(), p.OperatorID, req.CurrentPin, req.NewPin); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pin changed"})
}

func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := auth.RequireRole(p, domain.RoleVillageAdmin); err != nil {
		writeError(w, err)
		return
	}
	ops, err := s.pins.ListOperators(r.Context(), p.VillageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operators": ops})
}

type addOperatorRequest struct {
	VillageID   string `json:"village_id,omitempty"`
	FullName    string `json:"full_name"`
	Designation string `json:"designation"`
	Phone       string `json:"phone"`
	Pin         string `json:"pin"`
	IsPrimary   bool   `json:"is_primary,omitempty"`
}

func (s *Server) handleAddOperator(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req addOperatorRequest
	if !decode(w, r, &req) {
		return
	}
	// Village primaries act on their own village; system admins name the
	// target village when provisioning.
	village := req.VillageID
	if village == "" {
		village = p.VillageID
	}
	if village == "" {
		writeJSON(w, http.StatusBadRequest, errBody("bad_request", "village_id is required"))
		return
	}
	op, err := s.pins.AddOperator(r.Context(), p, pinauth.AddOperatorRequest{
		VillageID:   village,
		FullName:    req.FullName,
		Designation: req.Designation,
		Phone:       req.Phone,
		Pin:         req.Pin,
		IsPrimary:   req.IsPrimary,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

func (s *Server) handleDeactivateOperator(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	if err := s.pins.DeactivateOperator(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
