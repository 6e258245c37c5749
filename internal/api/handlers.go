package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/models"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.log.Warn("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOwnerRequest
	if _, err := readBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	name, kind := req.Fields()
	owner, err := h.svc.CreateOwner(r.Context(), name, kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/owners/%d", owner.ID))
	respondJSON(w, http.StatusCreated, models.ToOwnerResponse(owner))
}

func (h *Handler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.svc.ListOwners(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ToOwnerResponses(owners))
}

// GetOwner returns the owner with its current and previous accounts and
// advance balance.
func (h *Handler) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sum, err := h.svc.Summary(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ToOwnerSummaryResponse(sum))
}

func (h *Handler) DeleteOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteOwner(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	h.openAccount(w, r, false)
}

func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	h.openAccount(w, r, true)
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request, renew bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req models.EnrollRequest
	body, err := readBody(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := req.Input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, idem, err := idempotent(r, body, http.StatusCreated)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var acct domain.FeeAccount
	if renew {
		acct, err = h.svc.Renew(ctx, id, in)
	} else {
		acct, err = h.svc.Enroll(ctx, id, in)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondStored(w, idem, http.StatusCreated, models.ToFeeAccountResponse(acct))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req models.PaymentRequest
	body, err := readBody(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, idem, err := idempotent(r, body, http.StatusCreated)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.RecordPayment(ctx, id, req.Input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondStored(w, idem, http.StatusCreated, models.ToPaymentResponse(res))
}

func (h *Handler) UpdateFee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req models.UpdateFeeRequest
	body, err := readBody(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, idem, err := idempotent(r, body, http.StatusOK)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := h.svc.UpdateTotalFee(ctx, id, req.FeeAccountID, req.TotalFee)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondStored(w, idem, http.StatusOK, models.ToFeeAccountResponse(acct))
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req models.DepositRequest
	body, err := readBody(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, idem, err := idempotent(r, body, http.StatusCreated)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := h.svc.Deposit(ctx, id, req.Amount, money.Method(req.Method))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondStored(w, idem, http.StatusCreated, models.ToAdvanceBalanceResponse(bal))
}

func (h *Handler) UseAdvance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req models.PaymentRequest
	body, err := readBody(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, idem, err := idempotent(r, body, http.StatusCreated)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.UseAdvance(ctx, id, req.Input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondStored(w, idem, http.StatusCreated, models.ToAdvanceResponse(res))
}

func (h *Handler) ReverseAdvance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entryID, err := pathID(r, "entryId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, idem, err := idempotent(r, nil, http.StatusCreated)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.ReverseAdvance(ctx, id, entryID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondStored(w, idem, http.StatusCreated, models.ToAdvanceResponse(res))
}

// Entries lists the account's ledger, newest first.
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	accountID, err := pathID(r, "accountId")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]models.LedgerEntryResponse, 0)
	for e, err := range h.svc.History(r.Context(), id, accountID) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, models.ToLedgerEntryResponse(e))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.Audit(r.Context(), id)
	if err != nil && (report == nil || !errors.Is(err, domain.ErrLedgerMismatch)) {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		// the report names the accounts that disagree
		h.log.Error("audit found ledger mismatch",
			"request_id", requestIDFrom(r.Context()),
			"owner_id", id,
			"error", err)
		respondJSON(w, http.StatusInternalServerError, models.ToAuditResponse(report))
		return
	}
	respondJSON(w, http.StatusOK, models.ToAuditResponse(report))
}

func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req models.ExpenseRequest
	if _, err := readBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.svc.RecordExpense(r.Context(), req.Input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.ToExpenseResponse(e))
}

func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	from, to, err := reportRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.svc.Collections(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ToCollectionsResponse(rep))
}

func (h *Handler) ProfitLoss(w http.ResponseWriter, r *http.Request) {
	from, to, err := reportRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pl, err := h.svc.ProfitLoss(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ToProfitLossResponse(pl))
}

// reportRange reads from/to as RFC 3339 timestamps or plain dates. A plain
// "to" date is inclusive.
func reportRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, _, err := parseBound(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, dateOnly, err := parseBound(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dateOnly {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, fmt.Errorf("%w: from and to are required", domain.ErrInvalidInput)
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: bad time %q", domain.ErrInvalidInput, s)
	}
	return t.UTC(), false, nil
}
