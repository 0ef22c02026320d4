package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// Unlock sources as reported to clients.
const (
	SourceAlready  = "ALREADY"
	SourceFree     = "FREE"
	SourcePurchase = "PURCHASE"
)

type unlockRequest struct {
	Catalog       string `json:"catalog"`
	ContentUnitID string `json:"content_unit_id"`
}

type unlockResponse struct {
	Unlocked    bool   `json:"unlocked"`
	Source      string `json:"source"`
	GrantSource string `json:"grant_source,omitempty"`
	Balance     *int64 `json:"balance,omitempty"`
}

type consumeRequest struct {
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type creditRequest struct {
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	PaymentToken string `json:"payment_token"`
	Provider     string `json:"provider"`
}

type applyResponse struct {
	BalanceAfter int64         `json:"balance_after"`
	Idempotent   bool          `json:"idempotent"`
	Entry        *wallet.Entry `json:"entry"`
}

type subscribeRequest struct {
	Plan       string `json:"plan"`
	PaymentRef string `json:"payment_ref"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.coffer.Store().Ping(r.Context()); err != nil {
		h.fail(w, r, "health", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.coffer.UnlockUnit(r.Context(), userFromContext(r.Context()),
		entitlement.Catalog(req.Catalog), req.ContentUnitID)
	if err != nil {
		h.fail(w, r, "unlock", err)
		return
	}

	resp := unlockResponse{Unlocked: true, GrantSource: string(res.Source)}
	switch res.Outcome {
	case coffer.OutcomeAlreadyUnlocked:
		resp.Source = SourceAlready
	case coffer.OutcomeUnlockedFree:
		resp.Source = SourceFree
	case coffer.OutcomeUnlockedByPurchase:
		resp.Source = SourcePurchase
		balance := res.BalanceAfter
		resp.Balance = &balance
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.coffer.Consume(r.Context(), userFromContext(r.Context()),
		req.Amount, wallet.Reason(req.Reason), req.IdempotencyKey)
	if err != nil {
		h.fail(w, r, "consume", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyResponse(res))
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.coffer.CreditFrom(r.Context(), req.Provider, req.UserID, req.Amount, req.PaymentToken)
	if err != nil {
		h.fail(w, r, "credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyResponse(res))
}

func toApplyResponse(res *coffer.ApplyResult) applyResponse {
	return applyResponse{
		BalanceAfter: res.BalanceAfter,
		Idempotent:   res.Replayed,
		Entry:        res.Entry,
	}
}

func (h *Handler) wallet(w http.ResponseWriter, r *http.Request) {
	balance, err := h.coffer.Balance(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) walletEntries(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	entries, err := h.coffer.History(r.Context(), userFromContext(r.Context()),
		wallet.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		h.fail(w, r, "wallet_entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) entitlements(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	grants, err := h.coffer.ListGrants(r.Context(), userFromContext(r.Context()), entitlement.ListOpts{
		Catalog: entitlement.Catalog(r.URL.Query().Get("catalog")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.fail(w, r, "entitlements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *Handler) premium(w http.ResponseWriter, r *http.Request) {
	p, err := h.coffer.ActiveSubscription(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "premium", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) plans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]subscription.Plan{"plans": h.coffer.Plans()})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.coffer.Subscribe(r.Context(), userFromContext(r.Context()), req.Plan, req.PaymentRef)
	if err != nil {
		h.fail(w, r, "subscribe", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) engagement(w http.ResponseWriter, r *http.Request) {
	sum, err := h.coffer.Engagement(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "engagement", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := paging(w, r)
	if !ok {
		return
	}
	top, err := h.coffer.Leaderboard(r.Context(), entitlement.Catalog(r.URL.Query().Get("catalog")), limit)
	if err != nil {
		h.fail(w, r, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaders": top})
}

// decode reads a JSON body into v, answering 400 on malformed input.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

// paging parses the optional limit and offset query parameters.
func paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid "+p.name)
			return 0, 0, false
		}
		*p.dst = n
	}
	return limit, offset, true
}
