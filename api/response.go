package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/coffer"
)

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: message, Code: code})
}

// mapError translates engine errors into a status and a stable error code.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, coffer.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance", "insufficient balance"
	case errors.Is(err, coffer.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown_plan", err.Error()
	case errors.Is(err, coffer.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, coffer.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", "idempotency key already used by another user"
	case errors.Is(err, coffer.ErrUnlockKeyCollision):
		return http.StatusConflict, "unlock_key_collision", "unit id already purchased in the other catalog"
	case errors.Is(err, coffer.ErrSubscriptionActive):
		return http.StatusConflict, "subscription_active", "subscription already active"
	case errors.Is(err, coffer.ErrNoActiveSubscription):
		return http.StatusNotFound, "no_active_subscription", "no active subscription"
	case coffer.IsNotFound(err):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, coffer.ErrTransactionFailed), errors.Is(err, coffer.ErrStoreClosed):
		return http.StatusServiceUnavailable, "transient", "temporarily unavailable, retry with the same idempotency key"
	default:
		return http.StatusInternalServerError, "internal", "internal server error"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, msg := mapError(err)
	fields := []any{
		"operation", op,
		"status", status,
		"code", code,
		"user_id", userFromContext(r.Context()),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", fields...)
	} else {
		h.logger.WarnContext(r.Context(), "request failed", fields...)
	}
	writeError(w, status, code, msg)
}
