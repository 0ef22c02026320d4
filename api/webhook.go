package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the payment gateway's body signature in the form
// "sha256=<hex hmac>".
const SignatureHeader = "X-Coffer-Signature"

const maxWebhookBody = 1 << 20

// Sign returns the SignatureHeader value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// requireSignature admits only requests whose body was signed with the
// webhook secret. Without a configured secret every request is refused.
func (h *Handler) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.webhookSecret == "" {
			writeError(w, http.StatusForbidden, "webhook_disabled", "payment webhook is not configured")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
			return
		}

		got := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if got == "" || !hmac.Equal([]byte(got), []byte(Sign(h.webhookSecret, body))) {
			h.logger.WarnContext(r.Context(), "webhook signature rejected",
				"path", r.URL.Path,
				"signed", got != "",
			)
			writeError(w, http.StatusUnauthorized, "invalid_signature", "missing or invalid "+SignatureHeader)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
