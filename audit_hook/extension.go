// Package audithook bridges Coffer events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnWalletApplied       = (*Extension)(nil)
	_ plugin.OnWalletReplayed      = (*Extension)(nil)
	_ plugin.OnInsufficientBalance = (*Extension)(nil)
	_ plugin.OnIdempotencyConflict = (*Extension)(nil)
	_ plugin.OnUnlocked            = (*Extension)(nil)
	_ plugin.OnAlreadyUnlocked     = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated = (*Extension)(nil)
	_ plugin.OnEngagementFailed    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Coffer events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletApplied implements plugin.OnWalletApplied.
func (e *Extension) OnWalletApplied(ctx context.Context, entry *wallet.Entry) error {
	action := ActionWalletCredited
	if entry.Delta < 0 {
		action = ActionWalletDebited
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceEntry, entry.ID.String(), entry.UserID, CategoryWallet, nil,
		"delta", entry.Delta,
		"balance_after", entry.BalanceAfter,
		"reason", string(entry.Reason),
		"idempotency_key", entry.IdempotencyKey,
	)
}

// OnWalletReplayed implements plugin.OnWalletReplayed.
func (e *Extension) OnWalletReplayed(ctx context.Context, entry *wallet.Entry) error {
	return e.record(ctx, ActionWalletReplayed, SeverityInfo, OutcomeSuccess,
		ResourceEntry, entry.ID.String(), entry.UserID, CategoryWallet, nil,
		"idempotency_key", entry.IdempotencyKey,
	)
}

// OnInsufficientBalance implements plugin.OnInsufficientBalance.
func (e *Extension) OnInsufficientBalance(ctx context.Context, userID string, delta int64, reason wallet.Reason) error {
	return e.record(ctx, ActionBalanceRefused, SeverityWarning, OutcomeFailure,
		ResourceWallet, userID, userID, CategoryWallet, nil,
		"delta", delta,
		"reason", string(reason),
	)
}

// OnIdempotencyConflict implements plugin.OnIdempotencyConflict.
func (e *Extension) OnIdempotencyConflict(ctx context.Context, userID, key string) error {
	return e.record(ctx, ActionIdempotencyReused, SeverityCritical, OutcomeFailure,
		ResourceWallet, userID, userID, CategoryWallet, nil,
		"idempotency_key", key,
	)
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnUnlocked implements plugin.OnUnlocked.
func (e *Extension) OnUnlocked(ctx context.Context, grant *entitlement.Grant, entry *wallet.Entry) error {
	action := ActionUnitUnlocked
	kv := []any{
		"catalog", string(grant.Catalog),
		"unit_id", grant.UnitID,
		"source", string(grant.Source),
	}
	if entry != nil {
		action = ActionUnitPurchased
		kv = append(kv, "price", -entry.Delta, "entry_id", entry.ID.String())
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceGrant, grant.ID.String(), grant.UserID, CategoryAccess, nil,
		kv...,
	)
}

// OnAlreadyUnlocked implements plugin.OnAlreadyUnlocked.
func (e *Extension) OnAlreadyUnlocked(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) error {
	return e.record(ctx, ActionAlreadyUnlocked, SeverityInfo, OutcomeSuccess,
		ResourceGrant, "", userID, CategoryAccess, nil,
		"catalog", string(catalog),
		"unit_id", unitID,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, period *subscription.Period) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, period.ID.String(), period.UserID, CategorySubscription, nil,
		"plan", period.Plan,
		"price", period.Price,
		"end_at", period.EndAt,
		"payment_ref", period.PaymentRef,
	)
}

// ──────────────────────────────────────────────────
// Engagement hooks
// ──────────────────────────────────────────────────

// OnEngagementFailed implements plugin.OnEngagementFailed.
func (e *Extension) OnEngagementFailed(ctx context.Context, userID string, catalog entitlement.Catalog, err error) error {
	return e.record(ctx, ActionEngagementFailed, SeverityError, OutcomeFailure,
		ResourceEngagement, "", userID, CategoryEngagement, err,
		"catalog", string(catalog),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, userID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		UserID:     userID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
