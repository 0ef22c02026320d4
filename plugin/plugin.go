// Package plugin lets extensions observe Coffer events. Hooks run after the
// owning transaction has committed and can never change its outcome.
package plugin

import (
	"context"

	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletApplied is called once per newly committed wallet entry.
type OnWalletApplied interface {
	Plugin
	OnWalletApplied(ctx context.Context, entry *wallet.Entry) error
}

// OnWalletReplayed is called when an idempotency key matched an existing
// entry and nothing was mutated.
type OnWalletReplayed interface {
	Plugin
	OnWalletReplayed(ctx context.Context, entry *wallet.Entry) error
}

// OnInsufficientBalance is called when a debit was refused.
type OnInsufficientBalance interface {
	Plugin
	OnInsufficientBalance(ctx context.Context, userID string, delta int64, reason wallet.Reason) error
}

// OnIdempotencyConflict is called when a key was presented by a user other
// than its owner.
type OnIdempotencyConflict interface {
	Plugin
	OnIdempotencyConflict(ctx context.Context, userID, idempotencyKey string) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnUnlocked is called for every newly created grant. entry is the purchase
// debit, or nil for free and subscription grants.
type OnUnlocked interface {
	Plugin
	OnUnlocked(ctx context.Context, grant *entitlement.Grant, entry *wallet.Entry) error
}

// OnAlreadyUnlocked is called when an unlock found an existing grant.
type OnAlreadyUnlocked interface {
	Plugin
	OnAlreadyUnlocked(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a subscription period is recorded.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, period *subscription.Period) error
}

// ──────────────────────────────────────────────────
// Engagement hooks
// ──────────────────────────────────────────────────

// OnEngagementFailed is called when the engagement recorder returned an
// error or panicked. The unlock it belonged to has already succeeded.
type OnEngagementFailed interface {
	Plugin
	OnEngagementFailed(ctx context.Context, userID string, catalog entitlement.Catalog, err error) error
}
