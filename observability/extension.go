// Package observability provides a metrics extension for Coffer that records
// event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnWalletApplied       = (*MetricsExtension)(nil)
	_ plugin.OnWalletReplayed      = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientBalance = (*MetricsExtension)(nil)
	_ plugin.OnIdempotencyConflict = (*MetricsExtension)(nil)
	_ plugin.OnUnlocked            = (*MetricsExtension)(nil)
	_ plugin.OnAlreadyUnlocked     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated = (*MetricsExtension)(nil)
	_ plugin.OnEngagementFailed    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records engine-wide event metrics.
// Register it as a Coffer plugin to track wallet and unlock activity.
type MetricsExtension struct {
	factory MetricFactory

	// Wallet metrics
	CoinsCredited       Counter
	CoinsDebited        Counter
	WalletCredits       Counter
	WalletDebits        Counter
	WalletReplays       Counter
	InsufficientBalance Counter
	IdempotencyConflict Counter

	// Unlock metrics
	UnlocksFree         Counter
	UnlocksSubscription Counter
	UnlocksPurchase     Counter
	UnlocksAlready      Counter
	UnlockPrice         Histogram

	// Subscription metrics
	SubscriptionCreated Counter
	SubscriptionRevenue Counter

	// Engagement metrics
	EngagementFailures Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Wallet metrics
		CoinsCredited:       factory.Counter("coffer.wallet.coins.credited"),
		CoinsDebited:        factory.Counter("coffer.wallet.coins.debited"),
		WalletCredits:       factory.Counter("coffer.wallet.credits"),
		WalletDebits:        factory.Counter("coffer.wallet.debits"),
		WalletReplays:       factory.Counter("coffer.wallet.replays"),
		InsufficientBalance: factory.Counter("coffer.wallet.insufficient_balance"),
		IdempotencyConflict: factory.Counter("coffer.wallet.idempotency_conflicts"),

		// Unlock metrics
		UnlocksFree:         factory.Counter("coffer.unlock.free"),
		UnlocksSubscription: factory.Counter("coffer.unlock.subscription"),
		UnlocksPurchase:     factory.Counter("coffer.unlock.purchase"),
		UnlocksAlready:      factory.Counter("coffer.unlock.already_unlocked"),
		UnlockPrice:         factory.Histogram("coffer.unlock.price"),

		// Subscription metrics
		SubscriptionCreated: factory.Counter("coffer.subscription.created"),
		SubscriptionRevenue: factory.Counter("coffer.subscription.revenue"),

		// Engagement metrics
		EngagementFailures: factory.Counter("coffer.engagement.failures"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletApplied implements plugin.OnWalletApplied.
func (m *MetricsExtension) OnWalletApplied(_ context.Context, entry *wallet.Entry) error {
	if entry.Delta >= 0 {
		m.WalletCredits.Inc()
		m.CoinsCredited.Add(float64(entry.Delta))
		return nil
	}
	m.WalletDebits.Inc()
	m.CoinsDebited.Add(float64(-entry.Delta))
	return nil
}

// OnWalletReplayed implements plugin.OnWalletReplayed.
func (m *MetricsExtension) OnWalletReplayed(_ context.Context, _ *wallet.Entry) error {
	m.WalletReplays.Inc()
	return nil
}

// OnInsufficientBalance implements plugin.OnInsufficientBalance.
func (m *MetricsExtension) OnInsufficientBalance(_ context.Context, _ string, _ int64, _ wallet.Reason) error {
	m.InsufficientBalance.Inc()
	return nil
}

// OnIdempotencyConflict implements plugin.OnIdempotencyConflict.
func (m *MetricsExtension) OnIdempotencyConflict(_ context.Context, _, _ string) error {
	m.IdempotencyConflict.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Unlock hooks
// ──────────────────────────────────────────────────

// OnUnlocked implements plugin.OnUnlocked.
func (m *MetricsExtension) OnUnlocked(_ context.Context, grant *entitlement.Grant, entry *wallet.Entry) error {
	switch grant.Source {
	case entitlement.SourceFree:
		m.UnlocksFree.Inc()
	case entitlement.SourceSubscription:
		m.UnlocksSubscription.Inc()
	case entitlement.SourcePurchase:
		m.UnlocksPurchase.Inc()
		if entry != nil {
			m.UnlockPrice.Observe(float64(-entry.Delta))
		}
	}
	return nil
}

// OnAlreadyUnlocked implements plugin.OnAlreadyUnlocked.
func (m *MetricsExtension) OnAlreadyUnlocked(_ context.Context, _ string, _ entitlement.Catalog, _ string) error {
	m.UnlocksAlready.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, period *subscription.Period) error {
	m.SubscriptionCreated.Inc()
	m.SubscriptionRevenue.Add(float64(period.Price))
	return nil
}

// ──────────────────────────────────────────────────
// Engagement hooks
// ──────────────────────────────────────────────────

// OnEngagementFailed implements plugin.OnEngagementFailed.
func (m *MetricsExtension) OnEngagementFailed(_ context.Context, _ string, _ entitlement.Catalog, _ error) error {
	m.EngagementFailures.Inc()
	return nil
}
