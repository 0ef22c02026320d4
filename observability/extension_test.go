package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/content"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/observability"
	"github.com/xraph/coffer/store/memory"
)

func newEngine(t *testing.T) (*coffer.Coffer, *observability.MetricsExtension) {
	t.Helper()

	dir, err := content.NewStaticDirectory(
		content.Unit{ID: "ep-1", Catalog: entitlement.CatalogDigital, Price: 40, AdminLocked: true},
		content.Unit{ID: "ep-2", Catalog: entitlement.CatalogDigital, IsFree: true},
		content.Unit{ID: "ep-3", Catalog: entitlement.CatalogMotion, Price: 500, AdminLocked: true},
	)
	require.NoError(t, err)

	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(prometheus.NewRegistry()))
	c := coffer.New(memory.New(), coffer.WithDirectory(dir), coffer.WithPlugin(m))
	return c, m
}

func value(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	require.True(t, ok)
	return testutil.ToFloat64(pc)
}

func TestWalletMetrics(t *testing.T) {
	c, m := newEngine(t)
	ctx := context.Background()

	_, err := c.Credit(ctx, "u1", 100, "pay-1")
	require.NoError(t, err)
	_, err = c.Credit(ctx, "u1", 100, "pay-1")
	require.NoError(t, err)
	_, err = c.Consume(ctx, "u1", 30, "", "gift-1")
	require.NoError(t, err)
	_, err = c.Consume(ctx, "u1", 300, "", "gift-2")
	require.ErrorIs(t, err, coffer.ErrInsufficientBalance)
	_, err = c.Credit(ctx, "u2", 5, "pay-1")
	require.ErrorIs(t, err, coffer.ErrIdempotencyConflict)

	assert.Equal(t, 1.0, value(t, m.WalletCredits))
	assert.Equal(t, 100.0, value(t, m.CoinsCredited))
	assert.Equal(t, 1.0, value(t, m.WalletDebits))
	assert.Equal(t, 30.0, value(t, m.CoinsDebited))
	assert.Equal(t, 1.0, value(t, m.WalletReplays))
	assert.Equal(t, 1.0, value(t, m.InsufficientBalance))
	assert.Equal(t, 1.0, value(t, m.IdempotencyConflict))
}

func TestUnlockMetrics(t *testing.T) {
	c, m := newEngine(t)
	ctx := context.Background()

	_, err := c.Credit(ctx, "u1", 100, "pay-1")
	require.NoError(t, err)

	_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
	require.NoError(t, err)
	_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
	require.NoError(t, err)
	_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-2")
	require.NoError(t, err)

	_, err = c.Subscribe(ctx, "u2", "3_month", "ref-1")
	require.NoError(t, err)
	_, err = c.UnlockUnit(ctx, "u2", entitlement.CatalogMotion, "ep-3")
	require.NoError(t, err)

	assert.Equal(t, 1.0, value(t, m.UnlocksPurchase))
	assert.Equal(t, 1.0, value(t, m.UnlocksAlready))
	assert.Equal(t, 1.0, value(t, m.UnlocksFree))
	assert.Equal(t, 1.0, value(t, m.UnlocksSubscription))
	assert.Equal(t, 1.0, value(t, m.SubscriptionCreated))
	assert.Equal(t, 349.0, value(t, m.SubscriptionRevenue))
}

func TestEngagementFailureMetric(t *testing.T) {
	_, m := newEngine(t)
	require.NoError(t, m.OnEngagementFailed(context.Background(), "u1", entitlement.CatalogDigital, errors.New("boom")))
	assert.Equal(t, 1.0, value(t, m.EngagementFailures))
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := observability.NewPrometheusFactory(reg).Counter("coffer.unlock.purchase")
	second := observability.NewPrometheusFactory(reg).Counter("coffer.unlock.purchase")
	first.Inc()
	second.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "coffer_unlock_purchase_total", families[0].GetName())
	assert.Equal(t, 2.0, families[0].GetMetric()[0].GetCounter().GetValue())
}
