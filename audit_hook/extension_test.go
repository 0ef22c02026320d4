package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	audithook "github.com/xraph/coffer/audit_hook"
	"github.com/xraph/coffer/content"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/store/memory"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, ev *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Action
	}
	return out
}

func (s *sink) find(action string) *audithook.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Action == action {
			return ev
		}
	}
	return nil
}

func newEngine(t *testing.T, ext *audithook.Extension) *coffer.Coffer {
	t.Helper()
	dir, err := content.NewStaticDirectory(
		content.Unit{ID: "ep-1", Catalog: entitlement.CatalogDigital, Price: 40, AdminLocked: true},
	)
	require.NoError(t, err)
	return coffer.New(memory.New(), coffer.WithDirectory(dir), coffer.WithPlugin(ext))
}

func TestAuditTrailForPurchase(t *testing.T) {
	rec := &sink{}
	c := newEngine(t, audithook.New(rec))
	ctx := context.Background()

	_, err := c.Credit(ctx, "u1", 100, "pay-1")
	require.NoError(t, err)
	_, err = c.Credit(ctx, "u1", 100, "pay-1")
	require.NoError(t, err)
	_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
	require.NoError(t, err)
	_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		audithook.ActionWalletCredited,
		audithook.ActionWalletReplayed,
		audithook.ActionWalletDebited,
		audithook.ActionUnitPurchased,
		audithook.ActionAlreadyUnlocked,
	}, rec.actions())

	purchase := rec.find(audithook.ActionUnitPurchased)
	require.NotNil(t, purchase)
	assert.Equal(t, "u1", purchase.UserID)
	assert.Equal(t, audithook.ResourceGrant, purchase.Resource)
	assert.EqualValues(t, 40, purchase.Metadata["price"])
	assert.Equal(t, "purchase", purchase.Metadata["source"])
}

func TestAuditFailures(t *testing.T) {
	rec := &sink{}
	c := newEngine(t, audithook.New(rec))
	ctx := context.Background()

	_, err := c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
	require.ErrorIs(t, err, coffer.ErrInsufficientBalance)

	_, err = c.Credit(ctx, "u1", 10, "pay-1")
	require.NoError(t, err)
	_, err = c.Credit(ctx, "u2", 10, "pay-1")
	require.ErrorIs(t, err, coffer.ErrIdempotencyConflict)

	refused := rec.find(audithook.ActionBalanceRefused)
	require.NotNil(t, refused)
	assert.Equal(t, audithook.OutcomeFailure, refused.Outcome)
	assert.EqualValues(t, -40, refused.Metadata["delta"])

	conflict := rec.find(audithook.ActionIdempotencyReused)
	require.NotNil(t, conflict)
	assert.Equal(t, audithook.SeverityCritical, conflict.Severity)
	assert.Equal(t, "u2", conflict.UserID)
}

func TestAuditEngagementFailure(t *testing.T) {
	rec := &sink{}
	ext := audithook.New(rec)
	require.NoError(t, ext.OnEngagementFailed(context.Background(), "u1", entitlement.CatalogMotion, errors.New("boom")))

	ev := rec.find(audithook.ActionEngagementFailed)
	require.NotNil(t, ev)
	assert.Equal(t, "boom", ev.Reason)
	assert.Equal(t, "motion", ev.Metadata["catalog"])
}

func TestActionFilters(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		rec := &sink{}
		c := newEngine(t, audithook.New(rec, audithook.WithEnabledActions(audithook.ActionUnitPurchased)))
		ctx := context.Background()

		_, err := c.Credit(ctx, "u1", 100, "pay-1")
		require.NoError(t, err)
		_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
		require.NoError(t, err)

		assert.Equal(t, []string{audithook.ActionUnitPurchased}, rec.actions())
	})

	t.Run("disabled", func(t *testing.T) {
		rec := &sink{}
		c := newEngine(t, audithook.New(rec, audithook.WithDisabledActions(audithook.ActionWalletCredited)))
		ctx := context.Background()

		_, err := c.Credit(ctx, "u1", 100, "pay-1")
		require.NoError(t, err)
		_, err = c.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
		require.NoError(t, err)

		assert.Equal(t, []string{audithook.ActionWalletDebited, audithook.ActionUnitPurchased}, rec.actions())
	})
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	})
	c := newEngine(t, audithook.New(failing))

	_, err := c.Credit(context.Background(), "u1", 100, "pay-1")
	require.NoError(t, err)
}
