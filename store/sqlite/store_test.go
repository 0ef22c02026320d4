package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/sqlite"
	"github.com/xraph/coffer/store/storetest"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "coffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	assert.Error(t, err)
}

func TestNegativeBalanceRejected(t *testing.T) {
	s := openStore(t)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, "u1"); err != nil {
			return err
		}
		return tx.SetBalance(ctx, "u1", -1, 1)
	})
	require.Error(t, err)

	balance, err := s.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestClosedStore(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(context.Background()), coffer.ErrStoreClosed)
	err := s.RunInTx(context.Background(), func(context.Context, store.Tx) error { return nil })
	assert.ErrorIs(t, err, coffer.ErrStoreClosed)
}

func TestEngineOnSQLite(t *testing.T) {
	s := openStore(t)
	c := coffer.New(s)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop() })

	_, err := c.Credit(ctx, "reader", 100, "pay-1")
	require.NoError(t, err)

	const workers = 6
	var g errgroup.Group
	results := make([]*coffer.UnlockResult, workers)
	for i := range workers {
		g.Go(func() error {
			res, err := c.Unlock(ctx, coffer.UnlockRequest{
				UserID:      "reader",
				Catalog:     entitlement.CatalogDigital,
				UnitID:      "ep-1",
				Price:       30,
				AdminLocked: true,
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	purchases := 0
	for _, res := range results {
		if res.Outcome == coffer.OutcomeUnlockedByPurchase {
			purchases++
		}
	}
	assert.Equal(t, 1, purchases)

	balance, err := c.Balance(ctx, "reader")
	require.NoError(t, err)
	assert.EqualValues(t, 70, balance)
	require.NoError(t, c.VerifyWallet(ctx, "reader"))
}
