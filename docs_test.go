package coffer_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/store/memory"
)

// TestDocumentationExamples verifies that the package documentation examples
// compile and behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		c := coffer.New(store,
			coffer.WithLogger(slog.Default()),
			coffer.WithTxTimeout(5*time.Second),
			coffer.WithGrantCache(10_000, time.Minute),
		)

		ctx := context.Background()
		if err := c.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer c.Stop()

		// Payment gateway webhook: the payment token is the idempotency key.
		if _, err := c.Credit(ctx, "user_1", 500, "pay_8f2a"); err != nil {
			t.Fatal(err)
		}

		res, err := c.Unlock(ctx, coffer.UnlockRequest{
			UserID:      "user_1",
			Catalog:     entitlement.CatalogDigital,
			UnitID:      "ep_17",
			Price:       50,
			AdminLocked: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != coffer.OutcomeUnlockedByPurchase || res.BalanceAfter != 450 {
			t.Fatalf("unlock = %+v", res)
		}
	})
}
