// Package coffer is the entitlement and wallet core of a comics platform.
//
// Coffer is designed as a library, not a service. It decides whether a user
// may read or watch a paid content unit and moves the virtual coins that pay
// for it. It provides:
//
//   - An append-only wallet ledger with one entry per balance mutation
//   - Exactly-once balance changes keyed by caller idempotency keys
//   - Access grants for two catalogs (digital and motion comics)
//   - Subscription periods that unlock locked units without charge
//   - Best-effort engagement counters, streaks, badges and leaderboards
//   - Postgres, SQLite, MongoDB and in-memory stores
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/coffer"
//	    "github.com/xraph/coffer/store/memory"
//	)
//
//	c := coffer.New(memory.New())
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
//	// Payment gateway webhook: the payment token is the idempotency key.
//	_, err := c.Credit(ctx, "user_1", 500, "pay_8f2a")
//
//	res, err := c.Unlock(ctx, coffer.UnlockRequest{
//	    UserID:      "user_1",
//	    Catalog:     entitlement.CatalogDigital,
//	    UnitID:      "ep_17",
//	    Price:       50,
//	    AdminLocked: true,
//	})
//
// # Unlock decision
//
// Unlock checks, in order: an existing grant, a free unit, a unit that is not
// locked, an active subscription, and finally a purchase. A purchase debits
// the wallet and writes the grant in one transaction under the user's account
// lock, so concurrent unlocks of the same unit charge once.
//
// # Idempotency
//
// Every wallet entry carries a globally unique idempotency key. Presenting a
// key again returns the stored result instead of mutating the balance; a key
// presented by a different user fails with ErrIdempotencyConflict.
//
// # TypeID
//
// Entries, grants and subscription periods use TypeIDs:
//
//	wtx_01h2xcejqtf2nbrexx3vqjhp41    // Wallet entry
//	grant_01h2xcejqtf2nbrexx3vqjhp41  // Grant
//	sub_01h455vb4pex5vsknk084sn02q    // Subscription period
package coffer
