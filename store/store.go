// Package store defines the persistence contract shared by every Coffer
// backend (memory, postgres, sqlite, mongo).
package store

import (
	"context"
	"time"

	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// Account is the balance row of one user. Version counts committed balance
// mutations and numbers the user's wallet entries.
type Account struct {
	UserID  string
	Balance int64
	Version int64
}

// Tx is a unit of work opened by Store.RunInTx. Every method runs inside the
// same backend transaction.
//
// Backends signal a uniqueness violation (idempotency key, grant key) with
// coffer.ErrAlreadyExists so the engine can retry the whole unit.
type Tx interface {
	// LockAccount returns the user's account, creating it at balance 0 when
	// missing, and holds an exclusive lock on it until the unit ends.
	LockAccount(ctx context.Context, userID string) (*Account, error)
	// SetBalance writes a locked account's new balance and version.
	SetBalance(ctx context.Context, userID string, balance, version int64) error

	// FindEntry returns coffer.ErrEntryNotFound when no entry has the key.
	FindEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error)
	InsertEntry(ctx context.Context, e *wallet.Entry) error

	HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error)
	// InsertGrant writes g unless a grant for the same key exists, in which
	// case it reports created=false and leaves the stored grant untouched.
	InsertGrant(ctx context.Context, g *entitlement.Grant) (created bool, err error)

	IsSubscribed(ctx context.Context, userID string, at time.Time) (bool, error)
	InsertPeriod(ctx context.Context, p *subscription.Period) error
}

// Store is the unified storage interface. Methods are listed explicitly
// rather than embedding the per-package interfaces.
type Store interface {
	// Wallet reads
	GetBalance(ctx context.Context, userID string) (int64, error)
	// GetAccount reads an account without creating it. Users without one
	// get coffer.ErrNotFound.
	GetAccount(ctx context.Context, userID string) (*Account, error)
	GetEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error)
	ListEntries(ctx context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Entry, error)

	// Entitlement reads
	HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error)
	GetGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (*entitlement.Grant, error)
	ListGrants(ctx context.Context, userID string, opts entitlement.ListOpts) ([]*entitlement.Grant, error)

	// Subscription reads
	GetActivePeriod(ctx context.Context, userID string, at time.Time) (*subscription.Period, error)
	ListPeriods(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Period, error)

	// Engagement counters
	GetCounters(ctx context.Context, userID string) (*engagement.Counters, error)
	PutCounters(ctx context.Context, c *engagement.Counters) error
	TopCounters(ctx context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error)

	// RunInTx runs fn in one transaction, committing when fn returns nil and
	// rolling back otherwise. fn's error is returned unchanged. Backends may
	// call fn more than once on transient conflicts, so fn must not have
	// effects outside tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store covers the per-package read interfaces.
var (
	_ wallet.Store       = (Store)(nil)
	_ entitlement.Store  = (Store)(nil)
	_ subscription.Store = (Store)(nil)
	_ engagement.Store   = (Store)(nil)
)
