package wallet

import "context"

// Store is the read side of the ledger. Writes happen only inside a
// store.Tx owned by the engine.
type Store interface {
	// GetBalance returns the cached balance; unknown users have 0.
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetEntry(ctx context.Context, idempotencyKey string) (*Entry, error)
	ListEntries(ctx context.Context, userID string, opts ListOpts) ([]*Entry, error)
}
