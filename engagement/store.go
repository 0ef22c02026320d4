package engagement

import (
	"context"

	"github.com/xraph/coffer/entitlement"
)

// Store persists counters.
type Store interface {
	// GetCounters returns nil and no error when the user has no counters yet.
	GetCounters(ctx context.Context, userID string) (*Counters, error)
	// PutCounters inserts or replaces the user's counters.
	PutCounters(ctx context.Context, c *Counters) error
	// TopCounters lists users by the catalog's counter, highest first.
	TopCounters(ctx context.Context, catalog entitlement.Catalog, limit int) ([]*Counters, error)
}
