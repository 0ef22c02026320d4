package subscription

import (
	"context"
	"time"
)

type Store interface {
	// GetActivePeriod returns the covering period with the latest EndAt.
	GetActivePeriod(ctx context.Context, userID string, at time.Time) (*Period, error)
	ListPeriods(ctx context.Context, userID string, opts ListOpts) ([]*Period, error)
}
