package entitlement

import "context"

type Store interface {
	HasGrant(ctx context.Context, userID string, catalog Catalog, unitID string) (bool, error)
	GetGrant(ctx context.Context, userID string, catalog Catalog, unitID string) (*Grant, error)
	ListGrants(ctx context.Context, userID string, opts ListOpts) ([]*Grant, error)
}
