// Package content describes the slice of catalog metadata the unlock engine
// needs about an episode. The catalog itself is owned elsewhere.
package content

import (
	"context"
	"errors"

	"github.com/xraph/coffer/entitlement"
)

// ErrUnitNotFound is returned by a Directory for unknown units.
var ErrUnitNotFound = errors.New("coffer: content unit not found")

// Unit is the pricing view of one episode.
type Unit struct {
	ID      string              `json:"id"      yaml:"id"`
	Catalog entitlement.Catalog `json:"catalog" yaml:"catalog"`
	Title   string              `json:"title"   yaml:"title"`
	// Price in coins. Zero on a paid unit means the engine default.
	Price int64 `json:"price" yaml:"price"`
	// IsFree units are granted to everyone without payment.
	IsFree bool `json:"is_free" yaml:"free"`
	// AdminLocked is the owner's paywall switch; false unlocks the unit for
	// everyone.
	AdminLocked bool `json:"admin_locked" yaml:"locked"`
}

// Directory resolves units by catalog and id.
type Directory interface {
	Unit(ctx context.Context, catalog entitlement.Catalog, unitID string) (*Unit, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, catalog entitlement.Catalog, unitID string) (*Unit, error)

// Unit implements Directory.
func (f DirectoryFunc) Unit(ctx context.Context, catalog entitlement.Catalog, unitID string) (*Unit, error) {
	return f(ctx, catalog, unitID)
}
