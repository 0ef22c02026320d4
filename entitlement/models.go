// Package entitlement records which content units a user may access.
package entitlement

import (
	"time"

	"github.com/xraph/coffer/id"
)

// Catalog names one of the independent content catalogs sharing unlock rules.
type Catalog string

const (
	CatalogDigital Catalog = "digital"
	CatalogMotion  Catalog = "motion"
)

func (c Catalog) IsValid() bool {
	return c == CatalogDigital || c == CatalogMotion
}

// Catalogs lists every known catalog.
func Catalogs() []Catalog { return []Catalog{CatalogDigital, CatalogMotion} }

type Source string

const (
	SourceFree         Source = "free"
	SourceSubscription Source = "subscription"
	SourcePurchase     Source = "purchase"
)

func (s Source) IsValid() bool {
	switch s {
	case SourceFree, SourceSubscription, SourcePurchase:
		return true
	}
	return false
}

// Grant records that a user may access one content unit and how access was
// obtained. At most one grant exists per (UserID, Catalog, UnitID); the first
// one written wins and is never revoked.
type Grant struct {
	ID        id.GrantID `json:"id"`
	UserID    string     `json:"user_id"`
	Catalog   Catalog    `json:"catalog"`
	UnitID    string     `json:"unit_id"`
	Source    Source     `json:"source"`
	GrantedAt time.Time  `json:"granted_at"`
}

type ListOpts struct {
	Catalog Catalog
	Limit   int
	Offset  int
}
