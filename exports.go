package coffer

import (
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/wallet"
)

// Re-export common types for convenience so users don't have to import the
// leaf packages for everyday calls.

// Catalog is re-exported from the entitlement package.
type Catalog = entitlement.Catalog

// Source is re-exported from the entitlement package.
type Source = entitlement.Source

// Reason is re-exported from the wallet package.
type Reason = wallet.Reason

// Entity is re-exported from the types package.
type Entity = types.Entity

// Re-export catalog and reason values
const (
	CatalogDigital = entitlement.CatalogDigital
	CatalogMotion  = entitlement.CatalogMotion

	ReasonUnlockPurchase = wallet.ReasonUnlockPurchase
	ReasonExternalCredit = wallet.ReasonExternalCredit
	ReasonAdminAdjust    = wallet.ReasonAdminAdjust
	ReasonRefund         = wallet.ReasonRefund
	ReasonOther          = wallet.ReasonOther
)
