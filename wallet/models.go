// Package wallet defines the append-only coin ledger: one Entry per balance
// mutation, each keyed by a globally unique idempotency key.
package wallet

import (
	"time"

	"github.com/xraph/coffer/id"
)

// Reason classifies why a balance moved.
type Reason string

const (
	ReasonUnlockPurchase Reason = "unlock_purchase"
	ReasonExternalCredit Reason = "external_credit"
	ReasonAdminAdjust    Reason = "admin_adjust"
	ReasonRefund         Reason = "refund"
	ReasonOther          Reason = "other"
)

// IsValid reports whether r is one of the known reasons.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonUnlockPurchase, ReasonExternalCredit, ReasonAdminAdjust, ReasonRefund, ReasonOther:
		return true
	}
	return false
}

// Entry is one immutable balance mutation.
//
// Seq numbers a user's entries 1, 2, 3... in commit order, so that
// BalanceAfter of entry n equals BalanceAfter of entry n-1 plus Delta.
type Entry struct {
	ID             id.EntryID `json:"id"`
	UserID         string     `json:"user_id"`
	Seq            int64      `json:"seq"`
	Delta          int64      `json:"delta"`
	BalanceAfter   int64      `json:"balance_after"`
	Reason         Reason     `json:"reason"`
	LinkType       string     `json:"link_type,omitempty"`
	LinkID         string     `json:"link_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsDebit reports whether the entry removed coins.
func (e *Entry) IsDebit() bool { return e.Delta < 0 }

// BalanceBefore is the balance the entry was applied to.
func (e *Entry) BalanceBefore() int64 { return e.BalanceAfter - e.Delta }

// ListOpts pages through a user's entries. Entries come newest first unless
// Ascending is set.
type ListOpts struct {
	Limit     int
	Offset    int
	Ascending bool
}
