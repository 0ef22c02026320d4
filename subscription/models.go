// Package subscription models premium coverage as time-boxed periods.
package subscription

import (
	"time"

	"github.com/xraph/coffer/id"
)

// Period is one purchased window of premium coverage. Periods are never
// edited; renewals and overlaps are separate rows.
type Period struct {
	ID         id.PeriodID `json:"id"`
	UserID     string      `json:"user_id"`
	Plan       string      `json:"plan"`
	StartAt    time.Time   `json:"start_at"`
	EndAt      time.Time   `json:"end_at"`
	Price      int64       `json:"price"`
	PaymentRef string      `json:"payment_ref,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ActiveAt reports whether t falls inside [StartAt, EndAt].
func (p *Period) ActiveAt(t time.Time) bool {
	return !t.Before(p.StartAt) && !t.After(p.EndAt)
}

// Remaining is the coverage left at t, or zero once expired.
func (p *Period) Remaining(t time.Time) time.Duration {
	if !p.ActiveAt(t) {
		return 0
	}
	return p.EndAt.Sub(t)
}

type ListOpts struct {
	Limit  int
	Offset int
}
