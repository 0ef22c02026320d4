// Package types holds small value types shared across Coffer packages.
package types

import "time"

// Entity carries the bookkeeping timestamps of mutable records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity stamps both timestamps with t in UTC.
func NewEntity(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch moves UpdatedAt to t.
func (e *Entity) Touch(t time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.UTC()
	}
	e.UpdatedAt = t.UTC()
}
