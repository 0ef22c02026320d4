// Package engagement keeps best-effort reading counters and activity streaks
// that feed badges and leaderboards. Nothing here is authoritative: a lost
// update costs a badge tier, never access or coins.
package engagement

import (
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/types"
)

// Counters is a user's engagement snapshot.
type Counters struct {
	types.Entity
	UserID       string    `json:"user_id"`
	ReadCount    int64     `json:"read_count"`
	WatchCount   int64     `json:"watch_count"`
	StreakDays   int64     `json:"streak_days"`
	LastActivity types.Day `json:"last_activity_date"`
}

// Count returns the counter tracked for catalog.
func (c *Counters) Count(catalog entitlement.Catalog) int64 {
	switch catalog {
	case entitlement.CatalogDigital:
		return c.ReadCount
	case entitlement.CatalogMotion:
		return c.WatchCount
	}
	return 0
}

// RecordFirstGrant counts one newly unlocked unit in catalog and advances the
// activity streak to today.
//
// Streak rules: activity already recorded today leaves the streak alone;
// activity yesterday extends it by one; a first-ever activity keeps any
// existing streak but at least 1; any longer gap restarts it at 1.
func (c *Counters) RecordFirstGrant(catalog entitlement.Catalog, today types.Day) {
	switch catalog {
	case entitlement.CatalogDigital:
		c.ReadCount++
	case entitlement.CatalogMotion:
		c.WatchCount++
	}

	last := c.LastActivity
	switch {
	case last == today:
		return
	case last.IsZero():
		c.StreakDays = max(1, c.StreakDays)
	case last.AddDays(1) == today:
		c.StreakDays++
	default:
		c.StreakDays = 1
	}
	c.LastActivity = today
}
