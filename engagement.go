package coffer

import (
	"context"
	"fmt"

	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/types"
)

// Leaderboard limits.
const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

type engagementEvent struct {
	ctx     context.Context
	userID  string
	catalog entitlement.Catalog
}

// recordEngagement hands a first grant to the recorder. Once the engine is
// started it goes through the queue; before that it runs inline. It never
// fails the caller.
func (c *Coffer) recordEngagement(ctx context.Context, userID string, catalog entitlement.Catalog) {
	ev := engagementEvent{ctx: context.WithoutCancel(ctx), userID: userID, catalog: catalog}

	c.queueMu.RLock()
	if c.running {
		select {
		case c.engagementQueue <- ev:
			c.queueMu.RUnlock()
			return
		default:
			c.queueMu.RUnlock()
			c.engagementFailed(ev, ErrEngagementQueueFull)
			return
		}
	}
	c.queueMu.RUnlock()

	c.deliverEngagement(ev)
}

// engagementWorker delivers queued events until the queue is closed.
func (c *Coffer) engagementWorker(queue <-chan engagementEvent) {
	defer c.wg.Done()

	for ev := range queue {
		c.deliverEngagement(ev)
	}
}

func (c *Coffer) deliverEngagement(ev engagementEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			c.engagementFailed(ev, fmt.Errorf("engagement recorder panic: %v", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(ev.ctx, c.txTimeout)
	defer cancel()

	if err := c.recorder.OnFirstGrant(ctx, ev.userID, ev.catalog); err != nil {
		c.engagementFailed(ev, err)
	}
}

func (c *Coffer) engagementFailed(ev engagementEvent, err error) {
	c.logger.Warn("engagement recording failed",
		"user_id", ev.userID,
		"catalog", ev.catalog,
		"error", err,
	)
	c.plugins.EmitEngagementFailed(ev.ctx, ev.userID, ev.catalog, err)
}

// EngagementSummary is a user's counters together with the badges they earn.
type EngagementSummary struct {
	Counters *engagement.Counters `json:"counters"`
	Badges   []engagement.Badge   `json:"badges"`
	Premium  bool                 `json:"premium"`
}

// Engagement returns a user's counters and badges. Users with no activity
// get zero counters.
func (c *Coffer) Engagement(ctx context.Context, userID string) (*EngagementSummary, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}

	counters, err := c.store.GetCounters(ctx, userID)
	if err != nil {
		return nil, err
	}
	if counters == nil {
		counters = &engagement.Counters{Entity: types.NewEntity(c.now().UTC()), UserID: userID}
	}

	premium, err := c.IsSubscribed(ctx, userID, c.now())
	if err != nil {
		return nil, err
	}

	return &EngagementSummary{
		Counters: counters,
		Badges:   engagement.Badges(counters, premium),
		Premium:  premium,
	}, nil
}

// Leaderboard returns the users with the highest counter for catalog.
func (c *Coffer) Leaderboard(ctx context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error) {
	if !catalog.IsValid() {
		return nil, invalid("catalog", fmt.Sprintf("unknown catalog %q", catalog))
	}
	switch {
	case limit <= 0:
		limit = defaultLeaderboardSize
	case limit > maxLeaderboardSize:
		limit = maxLeaderboardSize
	}
	return c.store.TopCounters(ctx, catalog, limit)
}
