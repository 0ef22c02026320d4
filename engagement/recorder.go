package engagement

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/types"
)

// Recorder is told about every genuinely new grant. Implementations may fail;
// callers log and drop the error.
type Recorder interface {
	OnFirstGrant(ctx context.Context, userID string, catalog entitlement.Catalog) error
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, userID string, catalog entitlement.Catalog) error

// OnFirstGrant implements Recorder.
func (f RecorderFunc) OnFirstGrant(ctx context.Context, userID string, catalog entitlement.Catalog) error {
	return f(ctx, userID, catalog)
}

const lockStripes = 64

// Tracker is the store-backed Recorder. Updates for one user are serialized
// within the process; concurrent processes may lose increments.
type Tracker struct {
	store Store
	now   func() time.Time
	loc   *time.Location
	locks [lockStripes]sync.Mutex
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithLocation sets the zone that decides what "today" is for streaks.
func WithLocation(loc *time.Location) TrackerOption {
	return func(t *Tracker) { t.loc = loc }
}

// NewTracker returns a Tracker writing to s. Days roll over at UTC midnight
// unless WithLocation is given.
func NewTracker(s Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: s, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnFirstGrant implements Recorder.
func (t *Tracker) OnFirstGrant(ctx context.Context, userID string, catalog entitlement.Catalog) error {
	if !catalog.IsValid() {
		return fmt.Errorf("engagement: unknown catalog %q", catalog)
	}

	mu := t.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	c, err := t.store.GetCounters(ctx, userID)
	if err != nil {
		return fmt.Errorf("engagement: load counters: %w", err)
	}

	now := t.now()
	if c == nil {
		c = &Counters{Entity: types.NewEntity(now), UserID: userID}
	}
	c.RecordFirstGrant(catalog, types.DayOf(now, t.loc))
	c.Touch(now)

	if err := t.store.PutCounters(ctx, c); err != nil {
		return fmt.Errorf("engagement: save counters: %w", err)
	}
	return nil
}

func (t *Tracker) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &t.locks[h.Sum32()%lockStripes]
}
