package engagement_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/types"
)

func day(t *testing.T, s string) types.Day {
	t.Helper()
	d, err := types.ParseDay(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRecordFirstGrantStreak(t *testing.T) {
	tests := []struct {
		name       string
		last       string
		streak     int64
		today      string
		wantStreak int64
	}{
		{"first activity", "", 0, "2024-05-10", 1},
		{"first activity keeps prior streak", "", 4, "2024-05-10", 4},
		{"same day is unchanged", "2024-05-10", 3, "2024-05-10", 3},
		{"yesterday extends", "2024-05-09", 3, "2024-05-10", 4},
		{"gap restarts", "2024-05-07", 9, "2024-05-10", 1},
		{"month boundary extends", "2024-04-30", 2, "2024-05-01", 3},
		{"clock went backwards restarts", "2024-05-11", 5, "2024-05-10", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &engagement.Counters{StreakDays: tt.streak, LastActivity: day(t, tt.last)}
			today := day(t, tt.today)

			c.RecordFirstGrant(entitlement.CatalogDigital, today)

			if c.StreakDays != tt.wantStreak {
				t.Errorf("streak = %d, want %d", c.StreakDays, tt.wantStreak)
			}
			if c.LastActivity != today {
				t.Errorf("last activity = %s, want %s", c.LastActivity, today)
			}
			if c.ReadCount != 1 {
				t.Errorf("read count = %d, want 1", c.ReadCount)
			}
		})
	}
}

func TestRecordFirstGrantCountsPerCatalog(t *testing.T) {
	c := &engagement.Counters{}
	today := day(t, "2024-01-01")
	c.RecordFirstGrant(entitlement.CatalogDigital, today)
	c.RecordFirstGrant(entitlement.CatalogMotion, today)
	c.RecordFirstGrant(entitlement.CatalogMotion, today)

	if c.Count(entitlement.CatalogDigital) != 1 || c.Count(entitlement.CatalogMotion) != 2 {
		t.Errorf("counts = %d/%d, want 1/2", c.ReadCount, c.WatchCount)
	}
	if c.StreakDays != 1 {
		t.Errorf("streak = %d, want 1", c.StreakDays)
	}
}

func TestBadges(t *testing.T) {
	tests := []struct {
		name    string
		c       *engagement.Counters
		premium bool
		want    []engagement.Badge
	}{
		{"nothing", nil, false, nil},
		{"reader tier 1", &engagement.Counters{ReadCount: 10}, false, []engagement.Badge{
			{Type: engagement.BadgeReader, Label: "Reader 10+", Level: 1},
		}},
		{"reader tier 3 and motion tier 2", &engagement.Counters{ReadCount: 700, WatchCount: 150}, false, []engagement.Badge{
			{Type: engagement.BadgeReader, Label: "Reader 500+", Level: 3},
			{Type: engagement.BadgeMotion, Label: "Motion 100+", Level: 2},
		}},
		{"motion top tier at 300", &engagement.Counters{WatchCount: 300}, false, []engagement.Badge{
			{Type: engagement.BadgeMotion, Label: "Motion 300+", Level: 3},
		}},
		{"short streak is not a badge", &engagement.Counters{StreakDays: 2}, false, nil},
		{"streak levels", &engagement.Counters{StreakDays: 13}, true, []engagement.Badge{
			{Type: engagement.BadgeStreak, Label: "Streak 13d", Level: 2},
			{Type: engagement.BadgePremium, Label: "Premium", Level: 1},
		}},
		{"streak 30", &engagement.Counters{StreakDays: 30}, false, []engagement.Badge{
			{Type: engagement.BadgeStreak, Label: "Streak 30d", Level: 3},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engagement.Badges(tt.c, tt.premium)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d badges %+v, want %+v", len(got), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("badge %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type mapStore struct {
	mu      sync.Mutex
	byUser  map[string]engagement.Counters
	failGet error
}

func newMapStore() *mapStore { return &mapStore{byUser: make(map[string]engagement.Counters)} }

func (s *mapStore) GetCounters(_ context.Context, userID string) (*engagement.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	c, ok := s.byUser[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *mapStore) PutCounters(_ context.Context, c *engagement.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[c.UserID] = *c
	return nil
}

func (s *mapStore) TopCounters(_ context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*engagement.Counters
	for _, c := range s.byUser {
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count(catalog) > out[j].Count(catalog) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestTrackerAcrossDays(t *testing.T) {
	s := newMapStore()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := engagement.NewTracker(s, engagement.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	steps := []struct {
		advance    time.Duration
		catalog    entitlement.Catalog
		wantStreak int64
	}{
		{0, entitlement.CatalogDigital, 1},
		{time.Hour, entitlement.CatalogMotion, 1},
		{24 * time.Hour, entitlement.CatalogDigital, 2},
		{24 * time.Hour, entitlement.CatalogDigital, 3},
		{72 * time.Hour, entitlement.CatalogMotion, 1},
	}

	for i, st := range steps {
		now = now.Add(st.advance)
		if err := tr.OnFirstGrant(ctx, "u1", st.catalog); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		c, _ := s.GetCounters(ctx, "u1")
		if c.StreakDays != st.wantStreak {
			t.Errorf("step %d: streak = %d, want %d", i, c.StreakDays, st.wantStreak)
		}
	}

	c, _ := s.GetCounters(ctx, "u1")
	if c.ReadCount != 3 || c.WatchCount != 2 {
		t.Errorf("counts = %d/%d, want 3/2", c.ReadCount, c.WatchCount)
	}
	if c.CreatedAt.IsZero() || !c.UpdatedAt.Equal(now) {
		t.Errorf("timestamps not maintained: %+v", c.Entity)
	}
}

func TestTrackerErrors(t *testing.T) {
	s := newMapStore()
	tr := engagement.NewTracker(s)
	ctx := context.Background()

	if err := tr.OnFirstGrant(ctx, "u1", "comics"); err == nil {
		t.Error("expected error for unknown catalog")
	}

	boom := errors.New("boom")
	s.failGet = boom
	if err := tr.OnFirstGrant(ctx, "u1", entitlement.CatalogDigital); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestTrackerConcurrentIncrements(t *testing.T) {
	s := newMapStore()
	tr := engagement.NewTracker(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.OnFirstGrant(ctx, "u1", entitlement.CatalogMotion)
		}()
	}
	wg.Wait()

	c, _ := s.GetCounters(ctx, "u1")
	if c.WatchCount != 50 {
		t.Errorf("watch count = %d, want 50", c.WatchCount)
	}
}
