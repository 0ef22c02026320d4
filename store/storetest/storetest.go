// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/wallet"
)

// Factory returns a migrated, empty-enough store. Backends sharing a database
// between runs are fine: every case works on fresh user ids.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"MigrateTwice", testMigrateTwice},
		{"AccountLazyCreate", testAccountLazyCreate},
		{"EntryRoundTrip", testEntryRoundTrip},
		{"DuplicateKey", testDuplicateKey},
		{"Rollback", testRollback},
		{"ListEntriesOrder", testListEntriesOrder},
		{"GrantFirstWins", testGrantFirstWins},
		{"ListGrants", testListGrants},
		{"Periods", testPeriods},
		{"Counters", testCounters},
		{"TopCounters", testTopCounters},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// Timestamps are truncated to what every backend preserves.
func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func user() string { return "u-" + id.NewEntryID().String() }

func credit(t *testing.T, s store.Store, userID, key string, delta int64) *wallet.Entry {
	t.Helper()

	var e *wallet.Entry
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		e = &wallet.Entry{
			ID:             id.NewEntryID(),
			UserID:         userID,
			Seq:            acct.Version + 1,
			Delta:          delta,
			BalanceAfter:   acct.Balance + delta,
			Reason:         wallet.ReasonExternalCredit,
			LinkType:       "payment",
			LinkID:         key,
			IdempotencyKey: key,
			CreatedAt:      now(),
		}
		if err := tx.InsertEntry(ctx, e); err != nil {
			return err
		}
		return tx.SetBalance(ctx, userID, e.BalanceAfter, e.Seq)
	})
	if err != nil {
		t.Fatalf("credit %s: %v", key, err)
	}
	return e
}

func testMigrateTwice(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testAccountLazyCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()

	bal, err := s.GetBalance(ctx, u)
	if err != nil {
		t.Fatalf("GetBalance(unknown): %v", err)
	}
	if bal != 0 {
		t.Fatalf("unknown user balance = %d, want 0", bal)
	}
	if _, err := s.GetAccount(ctx, u); !errors.Is(err, coffer.ErrNotFound) {
		t.Fatalf("GetAccount(unknown) = %v, want ErrNotFound", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAccount(ctx, u)
		if err != nil {
			return err
		}
		if a.Balance != 0 || a.Version != 0 {
			t.Errorf("new account = %+v, want zero balance and version", a)
		}
		return tx.SetBalance(ctx, u, 70, 1)
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAccount(ctx, u)
		if err != nil {
			return err
		}
		if a.Balance != 70 || a.Version != 1 {
			t.Errorf("account = %+v, want balance 70 version 1", a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	if bal, _ := s.GetBalance(ctx, u); bal != 70 {
		t.Fatalf("GetBalance = %d, want 70", bal)
	}
	if a, err := s.GetAccount(ctx, u); err != nil || a.Balance != 70 || a.Version != 1 {
		t.Fatalf("GetAccount = %+v, %v, want balance 70 version 1", a, err)
	}
}

func testEntryRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()
	key := "pay-" + u
	want := credit(t, s, u, key, 120)

	got, err := s.GetEntry(ctx, key)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.ID.String() != want.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, want.ID)
	}
	if got.UserID != u || got.Seq != 1 || got.Delta != 120 || got.BalanceAfter != 120 {
		t.Errorf("entry = %+v", got)
	}
	if got.Reason != wallet.ReasonExternalCredit || got.LinkType != "payment" || got.LinkID != key {
		t.Errorf("entry metadata = %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.FindEntry(ctx, key)
		if err != nil {
			return err
		}
		if e.BalanceAfter != 120 {
			t.Errorf("FindEntry balance_after = %d", e.BalanceAfter)
		}
		_, err = tx.FindEntry(ctx, "missing-"+u)
		if !errors.Is(err, coffer.ErrEntryNotFound) {
			t.Errorf("FindEntry(missing) = %v, want ErrEntryNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	if _, err := s.GetEntry(ctx, "missing-"+u); !errors.Is(err, coffer.ErrEntryNotFound) {
		t.Fatalf("GetEntry(missing) = %v, want ErrEntryNotFound", err)
	}
}

func testDuplicateKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	u, other := user(), user()
	key := "dup-" + u
	credit(t, s, u, key, 10)

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, other); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, &wallet.Entry{
			ID:             id.NewEntryID(),
			UserID:         other,
			Seq:            1,
			Delta:          10,
			BalanceAfter:   10,
			Reason:         wallet.ReasonExternalCredit,
			IdempotencyKey: key,
			CreatedAt:      now(),
		})
	})
	if !errors.Is(err, coffer.ErrAlreadyExists) {
		t.Fatalf("duplicate key insert = %v, want ErrAlreadyExists", err)
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, u); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &wallet.Entry{
			ID:             id.NewEntryID(),
			UserID:         u,
			Seq:            1,
			Delta:          5,
			BalanceAfter:   5,
			Reason:         wallet.ReasonOther,
			IdempotencyKey: "rb-" + u,
			CreatedAt:      now(),
		}); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, u, 5, 1); err != nil {
			return err
		}
		if _, err := tx.InsertGrant(ctx, &entitlement.Grant{
			ID:        id.NewGrantID(),
			UserID:    u,
			Catalog:   entitlement.CatalogDigital,
			UnitID:    "ep-1",
			Source:    entitlement.SourcePurchase,
			GrantedAt: now(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v, want fn error unchanged", err)
	}

	if bal, _ := s.GetBalance(ctx, u); bal != 0 {
		t.Errorf("balance after rollback = %d, want 0", bal)
	}
	if _, err := s.GetEntry(ctx, "rb-"+u); !errors.Is(err, coffer.ErrEntryNotFound) {
		t.Errorf("entry survived rollback: %v", err)
	}
	if has, _ := s.HasGrant(ctx, u, entitlement.CatalogDigital, "ep-1"); has {
		t.Error("grant survived rollback")
	}
}

func testListEntriesOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()
	for i, d := range []int64{10, 20, 30} {
		credit(t, s, u, u+"-k"+string(rune('a'+i)), d)
	}

	desc, err := s.ListEntries(ctx, u, wallet.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(desc) != 3 || desc[0].Seq != 3 || desc[2].Seq != 1 {
		t.Fatalf("descending order wrong: %v", seqs(desc))
	}
	if desc[0].BalanceAfter != 60 {
		t.Errorf("newest balance_after = %d, want 60", desc[0].BalanceAfter)
	}

	asc, err := s.ListEntries(ctx, u, wallet.ListOpts{Limit: 2, Offset: 1, Ascending: true})
	if err != nil {
		t.Fatalf("ListEntries(asc): %v", err)
	}
	if len(asc) != 2 || asc[0].Seq != 2 || asc[1].Seq != 3 {
		t.Fatalf("ascending page wrong: %v", seqs(asc))
	}

	if other, _ := s.ListEntries(ctx, user(), wallet.ListOpts{Limit: 10}); len(other) != 0 {
		t.Errorf("unrelated user has %d entries", len(other))
	}
}

func seqs(es []*wallet.Entry) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.Seq
	}
	return out
}

func insertGrant(t *testing.T, s store.Store, g *entitlement.Grant) bool {
	t.Helper()

	var created bool
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, g.UserID); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertGrant(ctx, g)
		return err
	})
	if err != nil {
		t.Fatalf("InsertGrant: %v", err)
	}
	return created
}

func testGrantFirstWins(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()
	first := &entitlement.Grant{
		ID:        id.NewGrantID(),
		UserID:    u,
		Catalog:   entitlement.CatalogMotion,
		UnitID:    "m-9",
		Source:    entitlement.SourceSubscription,
		GrantedAt: now(),
	}
	if !insertGrant(t, s, first) {
		t.Fatal("first InsertGrant reported created=false")
	}

	second := *first
	second.ID = id.NewGrantID()
	second.Source = entitlement.SourcePurchase
	if insertGrant(t, s, &second) {
		t.Fatal("second InsertGrant reported created=true")
	}

	got, err := s.GetGrant(ctx, u, entitlement.CatalogMotion, "m-9")
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if got.Source != entitlement.SourceSubscription || got.ID.String() != first.ID.String() {
		t.Errorf("grant = %+v, want the first one", got)
	}
	if !got.GrantedAt.Equal(first.GrantedAt) {
		t.Errorf("GrantedAt = %v, want %v", got.GrantedAt, first.GrantedAt)
	}

	if has, _ := s.HasGrant(ctx, u, entitlement.CatalogMotion, "m-9"); !has {
		t.Error("HasGrant = false for existing grant")
	}
	if has, _ := s.HasGrant(ctx, u, entitlement.CatalogDigital, "m-9"); has {
		t.Error("catalogs must be independent")
	}
	if _, err := s.GetGrant(ctx, u, entitlement.CatalogDigital, "m-9"); !errors.Is(err, coffer.ErrGrantNotFound) {
		t.Errorf("GetGrant(missing) = %v, want ErrGrantNotFound", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		has, err := tx.HasGrant(ctx, u, entitlement.CatalogMotion, "m-9")
		if err != nil {
			return err
		}
		if !has {
			t.Error("tx.HasGrant = false for existing grant")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

func testListGrants(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()
	base := now()
	units := []struct {
		catalog entitlement.Catalog
		unit    string
	}{
		{entitlement.CatalogDigital, "d-1"},
		{entitlement.CatalogMotion, "m-1"},
		{entitlement.CatalogDigital, "d-2"},
	}
	for i, x := range units {
		insertGrant(t, s, &entitlement.Grant{
			ID:        id.NewGrantID(),
			UserID:    u,
			Catalog:   x.catalog,
			UnitID:    x.unit,
			Source:    entitlement.SourceFree,
			GrantedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	all, err := s.ListGrants(ctx, u, entitlement.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(all) != 3 || all[0].UnitID != "d-2" {
		t.Fatalf("ListGrants = %d grants, first %v", len(all), all)
	}

	digital, err := s.ListGrants(ctx, u, entitlement.ListOpts{Catalog: entitlement.CatalogDigital, Limit: 10})
	if err != nil {
		t.Fatalf("ListGrants(digital): %v", err)
	}
	if len(digital) != 2 {
		t.Fatalf("digital grants = %d, want 2", len(digital))
	}
	for _, g := range digital {
		if g.Catalog != entitlement.CatalogDigital {
			t.Errorf("catalog filter leaked %s", g.Catalog)
		}
	}

	paged, _ := s.ListGrants(ctx, u, entitlement.ListOpts{Limit: 1, Offset: 2})
	if len(paged) != 1 || paged[0].UnitID != "d-1" {
		t.Errorf("page = %v, want oldest grant", paged)
	}
}

func testPeriods(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()
	start := now()

	short := &subscription.Period{
		ID: id.NewPeriodID(), UserID: u, Plan: "3_month",
		StartAt: start, EndAt: start.Add(90 * 24 * time.Hour),
		Price: 349, PaymentRef: "ref-a", CreatedAt: start,
	}
	long := &subscription.Period{
		ID: id.NewPeriodID(), UserID: u, Plan: "12_month",
		StartAt: start, EndAt: start.Add(360 * 24 * time.Hour),
		Price: 799, CreatedAt: start.Add(time.Second),
	}

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, u); err != nil {
			return err
		}
		if err := tx.InsertPeriod(ctx, short); err != nil {
			return err
		}
		return tx.InsertPeriod(ctx, long)
	})
	if err != nil {
		t.Fatalf("InsertPeriod: %v", err)
	}

	active, err := s.GetActivePeriod(ctx, u, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetActivePeriod: %v", err)
	}
	if active.ID.String() != long.ID.String() {
		t.Errorf("active period = %s, want the one ending last", active.Plan)
	}

	if _, err := s.GetActivePeriod(ctx, u, start.Add(-time.Second)); !errors.Is(err, coffer.ErrNoActiveSubscription) {
		t.Errorf("before start = %v, want ErrNoActiveSubscription", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, tc := range []struct {
			at   time.Time
			want bool
		}{
			{start, true},
			{long.EndAt, true},
			{long.EndAt.Add(time.Millisecond), false},
		} {
			got, err := tx.IsSubscribed(ctx, u, tc.at)
			if err != nil {
				return err
			}
			if got != tc.want {
				t.Errorf("IsSubscribed(%v) = %v, want %v", tc.at, got, tc.want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	list, err := s.ListPeriods(ctx, u, subscription.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListPeriods: %v", err)
	}
	if len(list) != 2 || list[0].Plan != "12_month" {
		t.Fatalf("ListPeriods = %v, want newest first", list)
	}
	if list[1].PaymentRef != "ref-a" || list[1].Price != 349 {
		t.Errorf("period fields lost: %+v", list[1])
	}
}

func testCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user()

	c, err := s.GetCounters(ctx, u)
	if err != nil {
		t.Fatalf("GetCounters(unknown): %v", err)
	}
	if c != nil {
		t.Fatalf("GetCounters(unknown) = %+v, want nil", c)
	}

	ts := now()
	day := types.DayOf(ts, time.UTC)
	in := &engagement.Counters{
		Entity:       types.NewEntity(ts),
		UserID:       u,
		ReadCount:    3,
		WatchCount:   1,
		StreakDays:   2,
		LastActivity: day,
	}
	if err := s.PutCounters(ctx, in); err != nil {
		t.Fatalf("PutCounters: %v", err)
	}

	in.ReadCount = 4
	in.Touch(ts.Add(time.Minute))
	if err := s.PutCounters(ctx, in); err != nil {
		t.Fatalf("PutCounters(update): %v", err)
	}

	got, err := s.GetCounters(ctx, u)
	if err != nil {
		t.Fatalf("GetCounters: %v", err)
	}
	if got.ReadCount != 4 || got.WatchCount != 1 || got.StreakDays != 2 {
		t.Errorf("counters = %+v", got)
	}
	if got.LastActivity != day {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, day)
	}
}

func testTopCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	mine := map[string]int64{}
	for _, n := range []int64{5, 50, 20} {
		u := user()
		mine[u] = n
		if err := s.PutCounters(ctx, &engagement.Counters{
			Entity:     types.NewEntity(now()),
			UserID:     u,
			WatchCount: n,
		}); err != nil {
			t.Fatalf("PutCounters: %v", err)
		}
	}

	top, err := s.TopCounters(ctx, entitlement.CatalogMotion, 100)
	if err != nil {
		t.Fatalf("TopCounters: %v", err)
	}

	var order []int64
	for i, c := range top {
		if i > 0 && top[i-1].WatchCount < c.WatchCount {
			t.Fatalf("TopCounters not descending at %d", i)
		}
		if n, ok := mine[c.UserID]; ok {
			order = append(order, n)
		}
	}
	if len(order) != 3 || order[0] != 50 || order[2] != 5 {
		t.Errorf("own users in order %v, want [50 20 5]", order)
	}

	one, _ := s.TopCounters(ctx, entitlement.CatalogMotion, 1)
	if len(one) != 1 {
		t.Errorf("limit 1 returned %d", len(one))
	}
}
