package coffer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/subscription"
)

func TestSubscribe(t *testing.T) {
	clock := newClock()
	c, _ := newTestCoffer(t, coffer.WithClock(clock.Now))
	ctx := context.Background()

	p, err := c.Subscribe(ctx, "u1", "6_month", "pay-sub-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if p.Plan != "6_month" || p.Price != 499 || p.PaymentRef != "pay-sub-1" {
		t.Fatalf("period = %+v", p)
	}
	if want := clock.Now().Add(180 * 24 * time.Hour); !p.EndAt.Equal(want) {
		t.Fatalf("EndAt = %v, want %v", p.EndAt, want)
	}

	active, err := c.ActiveSubscription(ctx, "u1")
	if err != nil || active.ID.String() != p.ID.String() {
		t.Fatalf("ActiveSubscription = %+v, %v", active, err)
	}

	if _, err := c.Subscribe(ctx, "u1", "3_month", ""); !errors.Is(err, coffer.ErrSubscriptionActive) {
		t.Fatalf("second Subscribe = %v, want ErrSubscriptionActive", err)
	}
	if _, err := c.Subscribe(ctx, "u1", "lifetime", ""); !errors.Is(err, coffer.ErrUnknownPlan) {
		t.Fatalf("unknown plan = %v, want ErrUnknownPlan", err)
	}

	clock.Advance(181 * 24 * time.Hour)
	if _, err := c.ActiveSubscription(ctx, "u1"); !errors.Is(err, coffer.ErrNoActiveSubscription) {
		t.Fatalf("after expiry = %v, want ErrNoActiveSubscription", err)
	}
	if _, err := c.Subscribe(ctx, "u1", "3_month", "pay-sub-2"); err != nil {
		t.Fatalf("renewal after expiry: %v", err)
	}

	list, err := c.ListSubscriptions(ctx, "u1", subscription.ListOpts{})
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(list) != 2 || list[0].Plan != "3_month" {
		t.Fatalf("ListSubscriptions = %d periods, newest %v", len(list), list)
	}
}

func TestSubscriptionBoundary(t *testing.T) {
	clock := newClock()
	c, _ := newTestCoffer(t, coffer.WithClock(clock.Now))
	ctx := context.Background()

	p, err := c.Subscribe(ctx, "u1", "3_month", "")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", p.StartAt.Add(-time.Nanosecond), false},
		{"at start", p.StartAt, true},
		{"at end", p.EndAt, true},
		{"after end", p.EndAt.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.IsSubscribed(ctx, "u1", tt.at)
			if err != nil {
				t.Fatalf("IsSubscribed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsSubscribed(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestExpiredSubscriptionChargesAgain(t *testing.T) {
	clock := newClock()
	c, _ := newTestCoffer(t, coffer.WithClock(clock.Now))
	ctx := context.Background()
	fund(t, c, "u1", 100)

	if _, err := c.Subscribe(ctx, "u1", "3_month", ""); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	res, err := c.Unlock(ctx, coffer.UnlockRequest{UserID: "u1", Catalog: entitlement.CatalogDigital, UnitID: "ep-1", Price: 20, AdminLocked: true})
	if err != nil || res.Source != entitlement.SourceSubscription {
		t.Fatalf("covered unlock = %+v, %v", res, err)
	}

	clock.Advance(100 * 24 * time.Hour)
	res, err = c.Unlock(ctx, coffer.UnlockRequest{UserID: "u1", Catalog: entitlement.CatalogDigital, UnitID: "ep-2", Price: 20, AdminLocked: true})
	if err != nil || res.Source != entitlement.SourcePurchase || res.BalanceAfter != 80 {
		t.Fatalf("uncovered unlock = %+v, %v", res, err)
	}

	res, err = c.Unlock(ctx, coffer.UnlockRequest{UserID: "u1", Catalog: entitlement.CatalogDigital, UnitID: "ep-1", Price: 20, AdminLocked: true})
	if err != nil || res.Outcome != coffer.OutcomeAlreadyUnlocked || res.Source != entitlement.SourceSubscription {
		t.Fatalf("subscription grant must outlive the period: %+v, %v", res, err)
	}
}

func TestConcurrentSubscribeCreatesOnePeriod(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			_, errs[i] = c.Subscribe(ctx, "u1", "12_month", "")
			return nil
		})
	}
	_ = g.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, coffer.ErrSubscriptionActive):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d periods created, want 1", created)
	}
}

func TestPlans(t *testing.T) {
	c, _ := newTestCoffer(t)
	plans := c.Plans()
	if len(plans) != 3 || plans[0].Key != "3_month" || plans[2].Price != 799 {
		t.Fatalf("Plans = %+v", plans)
	}
}
