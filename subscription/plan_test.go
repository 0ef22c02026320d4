package subscription_test

import (
	"testing"
	"time"

	"github.com/xraph/coffer/subscription"
)

func TestPlans(t *testing.T) {
	tests := []struct {
		key   string
		price int64
		days  int
	}{
		{"3_month", 349, 90},
		{"6_month", 499, 180},
		{"12_month", 799, 360},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, ok := subscription.LookupPlan(tt.key)
			if !ok {
				t.Fatalf("plan %q not found", tt.key)
			}
			if p.Price != tt.price {
				t.Errorf("price = %d, want %d", p.Price, tt.price)
			}
			if got := p.Duration(); got != time.Duration(tt.days)*24*time.Hour {
				t.Errorf("duration = %v, want %d days", got, tt.days)
			}
		})
	}

	if _, ok := subscription.LookupPlan("1_month"); ok {
		t.Error("unexpected plan 1_month")
	}

	all := subscription.Plans()
	if len(all) != 3 || all[0].Key != "3_month" || all[2].Key != "12_month" {
		t.Errorf("Plans() order = %+v", all)
	}
}

func TestPeriodActiveAt(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _ := subscription.LookupPlan("3_month")
	from, to := p.PeriodFrom(start)
	period := &subscription.Period{StartAt: from, EndAt: to}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", start.Add(-time.Second), false},
		{"at start", start, true},
		{"middle", start.Add(45 * 24 * time.Hour), true},
		{"at end", to, true},
		{"after end", to.Add(time.Nanosecond), false},
	}
	for _, tt := range tests {
		if got := period.ActiveAt(tt.at); got != tt.want {
			t.Errorf("%s: ActiveAt = %v, want %v", tt.name, got, tt.want)
		}
	}

	if r := period.Remaining(to.Add(time.Hour)); r != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", r)
	}
	if r := period.Remaining(to.Add(-time.Hour)); r != time.Hour {
		t.Errorf("Remaining = %v, want 1h", r)
	}
}
