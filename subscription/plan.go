package subscription

import (
	"sort"
	"time"
)

// DaysPerMonth is the billing month length used to turn plan months into
// period lengths.
const DaysPerMonth = 30

// Plan is a purchasable premium package.
type Plan struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Months int    `json:"months"`
	Price  int64  `json:"price"`
}

var plans = map[string]Plan{
	"3_month":  {Key: "3_month", Name: "Premium 3 months", Months: 3, Price: 349},
	"6_month":  {Key: "6_month", Name: "Premium 6 months", Months: 6, Price: 499},
	"12_month": {Key: "12_month", Name: "Premium 12 months", Months: 12, Price: 799},
}

// Plans returns the catalogue ordered by length.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Months < out[j].Months })
	return out
}

// LookupPlan finds a plan by key.
func LookupPlan(key string) (Plan, bool) {
	p, ok := plans[key]
	return p, ok
}

// Duration is the coverage a plan buys.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.Months*DaysPerMonth) * 24 * time.Hour
}

// PeriodFrom returns the period window for a purchase at start.
func (p Plan) PeriodFrom(start time.Time) (time.Time, time.Time) {
	start = start.UTC()
	return start, start.Add(p.Duration())
}
