package coffer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
)

// Plans lists the purchasable subscription plans, shortest first.
func (c *Coffer) Plans() []subscription.Plan {
	return subscription.Plans()
}

// Subscribe records a new premium period for the user starting now. Payment
// is taken elsewhere; paymentRef links the period to it.
func (c *Coffer) Subscribe(ctx context.Context, userID, planKey, paymentRef string) (*subscription.Period, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	plan, ok := subscription.LookupPlan(planKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planKey)
	}

	ctx, span := c.startSpan(ctx, "coffer.Subscribe",
		attribute.String("coffer.user_id", userID),
		attribute.String("coffer.plan", plan.Key),
	)
	defer span.End()

	var period *subscription.Period
	err := c.runTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// The account lock serializes concurrent purchases by one user.
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}

		now := c.now().UTC()
		active, err := tx.IsSubscribed(ctx, userID, now)
		if err != nil {
			return err
		}
		if active {
			return ErrSubscriptionActive
		}

		start, end := plan.PeriodFrom(now)
		period = &subscription.Period{
			ID:         id.NewPeriodID(),
			UserID:     userID,
			Plan:       plan.Key,
			StartAt:    start,
			EndAt:      end,
			Price:      plan.Price,
			PaymentRef: paymentRef,
			CreatedAt:  now,
		}
		return tx.InsertPeriod(ctx, period)
	})
	if err != nil {
		return nil, fail(span, err)
	}

	c.plugins.EmitSubscriptionCreated(ctx, period)
	c.logger.Info("subscription created",
		"user_id", userID,
		"plan", plan.Key,
		"end_at", period.EndAt,
	)
	return period, nil
}

// ActiveSubscription returns the period covering now.
func (c *Coffer) ActiveSubscription(ctx context.Context, userID string) (*subscription.Period, error) {
	return c.ActivePeriod(ctx, userID, c.now())
}

// ActivePeriod returns the period covering at, preferring the one that
// lasts longest.
func (c *Coffer) ActivePeriod(ctx context.Context, userID string, at time.Time) (*subscription.Period, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	return c.store.GetActivePeriod(ctx, userID, at.UTC())
}

// IsSubscribed reports whether a period covers at.
func (c *Coffer) IsSubscribed(ctx context.Context, userID string, at time.Time) (bool, error) {
	_, err := c.ActivePeriod(ctx, userID, at)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	}
	return false, err
}

// ListSubscriptions lists a user's periods, newest first.
func (c *Coffer) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Period, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	opts.Limit = pageSize(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return c.store.ListPeriods(ctx, userID, opts)
}
