package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/wallet"
)

// Column lists shared by the select statements and the scan helpers below.
const (
	entryColumns   = `id, user_id, seq, delta, balance_after, reason, link_type, link_id, idempotency_key, created_at`
	grantColumns   = `id, user_id, catalog, unit_id, source, granted_at`
	periodColumns  = `id, user_id, plan, start_at, end_at, price, payment_ref, created_at`
	counterColumns = `user_id, read_count, watch_count, streak_days, last_activity, created_at, updated_at`
)

func scanEntry(row pgx.Row) (*wallet.Entry, error) {
	var (
		e      wallet.Entry
		rawID  string
		reason string
	)
	if err := row.Scan(&rawID, &e.UserID, &e.Seq, &e.Delta, &e.BalanceAfter, &reason,
		&e.LinkType, &e.LinkID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
		return nil, err
	}
	entryID, err := id.ParseEntryID(rawID)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: entry %q: %w", rawID, err)
	}
	e.ID = entryID
	e.Reason = wallet.Reason(reason)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scanGrant(row pgx.Row) (*entitlement.Grant, error) {
	var (
		g       entitlement.Grant
		rawID   string
		catalog string
		source  string
	)
	if err := row.Scan(&rawID, &g.UserID, &catalog, &g.UnitID, &source, &g.GrantedAt); err != nil {
		return nil, err
	}
	grantID, err := id.ParseGrantID(rawID)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: grant %q: %w", rawID, err)
	}
	g.ID = grantID
	g.Catalog = entitlement.Catalog(catalog)
	g.Source = entitlement.Source(source)
	g.GrantedAt = g.GrantedAt.UTC()
	return &g, nil
}

func scanPeriod(row pgx.Row) (*subscription.Period, error) {
	var (
		p     subscription.Period
		rawID string
	)
	if err := row.Scan(&rawID, &p.UserID, &p.Plan, &p.StartAt, &p.EndAt, &p.Price,
		&p.PaymentRef, &p.CreatedAt); err != nil {
		return nil, err
	}
	periodID, err := id.ParsePeriodID(rawID)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: period %q: %w", rawID, err)
	}
	p.ID = periodID
	p.StartAt = p.StartAt.UTC()
	p.EndAt = p.EndAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func scanCounters(row pgx.Row) (*engagement.Counters, error) {
	var (
		c                    engagement.Counters
		last                 string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&c.UserID, &c.ReadCount, &c.WatchCount, &c.StreakDays, &last,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	day, err := types.ParseDay(last)
	if err != nil {
		return nil, err
	}
	c.LastActivity = day
	c.Entity = types.Entity{CreatedAt: createdAt.UTC(), UpdatedAt: updatedAt.UTC()}
	return &c, nil
}

// collect drains rows with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()

	result := make([]*T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
