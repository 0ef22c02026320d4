package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/wallet"
)

// ==================== Account models ====================

type accountModel struct {
	UserID    string    `bson:"_id"`
	Balance   int64     `bson:"balance"`
	Version   int64     `bson:"version"`
	LockedAt  time.Time `bson:"locked_at"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ==================== Wallet entry models ====================

type entryModel struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	Seq            int64     `bson:"seq"`
	Delta          int64     `bson:"delta"`
	BalanceAfter   int64     `bson:"balance_after"`
	Reason         string    `bson:"reason"`
	LinkType       string    `bson:"link_type"`
	LinkID         string    `bson:"link_id"`
	IdempotencyKey string    `bson:"idempotency_key"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toEntryModel(e *wallet.Entry) *entryModel {
	return &entryModel{
		ID:             e.ID.String(),
		UserID:         e.UserID,
		Seq:            e.Seq,
		Delta:          e.Delta,
		BalanceAfter:   e.BalanceAfter,
		Reason:         string(e.Reason),
		LinkType:       e.LinkType,
		LinkID:         e.LinkID,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.UTC(),
	}
}

func fromEntryModel(m *entryModel) (*wallet.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: entry %q: %w", m.ID, err)
	}
	return &wallet.Entry{
		ID:             entryID,
		UserID:         m.UserID,
		Seq:            m.Seq,
		Delta:          m.Delta,
		BalanceAfter:   m.BalanceAfter,
		Reason:         wallet.Reason(m.Reason),
		LinkType:       m.LinkType,
		LinkID:         m.LinkID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt.UTC(),
	}, nil
}

// ==================== Grant models ====================

type grantModel struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Catalog   string    `bson:"catalog"`
	UnitID    string    `bson:"unit_id"`
	Source    string    `bson:"source"`
	GrantedAt time.Time `bson:"granted_at"`
}

func toGrantModel(g *entitlement.Grant) *grantModel {
	return &grantModel{
		ID:        g.ID.String(),
		UserID:    g.UserID,
		Catalog:   string(g.Catalog),
		UnitID:    g.UnitID,
		Source:    string(g.Source),
		GrantedAt: g.GrantedAt.UTC(),
	}
}

func fromGrantModel(m *grantModel) (*entitlement.Grant, error) {
	grantID, err := id.ParseGrantID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: grant %q: %w", m.ID, err)
	}
	return &entitlement.Grant{
		ID:        grantID,
		UserID:    m.UserID,
		Catalog:   entitlement.Catalog(m.Catalog),
		UnitID:    m.UnitID,
		Source:    entitlement.Source(m.Source),
		GrantedAt: m.GrantedAt.UTC(),
	}, nil
}

// ==================== Subscription models ====================

type periodModel struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	Plan       string    `bson:"plan"`
	StartAt    time.Time `bson:"start_at"`
	EndAt      time.Time `bson:"end_at"`
	Price      int64     `bson:"price"`
	PaymentRef string    `bson:"payment_ref,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toPeriodModel(p *subscription.Period) *periodModel {
	return &periodModel{
		ID:         p.ID.String(),
		UserID:     p.UserID,
		Plan:       p.Plan,
		StartAt:    p.StartAt.UTC(),
		EndAt:      p.EndAt.UTC(),
		Price:      p.Price,
		PaymentRef: p.PaymentRef,
		CreatedAt:  p.CreatedAt.UTC(),
	}
}

func fromPeriodModel(m *periodModel) (*subscription.Period, error) {
	periodID, err := id.ParsePeriodID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: period %q: %w", m.ID, err)
	}
	return &subscription.Period{
		ID:         periodID,
		UserID:     m.UserID,
		Plan:       m.Plan,
		StartAt:    m.StartAt.UTC(),
		EndAt:      m.EndAt.UTC(),
		Price:      m.Price,
		PaymentRef: m.PaymentRef,
		CreatedAt:  m.CreatedAt.UTC(),
	}, nil
}

// ==================== Engagement models ====================

type countersModel struct {
	UserID       string    `bson:"_id"`
	ReadCount    int64     `bson:"read_count"`
	WatchCount   int64     `bson:"watch_count"`
	StreakDays   int64     `bson:"streak_days"`
	LastActivity string    `bson:"last_activity"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func fromCountersModel(m *countersModel) (*engagement.Counters, error) {
	day, err := types.ParseDay(m.LastActivity)
	if err != nil {
		return nil, err
	}
	return &engagement.Counters{
		Entity:       types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		UserID:       m.UserID,
		ReadCount:    m.ReadCount,
		WatchCount:   m.WatchCount,
		StreakDays:   m.StreakDays,
		LastActivity: day,
	}, nil
}

// fromModels converts a decoded batch.
func fromModels[M, T any](ms []M, conv func(*M) (*T, error)) ([]*T, error) {
	result := make([]*T, 0, len(ms))
	for i := range ms {
		v, err := conv(&ms[i])
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}
