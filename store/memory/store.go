// Package memory is an in-process Store for tests and single-node demos.
// Transactions are serialized by one mutex and stage their writes until
// commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	// txMu serializes transactions, which stands in for the account row lock.
	txMu sync.Mutex

	mu     sync.RWMutex
	closed bool

	accounts map[string]store.Account

	// Wallet storage
	entries     map[string]*wallet.Entry
	userEntries map[string][]*wallet.Entry

	// Grant storage
	grants     map[string]*entitlement.Grant
	userGrants map[string][]*entitlement.Grant

	// Subscription storage
	periods map[string][]*subscription.Period

	// Engagement storage
	counters map[string]*engagement.Counters
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]store.Account),
		entries:     make(map[string]*wallet.Entry),
		userEntries: make(map[string][]*wallet.Entry),
		grants:      make(map[string]*entitlement.Grant),
		userGrants:  make(map[string][]*entitlement.Grant),
		periods:     make(map[string][]*subscription.Period),
		counters:    make(map[string]*engagement.Counters),
	}
}

func grantKey(userID string, catalog entitlement.Catalog, unitID string) string {
	return userID + "\x00" + string(catalog) + "\x00" + unitID
}

// ──────────────────────────────────────────────────
// Wallet reads
// ──────────────────────────────────────────────────

func (s *Store) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, coffer.ErrStoreClosed
	}
	return s.accounts[userID].Balance, nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, coffer.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetEntry(_ context.Context, idempotencyKey string) (*wallet.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}
	if e, ok := s.entries[idempotencyKey]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, coffer.ErrEntryNotFound
}

func (s *Store) ListEntries(_ context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}

	all := s.userEntries[userID]
	result := make([]*wallet.Entry, 0, len(all))
	for i := range all {
		e := all[i]
		if !opts.Ascending {
			e = all[len(all)-1-i]
		}
		cp := *e
		result = append(result, &cp)
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Entitlement reads
// ──────────────────────────────────────────────────

func (s *Store) HasGrant(_ context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, coffer.ErrStoreClosed
	}
	_, ok := s.grants[grantKey(userID, catalog, unitID)]
	return ok, nil
}

func (s *Store) GetGrant(_ context.Context, userID string, catalog entitlement.Catalog, unitID string) (*entitlement.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}
	if g, ok := s.grants[grantKey(userID, catalog, unitID)]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, coffer.ErrGrantNotFound
}

func (s *Store) ListGrants(_ context.Context, userID string, opts entitlement.ListOpts) ([]*entitlement.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}

	all := s.userGrants[userID]
	result := make([]*entitlement.Grant, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if opts.Catalog != "" && all[i].Catalog != opts.Catalog {
			continue
		}
		cp := *all[i]
		result = append(result, &cp)
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Subscription reads
// ──────────────────────────────────────────────────

func (s *Store) GetActivePeriod(_ context.Context, userID string, at time.Time) (*subscription.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}
	if p := activePeriod(s.periods[userID], at); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, coffer.ErrNoActiveSubscription
}

func (s *Store) ListPeriods(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}

	all := s.periods[userID]
	result := make([]*subscription.Period, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// activePeriod returns the period covering at with the latest end.
func activePeriod(periods []*subscription.Period, at time.Time) *subscription.Period {
	var best *subscription.Period
	for _, p := range periods {
		if p.ActiveAt(at) && (best == nil || p.EndAt.After(best.EndAt)) {
			best = p
		}
	}
	return best
}

// ──────────────────────────────────────────────────
// Engagement counters
// ──────────────────────────────────────────────────

func (s *Store) GetCounters(_ context.Context, userID string) (*engagement.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}
	if c, ok := s.counters[userID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) PutCounters(_ context.Context, c *engagement.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return coffer.ErrStoreClosed
	}
	cp := *c
	s.counters[c.UserID] = &cp
	return nil
}

func (s *Store) TopCounters(_ context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coffer.ErrStoreClosed
	}

	result := make([]*engagement.Counters, 0, len(s.counters))
	for _, c := range s.counters {
		if c.Count(catalog) == 0 {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		ci, cj := result[i].Count(catalog), result[j].Count(catalog)
		if ci != cj {
			return ci > cj
		}
		return result[i].UserID < result[j].UserID
	})
	return page(result, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return coffer.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
