package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// RunInTx runs fn with exclusive access to the store. Writes become visible
// only when fn returns nil and ctx is still live.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
	}

	t := &tx{
		s:        s,
		accounts: make(map[string]store.Account),
		entries:  make(map[string]*wallet.Entry),
		grants:   make(map[string]*entitlement.Grant),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return coffer.ErrStoreClosed
	}

	for userID, a := range t.accounts {
		s.accounts[userID] = a
	}
	for _, e := range t.entryOrder {
		s.entries[e.IdempotencyKey] = e
		s.userEntries[e.UserID] = append(s.userEntries[e.UserID], e)
	}
	for _, g := range t.grantOrder {
		s.grants[grantKey(g.UserID, g.Catalog, g.UnitID)] = g
		s.userGrants[g.UserID] = append(s.userGrants[g.UserID], g)
	}
	for _, p := range t.periods {
		s.periods[p.UserID] = append(s.periods[p.UserID], p)
	}
	return nil
}

// tx stages writes on top of the committed maps.
type tx struct {
	s *Store

	accounts   map[string]store.Account
	entries    map[string]*wallet.Entry
	entryOrder []*wallet.Entry
	grants     map[string]*entitlement.Grant
	grantOrder []*entitlement.Grant
	periods    []*subscription.Period
}

func (t *tx) LockAccount(_ context.Context, userID string) (*store.Account, error) {
	if a, ok := t.accounts[userID]; ok {
		return &a, nil
	}

	t.s.mu.RLock()
	a, ok := t.s.accounts[userID]
	closed := t.s.closed
	t.s.mu.RUnlock()

	if closed {
		return nil, coffer.ErrStoreClosed
	}
	if !ok {
		a = store.Account{UserID: userID}
		t.accounts[userID] = a
	}
	return &a, nil
}

func (t *tx) SetBalance(_ context.Context, userID string, balance, version int64) error {
	if balance < 0 {
		return fmt.Errorf("coffer/memory: set balance: negative balance %d", balance)
	}
	t.accounts[userID] = store.Account{UserID: userID, Balance: balance, Version: version}
	return nil
}

func (t *tx) FindEntry(_ context.Context, idempotencyKey string) (*wallet.Entry, error) {
	if e, ok := t.entries[idempotencyKey]; ok {
		cp := *e
		return &cp, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if e, ok := t.s.entries[idempotencyKey]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, coffer.ErrEntryNotFound
}

func (t *tx) InsertEntry(_ context.Context, e *wallet.Entry) error {
	if _, ok := t.entries[e.IdempotencyKey]; ok {
		return fmt.Errorf("coffer/memory: insert entry: %w", coffer.ErrAlreadyExists)
	}

	t.s.mu.RLock()
	_, exists := t.s.entries[e.IdempotencyKey]
	t.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("coffer/memory: insert entry: %w", coffer.ErrAlreadyExists)
	}

	cp := *e
	t.entries[e.IdempotencyKey] = &cp
	t.entryOrder = append(t.entryOrder, &cp)
	return nil
}

func (t *tx) HasGrant(_ context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	key := grantKey(userID, catalog, unitID)
	if _, ok := t.grants[key]; ok {
		return true, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	_, ok := t.s.grants[key]
	return ok, nil
}

func (t *tx) InsertGrant(ctx context.Context, g *entitlement.Grant) (bool, error) {
	has, err := t.HasGrant(ctx, g.UserID, g.Catalog, g.UnitID)
	if err != nil || has {
		return false, err
	}

	cp := *g
	t.grants[grantKey(g.UserID, g.Catalog, g.UnitID)] = &cp
	t.grantOrder = append(t.grantOrder, &cp)
	return true, nil
}

func (t *tx) IsSubscribed(_ context.Context, userID string, at time.Time) (bool, error) {
	for _, p := range t.periods {
		if p.UserID == userID && p.ActiveAt(at) {
			return true, nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	return activePeriod(t.s.periods[userID], at) != nil, nil
}

func (t *tx) InsertPeriod(_ context.Context, p *subscription.Period) error {
	cp := *p
	t.periods = append(t.periods, &cp)
	return nil
}
