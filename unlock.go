package coffer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/wallet"
)

// Outcome is the result class of an unlock.
type Outcome string

const (
	// OutcomeAlreadyUnlocked means a grant existed and nothing changed.
	OutcomeAlreadyUnlocked Outcome = "already_unlocked"
	// OutcomeUnlockedFree means a free or subscription grant was created.
	OutcomeUnlockedFree Outcome = "unlocked_free"
	// OutcomeUnlockedByPurchase means a purchase grant and its debit were
	// created together.
	OutcomeUnlockedByPurchase Outcome = "unlocked_by_purchase"
)

// UnlockRequest asks for access to one content unit. A zero Price on a unit
// that is not free is charged at the default unit price.
type UnlockRequest struct {
	UserID      string
	Catalog     entitlement.Catalog
	UnitID      string
	Price       int64
	IsFree      bool
	AdminLocked bool
}

func (r UnlockRequest) validate() error {
	switch {
	case r.UserID == "":
		return invalid("user_id", "required")
	case !r.Catalog.IsValid():
		return invalid("catalog", fmt.Sprintf("unknown catalog %q", r.Catalog))
	case r.UnitID == "":
		return invalid("content_unit_id", "required")
	case r.Price < 0:
		return invalid("price", "must not be negative")
	}
	return nil
}

// UnlockResult describes a successful unlock. Grant is nil when an existing
// grant was answered from the in-process cache. BalanceAfter is set for
// purchases only.
type UnlockResult struct {
	Outcome      Outcome
	Source       entitlement.Source
	Grant        *entitlement.Grant
	Entry        *wallet.Entry
	BalanceAfter int64
	Replayed     bool
}

// UnlockKey is the idempotency key of the purchase debit for a unit.
func UnlockKey(userID, unitID string) string {
	return "unlock:" + userID + ":" + unitID
}

// Unlock grants a user access to a unit, charging for it only when the unit
// is locked and the user has no active subscription.
//
// The decision order is: existing grant, free unit, unit not locked,
// active subscription, purchase.
func (c *Coffer) Unlock(ctx context.Context, req UnlockRequest) (*UnlockResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	price := req.Price
	if price == 0 && !req.IsFree {
		price = c.defaultUnitPrice
	}

	ctx, span := c.startSpan(ctx, "coffer.Unlock",
		attribute.String("coffer.user_id", req.UserID),
		attribute.String("coffer.catalog", string(req.Catalog)),
		attribute.String("coffer.unit_id", req.UnitID),
	)
	defer span.End()

	if res, ok, err := c.existingGrant(ctx, req); err != nil {
		return nil, fail(span, err)
	} else if ok {
		span.SetAttributes(attribute.String("coffer.outcome", string(res.Outcome)))
		c.plugins.EmitAlreadyUnlocked(ctx, req.UserID, req.Catalog, req.UnitID)
		return res, nil
	}

	var res *UnlockResult
	err := c.runTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = c.unlockTx(ctx, tx, req, price)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			c.plugins.EmitInsufficientBalance(ctx, req.UserID, -price, wallet.ReasonUnlockPurchase)
		}
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.String("coffer.outcome", string(res.Outcome)))

	if res.Outcome == OutcomeAlreadyUnlocked {
		c.plugins.EmitAlreadyUnlocked(ctx, req.UserID, req.Catalog, req.UnitID)
		return res, nil
	}

	c.grants.Remember(res.Grant)
	if res.Entry != nil {
		c.emitApplied(ctx, &ApplyResult{Entry: res.Entry, BalanceAfter: res.BalanceAfter, Replayed: res.Replayed})
	}
	c.plugins.EmitUnlocked(ctx, res.Grant, res.Entry)
	c.recordEngagement(ctx, req.UserID, req.Catalog)

	c.logger.Debug("unit unlocked",
		"user_id", req.UserID,
		"catalog", req.Catalog,
		"unit_id", req.UnitID,
		"source", res.Source,
	)
	return res, nil
}

// existingGrant is the lock-free fast path.
func (c *Coffer) existingGrant(ctx context.Context, req UnlockRequest) (*UnlockResult, bool, error) {
	if src, ok := c.grants.Lookup(req.UserID, req.Catalog, req.UnitID); ok {
		return &UnlockResult{Outcome: OutcomeAlreadyUnlocked, Source: src}, true, nil
	}

	g, err := c.store.GetGrant(ctx, req.UserID, req.Catalog, req.UnitID)
	switch {
	case err == nil:
		c.grants.Remember(g)
		return &UnlockResult{Outcome: OutcomeAlreadyUnlocked, Source: g.Source, Grant: g}, true, nil
	case errors.Is(err, ErrGrantNotFound):
		return nil, false, nil
	}
	return nil, false, err
}

// unlockTx runs the decision under the user's account lock.
func (c *Coffer) unlockTx(ctx context.Context, tx store.Tx, req UnlockRequest, price int64) (*UnlockResult, error) {
	acct, err := tx.LockAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	has, err := tx.HasGrant(ctx, req.UserID, req.Catalog, req.UnitID)
	if err != nil {
		return nil, err
	}
	if has {
		return &UnlockResult{Outcome: OutcomeAlreadyUnlocked}, nil
	}

	now := c.now().UTC()
	res := &UnlockResult{Outcome: OutcomeUnlockedFree, Source: entitlement.SourceFree}

	switch {
	case req.IsFree, !req.AdminLocked:
	default:
		subscribed, err := tx.IsSubscribed(ctx, req.UserID, now)
		if err != nil {
			return nil, err
		}
		if subscribed {
			res.Source = entitlement.SourceSubscription
			break
		}

		applied, err := c.applyLocked(ctx, tx, acct, ApplyRequest{
			UserID:         req.UserID,
			Delta:          -price,
			Reason:         wallet.ReasonUnlockPurchase,
			LinkType:       string(req.Catalog),
			LinkID:         req.UnitID,
			IdempotencyKey: UnlockKey(req.UserID, req.UnitID),
		})
		if err != nil {
			return nil, err
		}
		if applied.Replayed && (applied.Entry.LinkType != string(req.Catalog) || applied.Entry.LinkID != req.UnitID) {
			// The key has no catalog component; the earlier debit paid for
			// the other catalog's unit and cannot be reused here.
			return nil, fmt.Errorf("%w: %s/%s was paid by entry %s (key %q)", ErrUnlockKeyCollision,
				applied.Entry.LinkType, applied.Entry.LinkID, applied.Entry.ID, applied.Entry.IdempotencyKey)
		}
		res.Outcome = OutcomeUnlockedByPurchase
		res.Source = entitlement.SourcePurchase
		res.Entry = applied.Entry
		res.BalanceAfter = applied.BalanceAfter
		res.Replayed = applied.Replayed
	}

	g := &entitlement.Grant{
		ID:        id.NewGrantID(),
		UserID:    req.UserID,
		Catalog:   req.Catalog,
		UnitID:    req.UnitID,
		Source:    res.Source,
		GrantedAt: now,
	}
	created, err := tx.InsertGrant(ctx, g)
	if err != nil {
		return nil, err
	}
	if !created {
		// Roll back the debit; the next attempt sees the grant.
		return nil, fmt.Errorf("%w: grant %s/%s for %s", ErrAlreadyExists, req.Catalog, req.UnitID, req.UserID)
	}
	res.Grant = g
	return res, nil
}

// UnlockUnit unlocks a unit using the price and flags from the content
// directory.
func (c *Coffer) UnlockUnit(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (*UnlockResult, error) {
	if !catalog.IsValid() {
		return nil, invalid("catalog", fmt.Sprintf("unknown catalog %q", catalog))
	}
	if unitID == "" {
		return nil, invalid("content_unit_id", "required")
	}

	u, err := c.directory.Unit(ctx, catalog, unitID)
	if err != nil {
		if errors.Is(err, ErrUnitNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}

	return c.Unlock(ctx, UnlockRequest{
		UserID:      userID,
		Catalog:     catalog,
		UnitID:      unitID,
		Price:       u.Price,
		IsFree:      u.IsFree,
		AdminLocked: u.AdminLocked,
	})
}

// HasAccess reports whether the user holds a grant for the unit.
func (c *Coffer) HasAccess(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	req := UnlockRequest{UserID: userID, Catalog: catalog, UnitID: unitID}
	if err := req.validate(); err != nil {
		return false, err
	}
	_, ok, err := c.existingGrant(ctx, req)
	return ok, err
}

// Grant returns the user's grant for a unit.
func (c *Coffer) Grant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (*entitlement.Grant, error) {
	return c.store.GetGrant(ctx, userID, catalog, unitID)
}

// ListGrants lists a user's grants, newest first.
func (c *Coffer) ListGrants(ctx context.Context, userID string, opts entitlement.ListOpts) ([]*entitlement.Grant, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	if opts.Catalog != "" && !opts.Catalog.IsValid() {
		return nil, invalid("catalog", fmt.Sprintf("unknown catalog %q", opts.Catalog))
	}
	opts.Limit = pageSize(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return c.store.ListGrants(ctx, userID, opts)
}
