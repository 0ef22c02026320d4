package coffer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/wallet"
)

// Paging limits for wallet history.
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// LinkPayment is the link type of credits from the payment gateway.
const LinkPayment = "payment"

// ApplyRequest describes one balance mutation.
type ApplyRequest struct {
	UserID         string
	Delta          int64
	Reason         wallet.Reason
	LinkType       string
	LinkID         string
	IdempotencyKey string
}

func (r ApplyRequest) validate() error {
	switch {
	case r.UserID == "":
		return invalid("user_id", "required")
	case r.IdempotencyKey == "":
		return invalid("idempotency_key", "required")
	case r.Delta == 0:
		return invalid("delta", "must be non-zero")
	case !r.Reason.IsValid():
		return invalid("reason", fmt.Sprintf("unknown reason %q", r.Reason))
	}
	return nil
}

// ApplyResult is the outcome of Apply. Replayed is set when the key had
// already been applied and nothing changed.
type ApplyResult struct {
	Entry        *wallet.Entry
	BalanceAfter int64
	Replayed     bool
}

// Apply mutates a user's balance exactly once per idempotency key.
func (c *Coffer) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := c.startSpan(ctx, "coffer.Apply",
		attribute.String("coffer.user_id", req.UserID),
		attribute.Int64("coffer.delta", req.Delta),
		attribute.String("coffer.reason", string(req.Reason)),
	)
	defer span.End()

	var res *ApplyResult
	err := c.runTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		res, err = c.applyLocked(ctx, tx, acct, req)
		return err
	})
	if err != nil {
		c.emitApplyFailure(ctx, req, err)
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Bool("coffer.replayed", res.Replayed))
	c.emitApplied(ctx, res)
	return res, nil
}

// applyLocked runs the ledger step against an account the caller has already
// locked in tx. acct is advanced in place on success.
func (c *Coffer) applyLocked(ctx context.Context, tx store.Tx, acct *store.Account, req ApplyRequest) (*ApplyResult, error) {
	existing, err := tx.FindEntry(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		if existing.UserID != req.UserID {
			return nil, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, req.IdempotencyKey)
		}
		return &ApplyResult{Entry: existing, BalanceAfter: existing.BalanceAfter, Replayed: true}, nil
	case !errors.Is(err, ErrEntryNotFound):
		return nil, err
	}

	if req.Delta > 0 && acct.Balance > math.MaxInt64-req.Delta {
		return nil, invalid("delta", "balance overflow")
	}
	next := acct.Balance + req.Delta
	if next < 0 {
		return nil, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, acct.Balance, req.Delta)
	}

	version := acct.Version + 1
	e := &wallet.Entry{
		ID:             id.NewEntryID(),
		UserID:         req.UserID,
		Seq:            version,
		Delta:          req.Delta,
		BalanceAfter:   next,
		Reason:         req.Reason,
		LinkType:       req.LinkType,
		LinkID:         req.LinkID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      c.now().UTC(),
	}
	if err := tx.InsertEntry(ctx, e); err != nil {
		return nil, err
	}
	if err := tx.SetBalance(ctx, req.UserID, next, version); err != nil {
		return nil, err
	}

	acct.Balance, acct.Version = next, version
	return &ApplyResult{Entry: e, BalanceAfter: next}, nil
}

func (c *Coffer) emitApplied(ctx context.Context, res *ApplyResult) {
	if res.Replayed {
		c.plugins.EmitWalletReplayed(ctx, res.Entry)
		return
	}
	c.plugins.EmitWalletApplied(ctx, res.Entry)
}

func (c *Coffer) emitApplyFailure(ctx context.Context, req ApplyRequest, err error) {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		c.plugins.EmitInsufficientBalance(ctx, req.UserID, req.Delta, req.Reason)
	case errors.Is(err, ErrIdempotencyConflict):
		c.logger.Warn("idempotency key reused by another user",
			"user_id", req.UserID,
			"idempotency_key", req.IdempotencyKey,
		)
		c.plugins.EmitIdempotencyConflict(ctx, req.UserID, req.IdempotencyKey)
	}
}

// ──────────────────────────────────────────────────
// Wallet operations
// ──────────────────────────────────────────────────

// Credit records coins bought through the payment gateway. The payment token
// is the idempotency key, so webhook retries are replays.
func (c *Coffer) Credit(ctx context.Context, userID string, amount int64, paymentToken string) (*ApplyResult, error) {
	return c.CreditFrom(ctx, LinkPayment, userID, amount, paymentToken)
}

// CreditFrom is Credit with an explicit payment provider as the link type.
func (c *Coffer) CreditFrom(ctx context.Context, provider, userID string, amount int64, paymentToken string) (*ApplyResult, error) {
	if amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}
	if paymentToken == "" {
		return nil, invalid("payment_token", "required")
	}
	if provider == "" {
		provider = LinkPayment
	}
	return c.Apply(ctx, ApplyRequest{
		UserID:         userID,
		Delta:          amount,
		Reason:         wallet.ReasonExternalCredit,
		LinkType:       provider,
		LinkID:         paymentToken,
		IdempotencyKey: paymentToken,
	})
}

// Consume debits amount coins under a caller-chosen key. An empty reason is
// recorded as wallet.ReasonOther.
func (c *Coffer) Consume(ctx context.Context, userID string, amount int64, reason wallet.Reason, key string) (*ApplyResult, error) {
	if amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}
	if reason == "" {
		reason = wallet.ReasonOther
	}
	return c.Apply(ctx, ApplyRequest{
		UserID:         userID,
		Delta:          -amount,
		Reason:         reason,
		IdempotencyKey: key,
	})
}

// Adjust applies an operator correction of either sign.
func (c *Coffer) Adjust(ctx context.Context, userID string, delta int64, key, note string) (*ApplyResult, error) {
	req := ApplyRequest{
		UserID:         userID,
		Delta:          delta,
		Reason:         wallet.ReasonAdminAdjust,
		IdempotencyKey: key,
	}
	if note != "" {
		req.LinkType, req.LinkID = "admin", note
	}
	return c.Apply(ctx, req)
}

// RefundKey is the idempotency key of the refund of originalKey.
func RefundKey(originalKey string) string { return "refund:" + originalKey }

// Refund credits back an unlock purchase. The grant it paid for is kept.
func (c *Coffer) Refund(ctx context.Context, originalKey string) (*ApplyResult, error) {
	if originalKey == "" {
		return nil, invalid("idempotency_key", "required")
	}

	orig, err := c.store.GetEntry(ctx, originalKey)
	if err != nil {
		return nil, err
	}
	if orig.Reason != wallet.ReasonUnlockPurchase || !orig.IsDebit() {
		return nil, invalid("idempotency_key", "entry is not a purchase debit")
	}

	return c.Apply(ctx, ApplyRequest{
		UserID:         orig.UserID,
		Delta:          -orig.Delta,
		Reason:         wallet.ReasonRefund,
		LinkType:       orig.LinkType,
		LinkID:         orig.LinkID,
		IdempotencyKey: RefundKey(originalKey),
	})
}

// Balance returns a user's cached balance. Unknown users have balance 0.
func (c *Coffer) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, invalid("user_id", "required")
	}
	return c.store.GetBalance(ctx, userID)
}

// History lists a user's entries, newest first.
func (c *Coffer) History(ctx context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Entry, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	opts.Limit = pageSize(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return c.store.ListEntries(ctx, userID, opts)
}

// Entry looks up an entry by its idempotency key.
func (c *Coffer) Entry(ctx context.Context, key string) (*wallet.Entry, error) {
	if key == "" {
		return nil, invalid("idempotency_key", "required")
	}
	return c.store.GetEntry(ctx, key)
}

// VerifyWallet replays a user's entries and checks that every balance_after
// follows from its predecessor and that the last one matches the balance.
func (c *Coffer) VerifyWallet(ctx context.Context, userID string) error {
	if userID == "" {
		return invalid("user_id", "required")
	}

	// Entries written after this read carry a higher seq and are skipped.
	acct, err := c.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var (
		balance int64
		seq     int64
	)
	opts := wallet.ListOpts{Limit: maxPageSize, Ascending: true}
	for seq < acct.Version {
		page, err := c.store.ListEntries(ctx, userID, opts)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if e.Seq > acct.Version {
				break
			}
			seq++
			if e.Seq != seq {
				return fmt.Errorf("%w: user %s: entry %s has seq %d, want %d", ErrLedgerCorrupt, userID, e.ID, e.Seq, seq)
			}
			if balance+e.Delta != e.BalanceAfter {
				return fmt.Errorf("%w: user %s: entry %s balance_after %d, want %d", ErrLedgerCorrupt, userID, e.ID, e.BalanceAfter, balance+e.Delta)
			}
			balance = e.BalanceAfter
		}
		opts.Offset += len(page)
	}

	if seq != acct.Version {
		return fmt.Errorf("%w: user %s: %d entries, account version %d", ErrLedgerCorrupt, userID, seq, acct.Version)
	}
	if balance != acct.Balance {
		return fmt.Errorf("%w: user %s: ledger sums to %d, balance is %d", ErrLedgerCorrupt, userID, balance, acct.Balance)
	}
	return nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
