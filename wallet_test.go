package coffer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/wallet"
)

func TestApplyValidation(t *testing.T) {
	c, s := newTestCoffer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   coffer.ApplyRequest
		field string
	}{
		{"missing user", coffer.ApplyRequest{Delta: 1, Reason: wallet.ReasonOther, IdempotencyKey: "k"}, "user_id"},
		{"missing key", coffer.ApplyRequest{UserID: "u", Delta: 1, Reason: wallet.ReasonOther}, "idempotency_key"},
		{"zero delta", coffer.ApplyRequest{UserID: "u", Reason: wallet.ReasonOther, IdempotencyKey: "k"}, "delta"},
		{"unknown reason", coffer.ApplyRequest{UserID: "u", Delta: 1, Reason: "gift", IdempotencyKey: "k"}, "reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Apply(ctx, tt.req)
			var ve coffer.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("Apply = %v, want validation error on %s", err, tt.field)
			}
			if !errors.Is(err, coffer.ErrInvalidInput) {
				t.Fatal("validation error must match ErrInvalidInput")
			}
		})
	}

	if entries, _ := s.ListEntries(ctx, "u", wallet.ListOpts{}); len(entries) != 0 {
		t.Fatalf("rejected requests wrote %d entries", len(entries))
	}
}

func TestCreditIsIdempotent(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()

	first, err := c.Credit(ctx, "u1", 100, "pay-abc")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if first.Replayed || first.BalanceAfter != 100 {
		t.Fatalf("first credit = %+v", first)
	}
	if first.Entry.LinkType != coffer.LinkPayment || first.Entry.LinkID != "pay-abc" {
		t.Errorf("credit link = %s/%s", first.Entry.LinkType, first.Entry.LinkID)
	}

	again, err := c.Credit(ctx, "u1", 100, "pay-abc")
	if err != nil {
		t.Fatalf("replayed Credit: %v", err)
	}
	if !again.Replayed || again.BalanceAfter != 100 || again.Entry.ID.String() != first.Entry.ID.String() {
		t.Fatalf("replay = %+v, want the stored entry", again)
	}

	if bal, _ := c.Balance(ctx, "u1"); bal != 100 {
		t.Fatalf("balance = %d, want 100", bal)
	}
}

func TestCreditFromProvider(t *testing.T) {
	c, _ := newTestCoffer(t)

	res, err := c.CreditFrom(context.Background(), "stripe", "u1", 25, "pi_123")
	if err != nil {
		t.Fatalf("CreditFrom: %v", err)
	}
	if res.Entry.LinkType != "stripe" || res.Entry.Reason != wallet.ReasonExternalCredit {
		t.Fatalf("entry = %+v", res.Entry)
	}

	if _, err := c.CreditFrom(context.Background(), "stripe", "u1", 0, "pi_124"); !errors.Is(err, coffer.ErrInvalidInput) {
		t.Fatalf("zero amount = %v, want ErrInvalidInput", err)
	}
	if _, err := c.Credit(context.Background(), "u1", 5, ""); !errors.Is(err, coffer.ErrInvalidInput) {
		t.Fatalf("empty token = %v, want ErrInvalidInput", err)
	}
}

func TestIdempotencyKeyOwnedByOneUser(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()

	if _, err := c.Credit(ctx, "alice", 30, "pay-shared"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	_, err := c.Credit(ctx, "bob", 30, "pay-shared")
	if !errors.Is(err, coffer.ErrIdempotencyConflict) {
		t.Fatalf("Credit by bob = %v, want ErrIdempotencyConflict", err)
	}

	if bal, _ := c.Balance(ctx, "bob"); bal != 0 {
		t.Errorf("bob balance = %d, want 0", bal)
	}
	if bal, _ := c.Balance(ctx, "alice"); bal != 30 {
		t.Errorf("alice balance = %d, want 30", bal)
	}
}

func TestConsume(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()
	fund(t, c, "u1", 30)

	_, err := c.Consume(ctx, "u1", 50, "", "spend-1")
	if !errors.Is(err, coffer.ErrInsufficientBalance) {
		t.Fatalf("overdraw = %v, want ErrInsufficientBalance", err)
	}
	if _, err := c.Entry(ctx, "spend-1"); !coffer.IsNotFound(err) {
		t.Fatalf("refused debit left an entry: %v", err)
	}

	res, err := c.Consume(ctx, "u1", 30, "", "spend-2")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if res.BalanceAfter != 0 || res.Entry.Delta != -30 || res.Entry.Reason != wallet.ReasonOther {
		t.Fatalf("consume = %+v", res.Entry)
	}

	if _, err := c.Consume(ctx, "u1", -5, "", "spend-3"); !errors.Is(err, coffer.ErrInvalidInput) {
		t.Fatalf("negative amount = %v, want ErrInvalidInput", err)
	}
}

func TestAdjust(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()

	res, err := c.Adjust(ctx, "u1", 15, "adj-1", "support ticket 42")
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if res.Entry.Reason != wallet.ReasonAdminAdjust || res.Entry.LinkID != "support ticket 42" {
		t.Fatalf("entry = %+v", res.Entry)
	}

	if _, err := c.Adjust(ctx, "u1", -20, "adj-2", ""); !errors.Is(err, coffer.ErrInsufficientBalance) {
		t.Fatalf("negative adjust past zero = %v, want ErrInsufficientBalance", err)
	}
}

func TestRefund(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()
	fund(t, c, "u1", 100)

	if _, err := c.Unlock(ctx, coffer.UnlockRequest{
		UserID: "u1", Catalog: entitlement.CatalogDigital, UnitID: "ep-1", Price: 40, AdminLocked: true,
	}); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	key := coffer.UnlockKey("u1", "ep-1")
	res, err := c.Refund(ctx, key)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if res.BalanceAfter != 100 || res.Entry.Reason != wallet.ReasonRefund || res.Entry.LinkID != "ep-1" {
		t.Fatalf("refund = %+v", res.Entry)
	}
	if res.Entry.IdempotencyKey != coffer.RefundKey(key) {
		t.Errorf("refund key = %q", res.Entry.IdempotencyKey)
	}

	again, err := c.Refund(ctx, key)
	if err != nil || !again.Replayed {
		t.Fatalf("second Refund = %+v, %v, want replay", again, err)
	}

	if ok, _ := c.HasAccess(ctx, "u1", entitlement.CatalogDigital, "ep-1"); !ok {
		t.Error("refund must not revoke the grant")
	}

	if _, err := c.Refund(ctx, "seed-u1"); !errors.Is(err, coffer.ErrInvalidInput) {
		t.Errorf("refund of a credit = %v, want ErrInvalidInput", err)
	}
	if _, err := c.Refund(ctx, "nope"); !coffer.IsNotFound(err) {
		t.Errorf("refund of missing entry = %v, want not found", err)
	}
}

func TestHistoryAndVerify(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()

	fund(t, c, "u1", 100)
	for i := range 3 {
		if _, err := c.Consume(ctx, "u1", 10, wallet.ReasonOther, fmt.Sprintf("c-%d", i)); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}

	hist, err := c.History(ctx, "u1", wallet.ListOpts{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 4 || hist[0].IdempotencyKey != "c-2" || hist[3].IdempotencyKey != "seed-u1" {
		t.Fatalf("history order wrong: %d entries", len(hist))
	}
	for i, e := range hist {
		if e.Seq != int64(len(hist)-i) {
			t.Errorf("entry %d seq = %d", i, e.Seq)
		}
	}

	if err := c.VerifyWallet(ctx, "u1"); err != nil {
		t.Fatalf("VerifyWallet: %v", err)
	}
	if err := c.VerifyWallet(ctx, "nobody"); err != nil {
		t.Fatalf("VerifyWallet(empty): %v", err)
	}
}

func TestVerifyWalletDoesNotCreateAccounts(t *testing.T) {
	c, s := newTestCoffer(t)
	ctx := context.Background()

	if err := c.VerifyWallet(ctx, "ghost"); err != nil {
		t.Fatalf("VerifyWallet: %v", err)
	}
	if _, err := s.GetAccount(ctx, "ghost"); !errors.Is(err, coffer.ErrNotFound) {
		t.Fatalf("GetAccount after verify = %v, want ErrNotFound", err)
	}
}

func TestVerifyWalletDetectsBrokenChain(t *testing.T) {
	c, s := newTestCoffer(t)
	ctx := context.Background()
	fund(t, c, "u1", 50)

	// An entry whose balance_after skips its delta.
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, "u1")
		if err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &wallet.Entry{
			ID:             id.NewEntryID(),
			UserID:         "u1",
			Seq:            acct.Version + 1,
			Delta:          10,
			BalanceAfter:   99,
			Reason:         wallet.ReasonOther,
			IdempotencyKey: "bad",
		}); err != nil {
			return err
		}
		return tx.SetBalance(ctx, "u1", 99, acct.Version+1)
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	if err := c.VerifyWallet(ctx, "u1"); !errors.Is(err, coffer.ErrLedgerCorrupt) {
		t.Fatalf("VerifyWallet = %v, want ErrLedgerCorrupt", err)
	}
}

func TestConcurrentCreditsApplyOnce(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()

	const workers = 20
	results := make([]*coffer.ApplyResult, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			res, err := c.Credit(ctx, "u1", 75, "pay-race")
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	applied := 0
	for _, r := range results {
		if !r.Replayed {
			applied++
		}
		if r.BalanceAfter != 75 {
			t.Errorf("balance_after = %d, want 75", r.BalanceAfter)
		}
	}
	if applied != 1 {
		t.Fatalf("%d credits applied, want 1", applied)
	}
	if bal, _ := c.Balance(ctx, "u1"); bal != 75 {
		t.Fatalf("balance = %d, want 75", bal)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx := context.Background()
	fund(t, c, "u1", 100)

	const workers = 10
	errs := make([]error, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			_, errs[i] = c.Consume(ctx, "u1", 30, wallet.ReasonOther, fmt.Sprintf("spend-%d", i))
			return nil
		})
	}
	_ = g.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, coffer.ErrInsufficientBalance):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 3 || short != workers-3 {
		t.Fatalf("ok=%d short=%d, want 3 and %d", ok, short, workers-3)
	}
	if bal, _ := c.Balance(ctx, "u1"); bal != 10 {
		t.Fatalf("balance = %d, want 10", bal)
	}
	if err := c.VerifyWallet(ctx, "u1"); err != nil {
		t.Fatalf("VerifyWallet: %v", err)
	}
}
