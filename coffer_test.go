package coffer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCoffer(t *testing.T, opts ...coffer.Option) (*coffer.Coffer, *memory.Store) {
	t.Helper()
	s := memory.New()
	return coffer.New(s, opts...), s
}

func fund(t *testing.T, c *coffer.Coffer, userID string, amount int64) {
	t.Helper()
	if _, err := c.Credit(context.Background(), userID, amount, "seed-"+userID); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
}

func TestStartStopDrainsEngagementQueue(t *testing.T) {
	var recorded atomic.Int64
	rec := engagement.RecorderFunc(func(context.Context, string, entitlement.Catalog) error {
		time.Sleep(time.Millisecond)
		recorded.Add(1)
		return nil
	})
	c, _ := newTestCoffer(t, coffer.WithRecorder(rec), coffer.WithEngagementQueue(64))

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const units = 20
	for i := range units {
		_, err := c.Unlock(ctx, coffer.UnlockRequest{
			UserID:  "reader",
			Catalog: entitlement.CatalogDigital,
			UnitID:  string(rune('a' + i)),
			IsFree:  true,
		})
		if err != nil {
			t.Fatalf("Unlock: %v", err)
		}
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := recorded.Load(); got != units {
		t.Fatalf("recorded %d first grants, want %d", got, units)
	}
}

// slowStore never finishes a transaction before its deadline.
type slowStore struct {
	store.Store
}

func (slowStore) RunInTx(ctx context.Context, _ func(context.Context, store.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTransactionTimeoutIsRetryable(t *testing.T) {
	c := coffer.New(slowStore{memory.New()}, coffer.WithTxTimeout(20*time.Millisecond))

	_, err := c.Credit(context.Background(), "u1", 10, "pay-1")
	if !errors.Is(err, coffer.ErrTransactionFailed) {
		t.Fatalf("Credit = %v, want ErrTransactionFailed", err)
	}
	if !coffer.IsRetryable(err) {
		t.Fatal("timeout should be retryable")
	}
}

func TestCallerCancellationDoesNotAbortTransaction(t *testing.T) {
	c, _ := newTestCoffer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Credit(ctx, "u1", 40, "pay-cancelled")
	if err != nil {
		t.Fatalf("Credit with cancelled caller: %v", err)
	}
	if res.BalanceAfter != 40 {
		t.Fatalf("balance_after = %d, want 40", res.BalanceAfter)
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		conflict  bool
		retryable bool
	}{
		{"entry not found", coffer.ErrEntryNotFound, true, false, false},
		{"unit not found", coffer.ErrUnitNotFound, true, false, false},
		{"no subscription", coffer.ErrNoActiveSubscription, true, false, false},
		{"idempotency conflict", coffer.ErrIdempotencyConflict, false, true, false},
		{"subscription active", coffer.ErrSubscriptionActive, false, true, false},
		{"unlock key collision", coffer.ErrUnlockKeyCollision, false, true, false},
		{"transaction failed", coffer.ErrTransactionFailed, false, false, true},
		{"insufficient balance", coffer.ErrInsufficientBalance, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coffer.IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v", got)
			}
			if got := coffer.IsConflict(tt.err); got != tt.conflict {
				t.Errorf("IsConflict = %v", got)
			}
			if got := coffer.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v", got)
			}
		})
	}

	var ve coffer.ValidationError
	err := error(coffer.ValidationError{Field: "amount", Message: "must be positive"})
	if !errors.Is(err, coffer.ErrInvalidInput) || !errors.As(err, &ve) || ve.Field != "amount" {
		t.Fatalf("ValidationError does not unwrap to ErrInvalidInput: %v", err)
	}
}
