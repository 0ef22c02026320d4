package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memory.New()
	})
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	if err := s.Ping(ctx); !errors.Is(err, coffer.ErrStoreClosed) {
		t.Errorf("Ping = %v, want ErrStoreClosed", err)
	}
	if _, err := s.GetBalance(ctx, "u1"); !errors.Is(err, coffer.ErrStoreClosed) {
		t.Errorf("GetBalance = %v, want ErrStoreClosed", err)
	}
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockAccount(ctx, "u1")
		return err
	})
	if !errors.Is(err, coffer.ErrStoreClosed) {
		t.Errorf("RunInTx = %v, want ErrStoreClosed", err)
	}
}

func TestExpiredContextDiscardsWrites(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, "u1"); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, "u1", 10, 1); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, coffer.ErrTransactionFailed) {
		t.Fatalf("RunInTx = %v, want ErrTransactionFailed", err)
	}
	if bal, _ := s.GetBalance(context.Background(), "u1"); bal != 0 {
		t.Fatalf("balance = %d, want 0 after aborted commit", bal)
	}
}

func TestNegativeBalanceRejected(t *testing.T) {
	s := memory.New()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, "u1"); err != nil {
			return err
		}
		return tx.SetBalance(ctx, "u1", -1, 1)
	})
	if err == nil {
		t.Fatal("expected error for negative balance")
	}
}
