package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// RunInTx runs fn in one IMMEDIATE transaction, which holds the database
// write lock from the first statement on.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	if err := s.live(); err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/sqlite: begin tx: %w", err))
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("coffer/sqlite: commit: %w", err))
	}
	return nil
}

// tx implements store.Tx on one database/sql transaction.
type tx struct {
	tx *sql.Tx
}

func (t *tx) LockAccount(ctx context.Context, userID string) (*cofferstore.Account, error) {
	now := toMillis(time.Now())
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO coffer_accounts (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, now, now,
	); err != nil {
		return nil, mapErr(fmt.Errorf("coffer/sqlite: create account: %w", err))
	}

	a := cofferstore.Account{UserID: userID}
	if err := t.tx.QueryRowContext(ctx,
		`SELECT balance, version FROM coffer_accounts WHERE user_id = ?`, userID,
	).Scan(&a.Balance, &a.Version); err != nil {
		return nil, mapErr(fmt.Errorf("coffer/sqlite: read account: %w", err))
	}
	return &a, nil
}

func (t *tx) SetBalance(ctx context.Context, userID string, balance, version int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE coffer_accounts SET balance = ?, version = ?, updated_at = ? WHERE user_id = ?`,
		balance, version, toMillis(time.Now()), userID,
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/sqlite: set balance: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("coffer/sqlite: set balance: account %q not locked", userID)
	}
	return nil
}

func (t *tx) FindEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error) {
	e, err := getEntry(ctx, t.tx, idempotencyKey)
	if err != nil && !errors.Is(err, coffer.ErrEntryNotFound) {
		return nil, mapErr(err)
	}
	return e, err
}

func (t *tx) InsertEntry(ctx context.Context, e *wallet.Entry) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO coffer_wallet_entries (`+entryColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID, e.Seq, e.Delta, e.BalanceAfter, string(e.Reason),
		e.LinkType, e.LinkID, e.IdempotencyKey, toMillis(e.CreatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/sqlite: insert entry: %w", err))
	}
	return nil
}

func (t *tx) HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	ok, err := hasGrant(ctx, t.tx, userID, catalog, unitID)
	return ok, mapErr(err)
}

func (t *tx) InsertGrant(ctx context.Context, g *entitlement.Grant) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO coffer_grants (`+grantColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, catalog, unit_id) DO NOTHING`,
		g.ID.String(), g.UserID, string(g.Catalog), g.UnitID, string(g.Source), toMillis(g.GrantedAt),
	)
	if err != nil {
		return false, mapErr(fmt.Errorf("coffer/sqlite: insert grant: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (t *tx) IsSubscribed(ctx context.Context, userID string, at time.Time) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (
	SELECT 1 FROM coffer_subscription_periods
	WHERE user_id = ?1 AND start_at <= ?2 AND end_at >= ?2
)`, userID, toMillis(at)).Scan(&ok)
	return ok, mapErr(err)
}

func (t *tx) InsertPeriod(ctx context.Context, p *subscription.Period) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO coffer_subscription_periods (`+periodColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.UserID, p.Plan, toMillis(p.StartAt), toMillis(p.EndAt), p.Price,
		p.PaymentRef, toMillis(p.CreatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/sqlite: insert period: %w", err))
	}
	return nil
}
