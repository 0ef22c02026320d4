package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// RunInTx runs fn in a READ COMMITTED transaction. Account rows are locked
// explicitly by LockAccount, so no stronger isolation is needed.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	if err := s.live(); err != nil {
		return err
	}

	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(fmt.Errorf("coffer/postgres: begin tx: %w", err))
	}
	defer pgtx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // no-op after commit

	if s.lockTimeout > 0 {
		if _, err := pgtx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout/time.Millisecond),
		); err != nil {
			return mapErr(fmt.Errorf("coffer/postgres: set lock timeout: %w", err))
		}
	}

	if err := fn(ctx, &tx{tx: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("coffer/postgres: commit: %w", err))
	}
	return nil
}

// tx implements store.Tx on one pgx transaction.
type tx struct {
	tx pgx.Tx
}

func (t *tx) LockAccount(ctx context.Context, userID string) (*cofferstore.Account, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO coffer_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, mapErr(fmt.Errorf("coffer/postgres: create account: %w", err))
	}

	a := cofferstore.Account{UserID: userID}
	if err := t.tx.QueryRow(ctx,
		`SELECT balance, version FROM coffer_accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&a.Balance, &a.Version); err != nil {
		return nil, mapErr(fmt.Errorf("coffer/postgres: lock account: %w", err))
	}
	return &a, nil
}

func (t *tx) SetBalance(ctx context.Context, userID string, balance, version int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE coffer_accounts SET balance = $2, version = $3, updated_at = NOW() WHERE user_id = $1`,
		userID, balance, version,
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/postgres: set balance: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("coffer/postgres: set balance: account %q not locked", userID)
	}
	return nil
}

func (t *tx) FindEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM coffer_wallet_entries WHERE idempotency_key = $1`,
		idempotencyKey,
	))
	if isNoRows(err) {
		return nil, coffer.ErrEntryNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (t *tx) InsertEntry(ctx context.Context, e *wallet.Entry) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO coffer_wallet_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), e.UserID, e.Seq, e.Delta, e.BalanceAfter, string(e.Reason),
		e.LinkType, e.LinkID, e.IdempotencyKey, e.CreatedAt.UTC(),
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/postgres: insert entry: %w", err))
	}
	return nil
}

func (t *tx) HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	var ok bool
	if err := t.tx.QueryRow(ctx, hasGrantSQL, userID, string(catalog), unitID).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func (t *tx) InsertGrant(ctx context.Context, g *entitlement.Grant) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
INSERT INTO coffer_grants (`+grantColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, catalog, unit_id) DO NOTHING`,
		g.ID.String(), g.UserID, string(g.Catalog), g.UnitID, string(g.Source), g.GrantedAt.UTC(),
	)
	if err != nil {
		return false, mapErr(fmt.Errorf("coffer/postgres: insert grant: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) IsSubscribed(ctx context.Context, userID string, at time.Time) (bool, error) {
	var ok bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM coffer_subscription_periods
	WHERE user_id = $1 AND start_at <= $2 AND end_at >= $2
)`, userID, at.UTC()).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func (t *tx) InsertPeriod(ctx context.Context, p *subscription.Period) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO coffer_subscription_periods (`+periodColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID.String(), p.UserID, p.Plan, p.StartAt.UTC(), p.EndAt.UTC(), p.Price,
		p.PaymentRef, p.CreatedAt.UTC(),
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/postgres: insert period: %w", err))
	}
	return nil
}

// SQLSTATE codes translated into Coffer sentinels.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// mapErr tags uniqueness violations with ErrAlreadyExists and transient
// lock and cancellation failures with ErrTransactionFailed.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %w", coffer.ErrAlreadyExists, err)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
	}
	return err
}
