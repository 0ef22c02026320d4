// Package sqlite implements store.Store on a single SQLite file.
//
// Write transactions begin IMMEDIATE, so SQLite's database-wide write lock
// serializes every balance mutation; timestamps are stored as Unix
// milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/id"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/wallet"
)

// compile-time interface check
var _ cofferstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("coffer/sqlite: storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("coffer/sqlite: ping: %w", err)
	}
	return New(db), nil
}

// New wraps an already opened database. Callers opening it themselves should
// set _txlock=immediate and a busy timeout.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the raw database handle.
func (s *Store) DB() *sql.DB { return s.db }

// ==================== Core ====================

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return migrate(ctx, s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) live() error {
	if s.closed.Load() {
		return coffer.ErrStoreClosed
	}
	return nil
}

// ==================== Wallet reads ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM coffer_accounts WHERE user_id = ?`, userID,
	).Scan(&balance)
	if isNoRows(err) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*cofferstore.Account, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	a := cofferstore.Account{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, version FROM coffer_accounts WHERE user_id = ?`, userID,
	).Scan(&a.Balance, &a.Version)
	if isNoRows(err) {
		return nil, coffer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: get account: %w", err)
	}
	return &a, nil
}

func (s *Store) GetEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	return getEntry(ctx, s.db, idempotencyKey)
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	order := "DESC"
	if opts.Ascending {
		order = "ASC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM coffer_wallet_entries
		WHERE user_id = ? ORDER BY seq `+order+` LIMIT ? OFFSET ?`,
		userID, limitArg(opts.Limit), max(opts.Offset, 0),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

// ==================== Entitlement reads ====================

func (s *Store) HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	if err := s.live(); err != nil {
		return false, err
	}
	return hasGrant(ctx, s.db, userID, catalog, unitID)
}

func (s *Store) GetGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (*entitlement.Grant, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	g, err := scanGrant(s.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM coffer_grants
		WHERE user_id = ? AND catalog = ? AND unit_id = ?`,
		userID, string(catalog), unitID,
	))
	if isNoRows(err) {
		return nil, coffer.ErrGrantNotFound
	}
	return g, err
}

func (s *Store) ListGrants(ctx context.Context, userID string, opts entitlement.ListOpts) ([]*entitlement.Grant, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM coffer_grants
		WHERE user_id = ?1 AND (?2 = '' OR catalog = ?2)
		ORDER BY granted_at DESC, id DESC LIMIT ?3 OFFSET ?4`,
		userID, string(opts.Catalog), limitArg(opts.Limit), max(opts.Offset, 0),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanGrant)
}

// ==================== Subscription reads ====================

func (s *Store) GetActivePeriod(ctx context.Context, userID string, at time.Time) (*subscription.Period, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	p, err := scanPeriod(s.db.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM coffer_subscription_periods
		WHERE user_id = ?1 AND start_at <= ?2 AND end_at >= ?2
		ORDER BY end_at DESC LIMIT 1`,
		userID, toMillis(at),
	))
	if isNoRows(err) {
		return nil, coffer.ErrNoActiveSubscription
	}
	return p, err
}

func (s *Store) ListPeriods(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Period, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+periodColumns+` FROM coffer_subscription_periods
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limitArg(opts.Limit), max(opts.Offset, 0),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPeriod)
}

// ==================== Engagement counters ====================

func (s *Store) GetCounters(ctx context.Context, userID string) (*engagement.Counters, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	c, err := scanCounters(s.db.QueryRowContext(ctx,
		`SELECT `+counterColumns+` FROM coffer_engagement_counters WHERE user_id = ?`,
		userID,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

func (s *Store) PutCounters(ctx context.Context, c *engagement.Counters) error {
	if err := s.live(); err != nil {
		return err
	}
	createdAt, updatedAt := c.CreatedAt, c.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO coffer_engagement_counters (`+counterColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    read_count = excluded.read_count,
    watch_count = excluded.watch_count,
    streak_days = excluded.streak_days,
    last_activity = excluded.last_activity,
    updated_at = excluded.updated_at`,
		c.UserID, c.ReadCount, c.WatchCount, c.StreakDays, c.LastActivity.String(),
		toMillis(createdAt), toMillis(updatedAt),
	)
	return mapErr(err)
}

func (s *Store) TopCounters(ctx context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var column string
	switch catalog {
	case entitlement.CatalogDigital:
		column = "read_count"
	case entitlement.CatalogMotion:
		column = "watch_count"
	default:
		return []*engagement.Counters{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+counterColumns+` FROM coffer_engagement_counters
		WHERE `+column+` > 0 ORDER BY `+column+` DESC, user_id ASC LIMIT ?`,
		limitArg(limit),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCounters)
}

// ==================== Rows ====================

const (
	entryColumns   = `id, user_id, seq, delta, balance_after, reason, link_type, link_id, idempotency_key, created_at`
	grantColumns   = `id, user_id, catalog, unit_id, source, granted_at`
	periodColumns  = `id, user_id, plan, start_at, end_at, price, payment_ref, created_at`
	counterColumns = `user_id, read_count, watch_count, streak_days, last_activity, created_at, updated_at`
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getEntry(ctx context.Context, q queryer, idempotencyKey string) (*wallet.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM coffer_wallet_entries WHERE idempotency_key = ?`,
		idempotencyKey,
	))
	if isNoRows(err) {
		return nil, coffer.ErrEntryNotFound
	}
	return e, err
}

func hasGrant(ctx context.Context, q queryer, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (
	SELECT 1 FROM coffer_grants WHERE user_id = ? AND catalog = ? AND unit_id = ?
)`, userID, string(catalog), unitID).Scan(&ok)
	return ok, err
}

func scanEntry(row scanner) (*wallet.Entry, error) {
	var (
		e         wallet.Entry
		rawID     string
		reason    string
		createdAt int64
	)
	if err := row.Scan(&rawID, &e.UserID, &e.Seq, &e.Delta, &e.BalanceAfter, &reason,
		&e.LinkType, &e.LinkID, &e.IdempotencyKey, &createdAt); err != nil {
		return nil, err
	}
	entryID, err := id.ParseEntryID(rawID)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: entry %q: %w", rawID, err)
	}
	e.ID = entryID
	e.Reason = wallet.Reason(reason)
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func scanGrant(row scanner) (*entitlement.Grant, error) {
	var g entitlement.Grant
	var rawID, catalog, source string
	var grantedAt int64
	if err := row.Scan(&rawID, &g.UserID, &catalog, &g.UnitID, &source, &grantedAt); err != nil {
		return nil, err
	}
	grantID, err := id.ParseGrantID(rawID)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: grant %q: %w", rawID, err)
	}
	g.ID = grantID
	g.Catalog = entitlement.Catalog(catalog)
	g.Source = entitlement.Source(source)
	g.GrantedAt = fromMillis(grantedAt)
	return &g, nil
}

func scanPeriod(row scanner) (*subscription.Period, error) {
	var p subscription.Period
	var rawID string
	var startAt, endAt, createdAt int64
	if err := row.Scan(&rawID, &p.UserID, &p.Plan, &startAt, &endAt, &p.Price,
		&p.PaymentRef, &createdAt); err != nil {
		return nil, err
	}
	periodID, err := id.ParsePeriodID(rawID)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: period %q: %w", rawID, err)
	}
	p.ID = periodID
	p.StartAt = fromMillis(startAt)
	p.EndAt = fromMillis(endAt)
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func scanCounters(row scanner) (*engagement.Counters, error) {
	var (
		c                    engagement.Counters
		last                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.UserID, &c.ReadCount, &c.WatchCount, &c.StreakDays, &last,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	day, err := types.ParseDay(last)
	if err != nil {
		return nil, err
	}
	c.LastActivity = day
	c.Entity = types.Entity{CreatedAt: fromMillis(createdAt), UpdatedAt: fromMillis(updatedAt)}
	return &c, nil
}

func collect[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	result := make([]*T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// limitArg maps a non-positive limit to -1, which SQLite reads as no limit.
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapErr tags uniqueness violations with ErrAlreadyExists and lock
// contention that outlived the busy timeout with ErrTransactionFailed.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch code := sqliteErr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE"):
			return fmt.Errorf("%w: %w", coffer.ErrAlreadyExists, err)
		case code == sqlite3.SQLITE_BUSY, code == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
	}
	return err
}
