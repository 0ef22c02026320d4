// Package postgres implements store.Store on PostgreSQL.
//
// Queries and transactions run on a pgx connection pool. Row locks on
// coffer_accounts serialize each user's balance mutations, and unique
// indexes on idempotency keys and grant keys settle cross-transaction races.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// compile-time interface check
var _ cofferstore.Store = (*Store)(nil)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	db          *grove.DB
	lockTimeout time.Duration
	closed      atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithGrove runs migrations through the grove orchestrator on db, so that
// Coffer's schema is versioned alongside the application's other groups.
func WithGrove(db *grove.DB) Option {
	return func(s *Store) { s.db = db }
}

// WithLockTimeout sets the per-transaction lock_timeout. Zero disables it.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New creates a store on pool. The store owns the pool and closes it on
// Close.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and returns a store on the new pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: connect: %w", err)
	}
	return New(pool, opts...), nil
}

// Pool returns the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// ==================== Core ====================

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db != nil {
		executor, err := migrate.NewExecutorFor(pgdriver.Unwrap(s.db))
		if err != nil {
			return fmt.Errorf("coffer/postgres: create migration executor: %w", err)
		}
		if _, err := migrate.NewOrchestrator(executor, Migrations).Migrate(ctx); err != nil {
			return fmt.Errorf("coffer/postgres: migration failed: %w", err)
		}
		return nil
	}
	return s.migratePool(ctx)
}

// migrationLockID is the advisory lock key serializing concurrent migrators.
const migrationLockID = 0x636f66666572

func (s *Store) migratePool(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("coffer/postgres: begin migration: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
		return fmt.Errorf("coffer/postgres: migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS coffer_schema_migrations (
    version     TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("coffer/postgres: create migrations table: %w", err)
	}

	for _, st := range steps {
		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM coffer_schema_migrations WHERE version = $1)`,
			st.version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("coffer/postgres: check %s: %w", st.name, err)
		}
		if applied {
			continue
		}
		if _, err := tx.Exec(ctx, st.up); err != nil {
			return fmt.Errorf("coffer/postgres: apply %s: %w", st.name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO coffer_schema_migrations (version, name) VALUES ($1, $2)`,
			st.version, st.name,
		); err != nil {
			return fmt.Errorf("coffer/postgres: record %s: %w", st.name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("coffer/postgres: commit migration: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return coffer.ErrStoreClosed
	}
	return s.pool.Ping(ctx)
}

// Close closes the pool. A grove database passed with WithGrove stays open.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
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
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM coffer_accounts WHERE user_id = $1`, userID,
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
	err := s.pool.QueryRow(ctx,
		`SELECT balance, version FROM coffer_accounts WHERE user_id = $1`, userID,
	).Scan(&a.Balance, &a.Version)
	if isNoRows(err) {
		return nil, coffer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: get account: %w", err)
	}
	return &a, nil
}

func (s *Store) GetEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM coffer_wallet_entries WHERE idempotency_key = $1`,
		idempotencyKey,
	))
	if isNoRows(err) {
		return nil, coffer.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	order := "DESC"
	if opts.Ascending {
		order = "ASC"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM coffer_wallet_entries
		WHERE user_id = $1 ORDER BY seq `+order+` LIMIT $2 OFFSET $3`,
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
	var ok bool
	err := s.pool.QueryRow(ctx, hasGrantSQL, userID, string(catalog), unitID).Scan(&ok)
	return ok, err
}

const hasGrantSQL = `SELECT EXISTS (
	SELECT 1 FROM coffer_grants WHERE user_id = $1 AND catalog = $2 AND unit_id = $3
)`

func (s *Store) GetGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (*entitlement.Grant, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	g, err := scanGrant(s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM coffer_grants
		WHERE user_id = $1 AND catalog = $2 AND unit_id = $3`,
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
	rows, err := s.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM coffer_grants
		WHERE user_id = $1 AND ($2 = '' OR catalog = $2)
		ORDER BY granted_at DESC, id DESC LIMIT $3 OFFSET $4`,
		userID, string(opts.Catalog), limitArg(opts.Limit), max(opts.Offset, 0),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanGrant)
}

// ==================== Subscription reads ====================

const activePeriodSQL = `SELECT ` + periodColumns + ` FROM coffer_subscription_periods
	WHERE user_id = $1 AND start_at <= $2 AND end_at >= $2
	ORDER BY end_at DESC LIMIT 1`

func (s *Store) GetActivePeriod(ctx context.Context, userID string, at time.Time) (*subscription.Period, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	p, err := scanPeriod(s.pool.QueryRow(ctx, activePeriodSQL, userID, at.UTC()))
	if isNoRows(err) {
		return nil, coffer.ErrNoActiveSubscription
	}
	return p, err
}

func (s *Store) ListPeriods(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Period, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+periodColumns+` FROM coffer_subscription_periods
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
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
	c, err := scanCounters(s.pool.QueryRow(ctx,
		`SELECT `+counterColumns+` FROM coffer_engagement_counters WHERE user_id = $1`,
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
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO coffer_engagement_counters (`+counterColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
    read_count = EXCLUDED.read_count,
    watch_count = EXCLUDED.watch_count,
    streak_days = EXCLUDED.streak_days,
    last_activity = EXCLUDED.last_activity,
    updated_at = EXCLUDED.updated_at`,
		c.UserID, c.ReadCount, c.WatchCount, c.StreakDays, c.LastActivity.String(),
		createdAt, updatedAt,
	)
	return err
}

func (s *Store) TopCounters(ctx context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	column, ok := counterColumn(catalog)
	if !ok {
		return []*engagement.Counters{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+counterColumns+` FROM coffer_engagement_counters
		WHERE `+column+` > 0 ORDER BY `+column+` DESC, user_id ASC LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCounters)
}

func counterColumn(catalog entitlement.Catalog) (string, bool) {
	switch catalog {
	case entitlement.CatalogDigital:
		return "read_count", true
	case entitlement.CatalogMotion:
		return "watch_count", true
	}
	return "", false
}

// limitArg maps a non-positive limit to SQL NULL, which Postgres reads as
// LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
