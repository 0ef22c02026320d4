// Package mongo implements store.Store on MongoDB.
//
// Transactions need a replica set or sharded cluster. Each unit of work runs
// in a session transaction; the account document is written on lock, so two
// transactions touching one user conflict and the driver retries the loser.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// Collection name constants.
const (
	colAccounts = "coffer_accounts"
	colEntries  = "coffer_wallet_entries"
	colGrants   = "coffer_grants"
	colPeriods  = "coffer_subscription_periods"
	colCounters = "coffer_engagement_counters"
)

// compile-time interface check
var _ cofferstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	db     *mongo.Database
	grove  *grove.DB
	owned  bool
	closed atomic.Bool
}

// New creates a store on db. The caller keeps ownership of the client.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// NewFromGrove creates a store on the database behind a grove MongoDB handle.
// Close closes the grove handle.
func NewFromGrove(db *grove.DB) *Store {
	mdb := mongodriver.Unwrap(db)
	return &Store{
		db:    mdb.Collection(colAccounts).Database(),
		grove: db,
	}
}

// Open connects to uri and uses the database named database. The store owns
// the client and disconnects it on Close.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("coffer/mongo: ping: %w", err)
	}
	s := New(client.Database(database))
	s.owned = true
	return s, nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

// ==================== Core ====================

// Migrate creates indexes for all coffer collections.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	for col, models := range migrationIndexes() {
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("coffer/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.grove != nil {
		return s.grove.Ping(ctx)
	}
	return s.db.Client().Ping(ctx, nil)
}

// Close releases the connection when the store owns it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	switch {
	case s.grove != nil:
		return s.grove.Close()
	case s.owned:
		return s.db.Client().Disconnect(context.Background())
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
	var m accountModel
	err := s.col(colAccounts).FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("coffer/mongo: get balance: %w", err)
	}
	return m.Balance, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*cofferstore.Account, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var m accountModel
	err := s.col(colAccounts).FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: get account: %w", err)
	}
	return &cofferstore.Account{UserID: userID, Balance: m.Balance, Version: m.Version}, nil
}

func (s *Store) GetEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	return findEntry(ctx, s.col(colEntries), idempotencyKey)
}

func findEntry(ctx context.Context, col *mongo.Collection, idempotencyKey string) (*wallet.Entry, error) {
	var m entryModel
	err := col.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrEntryNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	order := -1
	if opts.Ascending {
		order = 1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: order}})
	page(findOpts, opts.Offset, opts.Limit)

	var models []entryModel
	if err := s.findAll(ctx, colEntries, bson.M{"user_id": userID}, findOpts, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list entries: %w", err)
	}
	return fromModels(models, fromEntryModel)
}

// ==================== Entitlement reads ====================

func (s *Store) HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	if err := s.live(); err != nil {
		return false, err
	}
	return hasGrant(ctx, s.col(colGrants), userID, catalog, unitID)
}

func hasGrant(ctx context.Context, col *mongo.Collection, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	n, err := col.CountDocuments(ctx, grantFilter(userID, catalog, unitID), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("coffer/mongo: has grant: %w", err)
	}
	return n > 0, nil
}

func grantFilter(userID string, catalog entitlement.Catalog, unitID string) bson.M {
	return bson.M{"user_id": userID, "catalog": string(catalog), "unit_id": unitID}
}

func (s *Store) GetGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (*entitlement.Grant, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var m grantModel
	err := s.col(colGrants).FindOne(ctx, grantFilter(userID, catalog, unitID)).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrGrantNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: get grant: %w", err)
	}
	return fromGrantModel(&m)
}

func (s *Store) ListGrants(ctx context.Context, userID string, opts entitlement.ListOpts) ([]*entitlement.Grant, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	filter := bson.M{"user_id": userID}
	if opts.Catalog != "" {
		filter["catalog"] = string(opts.Catalog)
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "granted_at", Value: -1}, {Key: "_id", Value: -1}})
	page(findOpts, opts.Offset, opts.Limit)

	var models []grantModel
	if err := s.findAll(ctx, colGrants, filter, findOpts, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list grants: %w", err)
	}
	return fromModels(models, fromGrantModel)
}

// ==================== Subscription reads ====================

func activeFilter(userID string, at time.Time) bson.M {
	at = at.UTC()
	return bson.M{
		"user_id":  userID,
		"start_at": bson.M{"$lte": at},
		"end_at":   bson.M{"$gte": at},
	}
}

func (s *Store) GetActivePeriod(ctx context.Context, userID string, at time.Time) (*subscription.Period, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var m periodModel
	err := s.col(colPeriods).FindOne(ctx, activeFilter(userID, at),
		options.FindOne().SetSort(bson.D{{Key: "end_at", Value: -1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("coffer/mongo: get active period: %w", err)
	}
	return fromPeriodModel(&m)
}

func (s *Store) ListPeriods(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Period, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	page(findOpts, opts.Offset, opts.Limit)

	var models []periodModel
	if err := s.findAll(ctx, colPeriods, bson.M{"user_id": userID}, findOpts, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list periods: %w", err)
	}
	return fromModels(models, fromPeriodModel)
}

// ==================== Engagement counters ====================

func (s *Store) GetCounters(ctx context.Context, userID string) (*engagement.Counters, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var m countersModel
	err := s.col(colCounters).FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("coffer/mongo: get counters: %w", err)
	}
	return fromCountersModel(&m)
}

func (s *Store) PutCounters(ctx context.Context, c *engagement.Counters) error {
	if err := s.live(); err != nil {
		return err
	}
	createdAt, updatedAt := c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	if c.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := s.col(colCounters).UpdateOne(ctx,
		bson.M{"_id": c.UserID},
		bson.M{
			"$set": bson.M{
				"read_count":    c.ReadCount,
				"watch_count":   c.WatchCount,
				"streak_days":   c.StreakDays,
				"last_activity": c.LastActivity.String(),
				"updated_at":    updatedAt,
			},
			"$setOnInsert": bson.M{"created_at": createdAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("coffer/mongo: put counters: %w", err)
	}
	return nil
}

func (s *Store) TopCounters(ctx context.Context, catalog entitlement.Catalog, limit int) ([]*engagement.Counters, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var field string
	switch catalog {
	case entitlement.CatalogDigital:
		field = "read_count"
	case entitlement.CatalogMotion:
		field = "watch_count"
	default:
		return []*engagement.Counters{}, nil
	}
	findOpts := options.Find().SetSort(bson.D{{Key: field, Value: -1}, {Key: "_id", Value: 1}})
	page(findOpts, 0, limit)

	var models []countersModel
	if err := s.findAll(ctx, colCounters, bson.M{field: bson.M{"$gt": 0}}, findOpts, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: top counters: %w", err)
	}
	return fromModels(models, fromCountersModel)
}

// ==================== Helpers ====================

func (s *Store) findAll(ctx context.Context, col string, filter bson.M, opts *options.FindOptionsBuilder, out any) error {
	cursor, err := s.col(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func page(opts *options.FindOptionsBuilder, offset, limit int) {
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all coffer collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEntries: {
			{
				Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colGrants: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "catalog", Value: 1}, {Key: "unit_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "granted_at", Value: -1}}},
		},
		colPeriods: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "end_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colCounters: {
			{Keys: bson.D{{Key: "read_count", Value: -1}}},
			{Keys: bson.D{{Key: "watch_count", Value: -1}}},
		},
	}
}
