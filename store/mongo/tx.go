package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/entitlement"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// RunInTx runs fn in a session transaction. The driver re-runs fn on
// transient transaction errors such as write conflicts.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	if err := s.live(); err != nil {
		return err
	}

	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("coffer/mongo: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, &tx{s: s})
	})
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", coffer.ErrTransactionFailed, err)
	}
	return err
}

// tx implements store.Tx. Its methods must be called with the context
// handed to the RunInTx callback, which carries the session.
type tx struct {
	s *Store
}

func (t *tx) LockAccount(ctx context.Context, userID string) (*cofferstore.Account, error) {
	now := time.Now().UTC()
	var m accountModel
	err := t.s.col(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$set":         bson.M{"locked_at": now},
			"$setOnInsert": bson.M{"balance": int64(0), "version": int64(0), "created_at": now, "updated_at": now},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, mapErr(fmt.Errorf("coffer/mongo: lock account: %w", err))
	}
	return &cofferstore.Account{UserID: userID, Balance: m.Balance, Version: m.Version}, nil
}

func (t *tx) SetBalance(ctx context.Context, userID string, balance, version int64) error {
	if balance < 0 {
		return fmt.Errorf("coffer/mongo: set balance: negative balance %d", balance)
	}
	res, err := t.s.col(colAccounts).UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"balance": balance, "version": version, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return mapErr(fmt.Errorf("coffer/mongo: set balance: %w", err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("coffer/mongo: set balance: account %q not locked", userID)
	}
	return nil
}

func (t *tx) FindEntry(ctx context.Context, idempotencyKey string) (*wallet.Entry, error) {
	return findEntry(ctx, t.s.col(colEntries), idempotencyKey)
}

func (t *tx) InsertEntry(ctx context.Context, e *wallet.Entry) error {
	if _, err := t.s.col(colEntries).InsertOne(ctx, toEntryModel(e)); err != nil {
		return mapErr(fmt.Errorf("coffer/mongo: insert entry: %w", err))
	}
	return nil
}

func (t *tx) HasGrant(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) (bool, error) {
	return hasGrant(ctx, t.s.col(colGrants), userID, catalog, unitID)
}

func (t *tx) InsertGrant(ctx context.Context, g *entitlement.Grant) (bool, error) {
	m := toGrantModel(g)
	res, err := t.s.col(colGrants).UpdateOne(ctx,
		grantFilter(g.UserID, g.Catalog, g.UnitID),
		bson.M{"$setOnInsert": bson.M{
			"_id":        m.ID,
			"source":     m.Source,
			"granted_at": m.GrantedAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, mapErr(fmt.Errorf("coffer/mongo: insert grant: %w", err))
	}
	return res.UpsertedCount == 1, nil
}

func (t *tx) IsSubscribed(ctx context.Context, userID string, at time.Time) (bool, error) {
	n, err := t.s.col(colPeriods).CountDocuments(ctx, activeFilter(userID, at), options.Count().SetLimit(1))
	if err != nil {
		return false, mapErr(fmt.Errorf("coffer/mongo: is subscribed: %w", err))
	}
	return n > 0, nil
}

func (t *tx) InsertPeriod(ctx context.Context, p *subscription.Period) error {
	if _, err := t.s.col(colPeriods).InsertOne(ctx, toPeriodModel(p)); err != nil {
		return mapErr(fmt.Errorf("coffer/mongo: insert period: %w", err))
	}
	return nil
}

// mapErr tags duplicate keys with ErrAlreadyExists.
func mapErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", coffer.ErrAlreadyExists, err)
	}
	return err
}
