package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/mongo"
	"github.com/xraph/coffer/store/storetest"
)

// Set COFFER_TEST_MONGO_URI to a replica set to run these, e.g.
// mongodb://localhost:27017/?replicaSet=rs0
func openStore(t *testing.T) *mongo.Store {
	t.Helper()

	uri := os.Getenv("COFFER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("COFFER_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := mongo.Open(ctx, uri, "coffer_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t)
	})
}

func TestClosedStore(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(context.Background()), coffer.ErrStoreClosed)
	_, err := s.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, coffer.ErrStoreClosed)
}
