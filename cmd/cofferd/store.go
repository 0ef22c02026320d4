package main

import (
	"context"
	"fmt"

	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/store/mongo"
	"github.com/xraph/coffer/store/postgres"
	"github.com/xraph/coffer/store/sqlite"
)

// openStore connects the configured backend. The caller owns the result.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	case "mongo":
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
