package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Coffer store. It is used
// when the store is given a grove database; otherwise the same steps are
// applied over the pgx pool and tracked in coffer_schema_migrations.
var Migrations = migrate.NewGroup("coffer")

type step struct {
	name    string
	version string
	up      string
	down    string
}

var steps = []step{
	{
		name:    "create_coffer_accounts",
		version: "20250101000001",
		up: `
CREATE TABLE IF NOT EXISTS coffer_accounts (
    user_id     TEXT PRIMARY KEY,
    balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    version     BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
		down: `DROP TABLE IF EXISTS coffer_accounts`,
	},
	{
		name:    "create_coffer_wallet_entries",
		version: "20250101000002",
		up: `
CREATE TABLE IF NOT EXISTS coffer_wallet_entries (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    seq              BIGINT NOT NULL,
    delta            BIGINT NOT NULL,
    balance_after    BIGINT NOT NULL CHECK (balance_after >= 0),
    reason           TEXT NOT NULL,
    link_type        TEXT NOT NULL DEFAULT '',
    link_id          TEXT NOT NULL DEFAULT '',
    idempotency_key  TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_coffer_entries_key ON coffer_wallet_entries (idempotency_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_coffer_entries_user_seq ON coffer_wallet_entries (user_id, seq);
`,
		down: `DROP TABLE IF EXISTS coffer_wallet_entries`,
	},
	{
		name:    "create_coffer_grants",
		version: "20250101000003",
		up: `
CREATE TABLE IF NOT EXISTS coffer_grants (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    catalog     TEXT NOT NULL,
    unit_id     TEXT NOT NULL,
    source      TEXT NOT NULL,
    granted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_coffer_grants_unit ON coffer_grants (user_id, catalog, unit_id);
CREATE INDEX IF NOT EXISTS idx_coffer_grants_user_time ON coffer_grants (user_id, granted_at DESC);
`,
		down: `DROP TABLE IF EXISTS coffer_grants`,
	},
	{
		name:    "create_coffer_subscription_periods",
		version: "20250101000004",
		up: `
CREATE TABLE IF NOT EXISTS coffer_subscription_periods (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    plan         TEXT NOT NULL,
    start_at     TIMESTAMPTZ NOT NULL,
    end_at       TIMESTAMPTZ NOT NULL,
    price        BIGINT NOT NULL DEFAULT 0,
    payment_ref  TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (end_at > start_at)
);

CREATE INDEX IF NOT EXISTS idx_coffer_periods_user_end ON coffer_subscription_periods (user_id, end_at DESC);
`,
		down: `DROP TABLE IF EXISTS coffer_subscription_periods`,
	},
	{
		name:    "create_coffer_engagement_counters",
		version: "20250101000005",
		up: `
CREATE TABLE IF NOT EXISTS coffer_engagement_counters (
    user_id        TEXT PRIMARY KEY,
    read_count     BIGINT NOT NULL DEFAULT 0,
    watch_count    BIGINT NOT NULL DEFAULT 0,
    streak_days    BIGINT NOT NULL DEFAULT 0,
    last_activity  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_coffer_counters_read ON coffer_engagement_counters (read_count DESC);
CREATE INDEX IF NOT EXISTS idx_coffer_counters_watch ON coffer_engagement_counters (watch_count DESC);
`,
		down: `DROP TABLE IF EXISTS coffer_engagement_counters`,
	},
}

func init() {
	for _, st := range steps {
		Migrations.MustRegister(&migrate.Migration{
			Name:    st.name,
			Version: st.version,
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, st.up)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, st.down)
				return err
			},
		})
	}
}
