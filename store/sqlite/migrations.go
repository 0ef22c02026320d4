package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationTable = "coffer_schema_migrations"

// migrate applies every embedded migration that is not yet recorded, each in
// its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name        TEXT PRIMARY KEY,
    applied_at  INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("coffer/sqlite: ensure migration table: %w", err)
	}

	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("coffer/sqlite: list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := applyMigration(ctx, db, name); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, name string) error {
	content, err := migrationFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: read %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: begin %s: %w", name, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var found int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&found)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("coffer/sqlite: check %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, upSection(string(content))); err != nil {
		return fmt.Errorf("coffer/sqlite: apply %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
		name, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("coffer/sqlite: record %s: %w", name, err)
	}
	return tx.Commit()
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"

	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}
