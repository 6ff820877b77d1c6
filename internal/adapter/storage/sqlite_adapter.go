package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) schema() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS items (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT    NOT NULL UNIQUE,
			name          TEXT    NOT NULL,
			sku           TEXT    NOT NULL UNIQUE,
			category      TEXT    NOT NULL,
			current_stock INTEGER NOT NULL CHECK (current_stock >= 0),
			version       INTEGER NOT NULL DEFAULT 1,
			inserted_at   INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			updated_by    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_category_seq ON items (category, seq)`, `
		CREATE TABLE IF NOT EXISTS movements (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT    NOT NULL UNIQUE,
			item_id         TEXT    NOT NULL,
			quantity_change INTEGER NOT NULL CHECK (quantity_change <> 0),
			performed_by    TEXT,
			performed_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_item ON movements (item_id, performed_at)`,
	}
}

func (sqliteDialect) isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func NewSQLiteAdapter(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: sqliteDialect{}}
}

// OpenSQLite opens (or creates) the database file at path. SQLite allows a
// single writer, so the pool is limited to one connection and every unit of
// work is serialized.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	store := NewSQLiteAdapter(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
