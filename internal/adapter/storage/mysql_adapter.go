package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) schema() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS items (
			seq           BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			id            VARCHAR(36)  NOT NULL UNIQUE,
			name          VARCHAR(255) NOT NULL,
			sku           VARCHAR(128) NOT NULL UNIQUE,
			category      VARCHAR(32)  NOT NULL,
			current_stock BIGINT       NOT NULL CHECK (current_stock >= 0),
			version       BIGINT       NOT NULL DEFAULT 1,
			inserted_at   BIGINT       NOT NULL,
			updated_at    BIGINT       NOT NULL,
			updated_by    VARCHAR(255) NULL,
			INDEX idx_items_category_seq (category, seq)
		)`, `
		CREATE TABLE IF NOT EXISTS movements (
			seq             BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			id              VARCHAR(36)  NOT NULL UNIQUE,
			item_id         VARCHAR(36)  NOT NULL,
			quantity_change BIGINT       NOT NULL CHECK (quantity_change <> 0),
			performed_by    VARCHAR(255) NULL,
			performed_at    BIGINT       NOT NULL,
			INDEX idx_movements_item (item_id, performed_at)
		)`,
	}
}

func (mysqlDialect) isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// NewMySQLAdapter wraps an open MySQL pool. Movements have no foreign key to
// items so they survive item deletion.
func NewMySQLAdapter(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: mysqlDialect{}}
}

// OpenMySQL connects, verifies the connection and migrates the schema.
func OpenMySQL(ctx context.Context, dsn string, maxOpenConns int) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := NewMySQLAdapter(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
