package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/port"
)

const itemColumns = `id, name, sku, category, current_stock, version, inserted_at, updated_at, updated_by`

type dialect interface {
	name() string
	schema() []string
	isUniqueViolation(err error) bool
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is the ledger store on top of database/sql. The MySQL and SQLite
// adapters differ only in schema and error classification.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ port.LedgerRepository = (*SQLStore)(nil)

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name(), err)
		}
	}
	return nil
}

func (s *SQLStore) Atomically(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{q: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("commit", err)
	}
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, s.db, id)
}

func (s *SQLStore) ListItems(ctx context.Context, q domain.ItemQuery) ([]domain.Item, int, error) {
	category := string(q.Category)

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items WHERE (? = '' OR category = ?)`,
		category, category,
	).Scan(&total)
	if err != nil {
		return nil, 0, persistenceErr("count items", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE (? = '' OR category = ?)
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`,
		category, category, q.PageSize, q.Offset(),
	)
	if err != nil {
		return nil, 0, persistenceErr("query items", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, q.PageSize)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, persistenceErr("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, persistenceErr("iterate items", err)
	}
	return items, total, nil
}

func (s *SQLStore) ListMovements(ctx context.Context, itemID string) ([]domain.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, quantity_change, performed_by, performed_at
		FROM movements
		WHERE (? = '' OR item_id = ?)
		ORDER BY performed_at DESC, seq DESC`,
		itemID, itemID,
	)
	if err != nil {
		return nil, persistenceErr("query movements", err)
	}
	defer rows.Close()

	var movements []domain.Movement
	for rows.Next() {
		var (
			m           domain.Movement
			performedBy sql.NullString
			performedAt int64
		)
		if err := rows.Scan(&m.ID, &m.ItemID, &m.QuantityChange, &performedBy, &performedAt); err != nil {
			return nil, persistenceErr("scan movement", err)
		}
		m.PerformedBy = nullString(performedBy)
		m.PerformedAt = fromNanos(performedAt)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate movements", err)
	}
	return movements, nil
}

func (s *SQLStore) Summary(ctx context.Context, lowStockThreshold int) (domain.Summary, error) {
	var total, stock, low int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(current_stock), 0),
		       COALESCE(SUM(CASE WHEN current_stock < ? THEN 1 ELSE 0 END), 0)
		FROM items`, lowStockThreshold,
	).Scan(&total, &stock, &low)
	if err != nil {
		return domain.Summary{}, persistenceErr("summarize items", err)
	}
	return domain.Summary{TotalSKUs: int(total), TotalStock: int(stock), LowCount: int(low)}, nil
}

type sqlTx struct {
	q       querier
	dialect dialect
}

func (t *sqlTx) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, t.q, id)
}

func (t *sqlTx) InsertItem(ctx context.Context, item domain.Item) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.SKU, string(item.Category), item.CurrentStock, item.Version,
		toNanos(item.InsertedAt), toNanos(item.UpdatedAt), item.UpdatedBy,
	)
	if err != nil {
		if t.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: sku %q already exists", domain.ErrValidation, item.SKU)
		}
		return persistenceErr("insert item", err)
	}
	return nil
}

func (t *sqlTx) CompareAndSetStock(ctx context.Context, id string, expected, next int, actor *string, at time.Time) (bool, error) {
	result, err := t.q.ExecContext(ctx, `
		UPDATE items
		SET current_stock = ?, version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ? AND current_stock = ?`,
		next, toNanos(at), actor, id, expected,
	)
	if err != nil {
		return false, persistenceErr("update stock", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, persistenceErr("update stock", err)
	}
	return rows == 1, nil
}

func (t *sqlTx) UpdateDetails(ctx context.Context, item domain.Item, actor *string, at time.Time) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE items
		SET name = ?, sku = ?, category = ?, version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ?`,
		item.Name, item.SKU, string(item.Category), toNanos(at), actor, item.ID,
	)
	if err != nil {
		if t.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: sku %q already exists", domain.ErrValidation, item.SKU)
		}
		return persistenceErr("update details", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistenceErr("update details", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, item.ID)
	}
	return nil
}

func (t *sqlTx) DeleteItem(ctx context.Context, id string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return persistenceErr("delete item", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistenceErr("delete item", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, id)
	}
	return nil
}

func (t *sqlTx) AppendMovement(ctx context.Context, m domain.Movement) error {
	if m.QuantityChange == 0 {
		return fmt.Errorf("%w: movement must change quantity", domain.ErrValidation)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO movements (id, item_id, quantity_change, performed_by, performed_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ItemID, m.QuantityChange, m.PerformedBy, toNanos(m.PerformedAt),
	)
	if err != nil {
		return persistenceErr("insert movement", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getItem(ctx context.Context, q querier, id string) (domain.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("%w: item %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Item{}, persistenceErr("query item", err)
	}
	return item, nil
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item                 domain.Item
		category             string
		insertedAt, updateAt int64
		updatedBy            sql.NullString
	)
	err := row.Scan(&item.ID, &item.Name, &item.SKU, &category, &item.CurrentStock, &item.Version,
		&insertedAt, &updateAt, &updatedBy)
	if err != nil {
		return domain.Item{}, err
	}
	item.Category = domain.Category(category)
	item.InsertedAt = fromNanos(insertedAt)
	item.UpdatedAt = fromNanos(updateAt)
	item.UpdatedBy = nullString(updatedBy)
	return item, nil
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

// Timestamps are stored as unix nanoseconds so both dialects order and
// round-trip them identically.
func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
