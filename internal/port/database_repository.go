package port

import (
	"context"
	"time"

	"github.com/rl1809/stockledger/internal/core/domain"
)

type LedgerRepository interface {
	// Atomically runs fn inside one unit of work. Every write made through tx
	// commits together or not at all.
	Atomically(ctx context.Context, fn func(tx LedgerTx) error) error

	GetItem(ctx context.Context, id string) (domain.Item, error)

	// ListItems returns one page, newest first, and the filtered total.
	ListItems(ctx context.Context, q domain.ItemQuery) ([]domain.Item, int, error)

	// ListMovements returns movements newest first; empty itemID lists all.
	ListMovements(ctx context.Context, itemID string) ([]domain.Movement, error)

	Summary(ctx context.Context, lowStockThreshold int) (domain.Summary, error)
}

// LedgerTx is the set of operations available inside a unit of work.
type LedgerTx interface {
	GetItem(ctx context.Context, id string) (domain.Item, error)

	InsertItem(ctx context.Context, item domain.Item) error

	// CompareAndSetStock writes next only if the stored stock still equals
	// expected. It returns false when the stock moved underneath the caller.
	CompareAndSetStock(ctx context.Context, id string, expected, next int, actor *string, at time.Time) (bool, error)

	UpdateDetails(ctx context.Context, item domain.Item, actor *string, at time.Time) error

	DeleteItem(ctx context.Context, id string) error

	AppendMovement(ctx context.Context, m domain.Movement) error
}
