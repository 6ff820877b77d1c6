package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/port"
)

const idempotencyKeyPrefix = "create-item:"

// LedgerService is the only writer of item stock. Every stock change and its
// movement are committed in one unit of work.
type LedgerService struct {
	repo      port.LedgerRepository
	publisher port.ChangePublisher
	idem      port.IdempotencyRepository
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

type Option func(*LedgerService)

// WithPublisher sends committed changes to p.
func WithPublisher(p port.ChangePublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// WithIdempotency enables duplicate detection for item creation.
func WithIdempotency(r port.IdempotencyRepository) Option {
	return func(s *LedgerService) { s.idem = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

func NewLedgerService(repo port.LedgerRepository, opts ...Option) *LedgerService {
	s := &LedgerService{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// ClaimRequest rejects a second create carrying the same idempotency key.
func (s *LedgerService) ClaimRequest(ctx context.Context, key string) error {
	if s.idem == nil || key == "" {
		return nil
	}
	ok, err := s.idem.SetIdempotency(ctx, idempotencyKeyPrefix+key)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateRequest
	}
	return nil
}

// CreateItemOnce creates the item unless key was already used by a create
// that succeeded or is still in flight. A failed create frees the key, so the
// caller can retry with a corrected request.
func (s *LedgerService) CreateItemOnce(ctx context.Context, key string, in domain.NewItem, actor *string) (domain.Item, error) {
	if err := in.Validate(); err != nil {
		return domain.Item{}, err
	}
	if err := s.ClaimRequest(ctx, key); err != nil {
		return domain.Item{}, err
	}

	item, err := s.CreateItem(ctx, in, actor)
	if err != nil {
		s.releaseRequest(ctx, key)
		return domain.Item{}, err
	}
	return item, nil
}

func (s *LedgerService) releaseRequest(ctx context.Context, key string) {
	if s.idem == nil || key == "" {
		return
	}
	if err := s.idem.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKeyPrefix+key); err != nil {
		s.logger.Warn("idempotency key release failed", "key", key, "error", err)
	}
}

// CreateItem inserts the item and its initiating movement together.
func (s *LedgerService) CreateItem(ctx context.Context, in domain.NewItem, actor *string) (domain.Item, error) {
	if err := in.Validate(); err != nil {
		return domain.Item{}, err
	}

	at := s.now()
	item := domain.Details{Name: &in.Name, SKU: &in.SKU, Category: &in.Category}.Apply(domain.Item{
		ID:           s.newID(),
		CurrentStock: in.CurrentStock,
		Version:      1,
		InsertedAt:   at,
		UpdatedAt:    at,
		UpdatedBy:    actor,
	})

	err := s.repo.Atomically(ctx, func(tx port.LedgerTx) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		if item.CurrentStock == 0 {
			return nil
		}
		return tx.AppendMovement(ctx, domain.Movement{
			ID:             s.newID(),
			ItemID:         item.ID,
			QuantityChange: item.CurrentStock,
			PerformedBy:    actor,
			PerformedAt:    at,
		})
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info("item created", "item", item.ID, "sku", item.SKU, "stock", item.CurrentStock)
	s.publish(ctx, domain.InsertEvent(item))
	return item, nil
}

// UpdateStock sets the item's stock and records the difference as a movement.
func (s *LedgerService) UpdateStock(ctx context.Context, id string, upd domain.StockUpdate, actor *string) (domain.Item, error) {
	return s.UpdateItem(ctx, id, domain.ItemPatch{Stock: &upd}, actor)
}

// UpdateDetails changes name, sku or category. The ledger is not touched.
func (s *LedgerService) UpdateDetails(ctx context.Context, id string, d domain.Details, actor *string) (domain.Item, error) {
	return s.UpdateItem(ctx, id, domain.ItemPatch{Details: d}, actor)
}

// UpdateItem applies the details and stock parts of patch in one unit of work.
func (s *LedgerService) UpdateItem(ctx context.Context, id string, patch domain.ItemPatch, actor *string) (domain.Item, error) {
	if err := patch.Validate(); err != nil {
		return domain.Item{}, err
	}

	var before, after domain.Item
	var diff int
	err := s.repo.Atomically(ctx, func(tx port.LedgerTx) error {
		current, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		before = current
		at := s.now()

		if !patch.Details.Empty() {
			if err := tx.UpdateDetails(ctx, patch.Details.Apply(current), actor, at); err != nil {
				return err
			}
		}

		if patch.Stock != nil {
			old := current.CurrentStock
			if exp := patch.Stock.ExpectedStock; exp != nil && *exp != old {
				return fmt.Errorf("%w: item %s has stock %d, expected %d",
					domain.ErrConcurrencyConflict, id, old, *exp)
			}

			ok, err := tx.CompareAndSetStock(ctx, id, old, patch.Stock.NewStock, actor, at)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: stock of item %s changed during update", domain.ErrConcurrencyConflict, id)
			}

			diff = patch.Stock.NewStock - old
			if diff != 0 {
				if err := tx.AppendMovement(ctx, domain.Movement{
					ID:             s.newID(),
					ItemID:         id,
					QuantityChange: diff,
					PerformedBy:    actor,
					PerformedAt:    at,
				}); err != nil {
					return err
				}
			}
		}

		after, err = tx.GetItem(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.logger.Warn("stock update conflict", "item", id, "error", err)
		}
		return domain.Item{}, fmt.Errorf("update item: %w", err)
	}

	if patch.Stock != nil {
		s.logger.Info("stock updated", "item", id, "old", before.CurrentStock, "new", after.CurrentStock, "diff", diff)
	}
	s.publish(ctx, domain.UpdateEvent(before, after))
	return after, nil
}

// DeleteItem removes the item. Its movements stay in the ledger.
func (s *LedgerService) DeleteItem(ctx context.Context, id string) error {
	var before domain.Item
	err := s.repo.Atomically(ctx, func(tx port.LedgerTx) error {
		current, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		before = current
		return tx.DeleteItem(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	s.logger.Info("item deleted", "item", id)
	s.publish(ctx, domain.DeleteEvent(before))
	return nil
}

func (s *LedgerService) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *LedgerService) ListItems(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error) {
	if err := q.Validate(); err != nil {
		return domain.ItemPage{}, err
	}
	items, count, err := s.repo.ListItems(ctx, q)
	if err != nil {
		return domain.ItemPage{}, fmt.Errorf("list items: %w", err)
	}
	if items == nil {
		items = []domain.Item{}
	}
	return domain.ItemPage{Data: items, Count: count}, nil
}

func (s *LedgerService) ListMovements(ctx context.Context, itemID string) ([]domain.Movement, error) {
	movements, err := s.repo.ListMovements(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	if movements == nil {
		movements = []domain.Movement{}
	}
	return movements, nil
}

func (s *LedgerService) Summary(ctx context.Context) (domain.Summary, error) {
	return s.repo.Summary(ctx, domain.LowStockThreshold)
}

// publish never fails the caller; feed consumers reconcile by reloading.
func (s *LedgerService) publish(ctx context.Context, event domain.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("change feed publish failed", "event", event.EventType, "item", event.ItemID(), "error", err)
	}
}
