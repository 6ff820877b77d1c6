// Package mutation turns user stock intents into ledger writes and patches
// the view with the confirmed result. Nothing is applied locally before the
// server confirms, so there is nothing to roll back.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/viewcache"
)

type LedgerAPI interface {
	GetItem(ctx context.Context, id string) (domain.Item, error)
	UpdateStock(ctx context.Context, id string, upd domain.StockUpdate) (domain.Item, error)
	DeleteItem(ctx context.Context, id string) error
}

// ViewPatcher is the part of the view cache the coordinator writes to.
type ViewPatcher interface {
	ApplyMutationResult(item domain.Item)
	Reload(ctx context.Context) (viewcache.Window, error)
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notification is a transient message for the user.
type Notification struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to logger.
func LogNotifier(logger *slog.Logger) Notifier {
	return NotifierFunc(func(n Notification) {
		if n.Level == LevelError {
			logger.Error(n.Message)
			return
		}
		logger.Info(n.Message, "level", string(n.Level))
	})
}

type Outcome struct {
	Item domain.Item
	Plan Plan
}

type Coordinator struct {
	api    LedgerAPI
	view   ViewPatcher
	notify Notifier
	logger *slog.Logger
}

func NewCoordinator(api LedgerAPI, view ViewPatcher, notify Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = LogNotifier(logger)
	}
	return &Coordinator{api: api, view: view, notify: notify, logger: logger}
}

func (c *Coordinator) Add(ctx context.Context, item domain.Item, amount int) (Outcome, error) {
	return c.Adjust(ctx, item, IntentAdd, amount)
}

func (c *Coordinator) Deduct(ctx context.Context, item domain.Item, amount int) (Outcome, error) {
	return c.Adjust(ctx, item, IntentDeduct, amount)
}

func (c *Coordinator) Move(ctx context.Context, item domain.Item, delta int) (Outcome, error) {
	return c.Adjust(ctx, item, IntentMove, delta)
}

// Adjust writes the planned stock, guarded by the stock the plan was computed
// from, and patches the view with the server's result.
func (c *Coordinator) Adjust(ctx context.Context, item domain.Item, intent Intent, amount int) (Outcome, error) {
	plan, err := PlanStock(intent, item.CurrentStock, amount)
	if err != nil {
		c.fail(err)
		return Outcome{}, err
	}

	expected := item.CurrentStock
	updated, err := c.api.UpdateStock(ctx, item.ID, domain.StockUpdate{
		NewStock:      plan.NewStock,
		ExpectedStock: &expected,
	})
	if err != nil {
		c.fail(err)
		return Outcome{}, err
	}

	if c.view != nil {
		c.view.ApplyMutationResult(updated)
	}

	msg := fmt.Sprintf("Stock updated for %q", updated.Name)
	if plan.Capped {
		msg += " (capped at 0)"
	}
	c.notify.Notify(Notification{Level: LevelSuccess, Message: msg})
	return Outcome{Item: updated, Plan: plan}, nil
}

// Delete removes the item and reloads the window. A local patch cannot know
// which row should fill the vacated slot.
func (c *Coordinator) Delete(ctx context.Context, item domain.Item) error {
	if err := c.api.DeleteItem(ctx, item.ID); err != nil {
		c.fail(err)
		return err
	}
	c.notify.Notify(Notification{Level: LevelInfo, Message: fmt.Sprintf("Deleted %q", item.Name)})

	if c.view != nil {
		if _, err := c.view.Reload(ctx); err != nil &&
			!errors.Is(err, viewcache.ErrSuperseded) && !errors.Is(err, viewcache.ErrNoWindow) {
			c.logger.Warn("reload after delete failed", "item", item.ID, "error", err)
		}
	}
	return nil
}

// StockDialog is the confirm flow for one stock intent on one item. The
// payload is the amount the user typed.
type StockDialog struct {
	*Dialog[int]

	coord  *Coordinator
	intent Intent

	mu   sync.Mutex
	item domain.Item
	plan Plan
}

// StockDialog returns a confirm flow for intent on item.
func (c *Coordinator) StockDialog(item domain.Item, intent Intent) *StockDialog {
	s := &StockDialog{coord: c, intent: intent, item: item}
	s.Dialog = NewDialog(s.review, s.commit)
	return s
}

// Item returns the item the next review is checked against.
func (s *StockDialog) Item() domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.item
}

// Plan returns the plan of the last successful review.
func (s *StockDialog) Plan() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

func (s *StockDialog) review(amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, err := ReviewStock(s.intent, s.item.CurrentStock, amount)
	if err != nil {
		return err
	}
	s.plan = plan
	return nil
}

// commit writes the reviewed amount. On a conflict the item is re-read so
// that the next review and confirm are based on the stock now stored.
func (s *StockDialog) commit(ctx context.Context, amount int) error {
	item := s.Item()
	out, err := s.coord.Adjust(ctx, item, s.intent, amount)
	if err == nil {
		s.setItem(out.Item)
		return nil
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		fresh, rerr := s.coord.api.GetItem(ctx, item.ID)
		if rerr != nil {
			s.coord.logger.Warn("re-read after conflict failed", "item", item.ID, "error", rerr)
			return err
		}
		s.setItem(fresh)
		if s.coord.view != nil {
			s.coord.view.ApplyMutationResult(fresh)
		}
	}
	return err
}

func (s *StockDialog) setItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.item = item
}

// DeleteDialog returns a confirm flow for deleting item.
func (c *Coordinator) DeleteDialog(item domain.Item) *Dialog[domain.Item] {
	d := NewDialog(
		func(it domain.Item) error {
			if it.ID == "" {
				return fmt.Errorf("%w: no item selected", domain.ErrValidation)
			}
			return nil
		},
		c.Delete,
	)
	_ = d.Edit(item)
	return d
}

func (c *Coordinator) fail(err error) {
	c.notify.Notify(Notification{Level: LevelError, Message: err.Error()})
}
