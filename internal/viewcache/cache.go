// Package viewcache keeps a client's paginated window over the catalog in
// step with mutation results and change feed events.
//
// Local patches are cheap and eventually correct: an insert only shifts the
// first page, and pages after it are flagged stale rather than re-offset. A
// window becomes exact again on the next Load.
package viewcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rl1809/stockledger/internal/core/domain"
)

// maxPending bounds the events buffered while a load is in flight.
const maxPending = 1024

var (
	ErrSuperseded = errors.New("window key superseded")
	ErrNoWindow   = errors.New("no window loaded")
)

// Key identifies one window: a page of a given size under a category filter.
type Key struct {
	Page     int
	PageSize int
	Category domain.Category
}

func (k Key) Query() domain.ItemQuery {
	return domain.ItemQuery{Page: k.Page, PageSize: k.PageSize, Category: k.Category}
}

func (k Key) String() string {
	if k.Category == "" {
		return fmt.Sprintf("page=%d size=%d", k.Page, k.PageSize)
	}
	return fmt.Sprintf("page=%d size=%d category=%s", k.Page, k.PageSize, k.Category)
}

// Window is a snapshot of the cached page.
type Window struct {
	Key        Key
	Items      []domain.Item
	TotalCount int
	// Stale is set when local patches may have left the window's offsets or
	// count approximate. A reload clears it.
	Stale bool
}

type Fetcher interface {
	ListItems(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error)
}

// Cache holds the window for the active key. Fetch results, mutation results
// and feed events all merge through the same primitives, so arrival order
// does not change the outcome.
type Cache struct {
	mu      sync.Mutex
	fetcher Fetcher
	logger  *slog.Logger

	key    Key
	hasKey bool
	gen    uint64
	win    *window

	loading bool
	pending []domain.ChangeEvent
}

func New(fetcher Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{fetcher: fetcher, logger: logger}
}

// Load fetches a fresh window for key and makes key active. A response that
// arrives after another Load started is discarded with ErrSuperseded.
func (c *Cache) Load(ctx context.Context, key Key) (Window, error) {
	if err := key.Query().Validate(); err != nil {
		return Window{}, err
	}

	c.mu.Lock()
	if !c.hasKey || c.key != key {
		c.key = key
		c.hasKey = true
		c.win = nil
		c.pending = nil
	}
	c.gen++
	gen := c.gen
	c.loading = true
	c.mu.Unlock()

	page, err := c.fetcher.ListItems(ctx, key.Query())

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.hasKey || c.key != key {
		return Window{}, ErrSuperseded
	}
	c.loading = false
	if err != nil {
		c.pending = nil
		if c.win != nil {
			c.win.stale = true
		}
		return Window{}, fmt.Errorf("load %s: %w", key, err)
	}

	c.win = newWindow(key, page)
	for _, event := range c.pending {
		c.win.apply(event, true)
	}
	c.pending = nil
	return c.win.snapshot(), nil
}

// Reload refetches the active window.
func (c *Cache) Reload(ctx context.Context) (Window, error) {
	c.mu.Lock()
	key, ok := c.key, c.hasKey
	c.mu.Unlock()
	if !ok {
		return Window{}, ErrNoWindow
	}
	return c.Load(ctx, key)
}

// Window returns a copy of the active window.
func (c *Cache) Window() (Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.win == nil {
		return Window{}, false
	}
	return c.win.snapshot(), true
}

func (c *Cache) Key() (Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, c.hasKey
}

// ApplyMutationResult replaces the item in place if the window holds it.
func (c *Cache) ApplyMutationResult(item domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.win != nil {
		c.win.applyUpdate(item, nil)
	}
}

func (c *Cache) ApplyChangeEvent(event domain.ChangeEvent) {
	if err := event.Validate(); err != nil {
		c.logger.Warn("ignoring malformed change event", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loading {
		if len(c.pending) < maxPending {
			c.pending = append(c.pending, event)
		} else if c.win != nil {
			c.win.stale = true
		}
	}
	if c.win != nil {
		c.win.apply(event, false)
	}
}

// MarkStale flags the window as approximate, e.g. after the feed dropped.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.win != nil {
		c.win.stale = true
	}
}

// Reset discards the window and the active key.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasKey = false
	c.key = Key{}
	c.win = nil
	c.pending = nil
	c.loading = false
	c.gen++
}

type window struct {
	key   Key
	query domain.ItemQuery
	items []domain.Item
	total int
	stale bool

	// Bookkeeping for rows outside the window, reset on every load so that
	// repeated deliveries of one event are applied once.
	versions map[string]int
	inserted map[string]bool
	deleted  map[string]bool
}

func newWindow(key Key, page domain.ItemPage) *window {
	items := page.Data
	if len(items) > key.PageSize {
		items = items[:key.PageSize]
	}
	return &window{
		key:      key,
		query:    key.Query(),
		items:    append([]domain.Item(nil), items...),
		total:    page.Count,
		versions: make(map[string]int),
		inserted: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
}

func (w *window) snapshot() Window {
	return Window{
		Key:        w.key,
		Items:      append([]domain.Item(nil), w.items...),
		TotalCount: w.total,
		Stale:      w.stale,
	}
}

func (w *window) index(id string) int {
	for i, item := range w.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// apply merges one feed event. replay is set for events buffered during a
// load; for those the fetched count may already include the change, so
// count adjustments that cannot be decided from the rows are skipped.
func (w *window) apply(event domain.ChangeEvent, replay bool) {
	if w.deleted[event.ItemID()] {
		return
	}
	switch event.EventType {
	case domain.EventInsert:
		w.applyInsert(*event.New, replay)
	case domain.EventUpdate:
		w.applyUpdate(*event.New, event.Old)
	case domain.EventDelete:
		w.applyDelete(*event.Old, replay)
	}
}

func (w *window) applyInsert(item domain.Item, replay bool) {
	if !w.query.Matches(item) {
		return
	}
	if w.index(item.ID) >= 0 {
		w.applyUpdate(item, nil)
		return
	}
	if w.inserted[item.ID] {
		return
	}
	w.inserted[item.ID] = true

	if w.key.Page == 0 {
		w.items = append([]domain.Item{item}, w.items...)
		if len(w.items) > w.key.PageSize {
			w.items = w.items[:w.key.PageSize]
		}
		w.total++
		return
	}

	if !replay {
		w.total++
	}
	w.stale = true
}

// applyUpdate replaces the row in place. old is only used to track rows
// entering or leaving a filtered window from another page.
func (w *window) applyUpdate(item domain.Item, old *domain.Item) {
	if i := w.index(item.ID); i >= 0 {
		if item.Version < w.items[i].Version {
			return
		}
		if !w.query.Matches(item) {
			w.items = append(w.items[:i], w.items[i+1:]...)
			w.versions[item.ID] = item.Version
			w.decrement()
			return
		}
		w.items[i] = item
		return
	}

	if seen, ok := w.versions[item.ID]; ok && item.Version <= seen {
		return
	}
	w.versions[item.ID] = item.Version

	if old == nil || w.query.Category == "" {
		return
	}
	wasIn, isIn := w.query.Matches(*old), w.query.Matches(item)
	switch {
	case !wasIn && isIn:
		w.total++
		w.stale = true
	case wasIn && !isIn:
		w.decrement()
		w.stale = true
	}
}

func (w *window) applyDelete(old domain.Item, replay bool) {
	w.deleted[old.ID] = true

	if i := w.index(old.ID); i >= 0 {
		w.items = append(w.items[:i], w.items[i+1:]...)
		w.decrement()
		return
	}

	w.stale = true
	if replay {
		return
	}
	if old.Category != "" && !w.query.Matches(old) {
		return
	}
	w.decrement()
}

func (w *window) decrement() {
	if w.total > 0 {
		w.total--
	}
}
