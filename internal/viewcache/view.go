package viewcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/port"
)

var ErrViewClosed = errors.New("view closed")

type ViewOption func(*View)

// WithReconcileInterval refetches the active window every d, bounding how
// long missed feed events can leave the window wrong.
func WithReconcileInterval(d time.Duration) ViewOption {
	return func(v *View) { v.reconcileEvery = d }
}

// WithOnChange is called after every applied event or reload, outside the
// cache lock. Calls never overlap and each sees the window as of its call, so
// the last call always carries the newest window. fn must not call back into
// the View.
func WithOnChange(fn func(Window)) ViewOption {
	return func(v *View) { v.onChange = fn }
}

// View ties the change feed subscription to the lifetime of one catalog
// view. Open acquires it, Close releases it.
type View struct {
	cache  *Cache
	feed   port.ChangeFeed
	logger *slog.Logger

	reconcileEvery time.Duration
	onChange       func(Window)
	notifyMu       sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	sub    port.Subscription
	closed bool
}

// Open subscribes to feed and loads key. Subscribing first means no change
// committed after the fetch can be missed.
func Open(ctx context.Context, cache *Cache, feed port.ChangeFeed, key Key, opts ...ViewOption) (*View, error) {
	vctx, cancel := context.WithCancel(context.Background())
	v := &View{
		cache:  cache,
		feed:   feed,
		logger: cache.logger,
		ctx:    vctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(v)
	}

	if err := v.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	if _, err := cache.Load(ctx, key); err != nil {
		v.Close()
		return nil, err
	}
	v.changed()

	if v.reconcileEvery > 0 {
		v.wg.Add(1)
		go v.reconcileLoop()
	}
	return v, nil
}

func (v *View) Cache() *Cache {
	return v.cache
}

func (v *View) Window() (Window, bool) {
	return v.cache.Window()
}

// Navigate switches the view to another key.
func (v *View) Navigate(ctx context.Context, key Key) (Window, error) {
	if err := v.ensureSubscribed(); err != nil {
		v.logger.Warn("change feed unavailable", "error", err)
	}
	w, err := v.cache.Load(ctx, key)
	if err == nil {
		v.changed()
	}
	return w, err
}

// ApplyMutationResult patches the window with an item the server confirmed.
func (v *View) ApplyMutationResult(item domain.Item) {
	v.cache.ApplyMutationResult(item)
	v.changed()
}

// Reload refetches the active window, resubscribing first if the feed
// dropped.
func (v *View) Reload(ctx context.Context) (Window, error) {
	if err := v.ensureSubscribed(); err != nil {
		v.logger.Warn("change feed unavailable", "error", err)
	}
	w, err := v.cache.Reload(ctx)
	if err == nil {
		v.changed()
	}
	return w, err
}

// Connected reports whether the feed subscription is live.
func (v *View) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub == nil {
		return false
	}
	select {
	case <-v.sub.Done():
		return false
	default:
		return true
	}
}

// Close releases the subscription and discards the window.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.cancel()
	if sub != nil {
		sub.Unsubscribe()
	}
	v.wg.Wait()
	v.cache.Reset()
}

func (v *View) ensureSubscribed() error {
	if v.Connected() {
		return nil
	}
	return v.subscribe()
}

func (v *View) subscribe() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}

	sub, err := v.feed.Subscribe(v.ctx, v.onEvent)
	if err != nil {
		return fmt.Errorf("subscribe change feed: %w", err)
	}
	v.sub = sub

	v.wg.Add(1)
	go v.watch(sub)
	return nil
}

func (v *View) onEvent(event domain.ChangeEvent) {
	v.cache.ApplyChangeEvent(event)
	v.changed()
}

// watch marks the window stale when the subscription ends on its own.
func (v *View) watch(sub port.Subscription) {
	defer v.wg.Done()
	select {
	case <-sub.Done():
	case <-v.ctx.Done():
		return
	}
	if v.ctx.Err() != nil {
		return
	}
	v.logger.Warn("change feed subscription ended", "error", sub.Err())
	v.cache.MarkStale()
	v.changed()
}

func (v *View) reconcileLoop() {
	defer v.wg.Done()
	ticker := time.NewTicker(v.reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			if _, err := v.Reload(v.ctx); err != nil && !errors.Is(err, ErrSuperseded) && v.ctx.Err() == nil {
				v.logger.Warn("reconcile failed", "error", err)
			}
		}
	}
}

func (v *View) changed() {
	if v.onChange == nil {
		return
	}
	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()
	if w, ok := v.cache.Window(); ok {
		v.onChange(w)
	}
}
