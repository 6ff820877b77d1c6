// Package feed fans committed item changes out to subscribers in process.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/port"
)

const DefaultBuffer = 64

var (
	// ErrLagged ends a subscription whose buffer overflowed. The subscriber
	// has missed events and must reload its view.
	ErrLagged = errors.New("subscriber fell behind the change feed")
	ErrClosed = errors.New("change feed closed")
)

// Broker delivers every published event to every live subscription, in
// publish order per subscription. A slow subscriber never blocks publishers;
// it is dropped instead.
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger
}

var (
	_ port.ChangePublisher = (*Broker)(nil)
	_ port.ChangeFeed      = (*Broker)(nil)
)

func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

func (b *Broker) Publish(_ context.Context, event domain.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for id, sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			delete(b.subs, id)
			sub.stop(ErrLagged)
			b.logger.Warn("dropping lagging change feed subscriber", "subscription", id)
		}
	}
	return nil
}

// Subscribe registers onEvent. Events are delivered on a goroutine owned by
// the subscription, one at a time. The subscription ends on Unsubscribe, on
// lag, on Close, or when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, onEvent func(domain.ChangeEvent)) (port.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		broker: b,
		events: make(chan domain.ChangeEvent, b.buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(onEvent)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
			case <-sub.quit:
			}
		}()
	}
	return sub, nil
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription and rejects further use.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.stop(ErrClosed)
	}
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

type Subscription struct {
	id     uint64
	broker *Broker
	events chan domain.ChangeEvent
	quit   chan struct{}
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *Subscription) run(onEvent func(domain.ChangeEvent)) {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case event := <-s.events:
			select {
			case <-s.quit:
				return
			default:
			}
			onEvent(event)
		}
	}
}

func (s *Subscription) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.quit)
	})
}

// Unsubscribe does not wait for an in-flight callback, so it may be called
// from inside onEvent.
func (s *Subscription) Unsubscribe() {
	s.broker.remove(s.id)
	s.stop(nil)
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
