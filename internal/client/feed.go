package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/feed"
	"github.com/rl1809/stockledger/internal/port"
)

const writeWait = 5 * time.Second

// Feed subscribes to the server's websocket change feed.
type Feed struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ port.ChangeFeed = (*Feed)(nil)

// NewFeed derives the feed URL from the HTTP base URL.
func NewFeed(baseURL string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &Feed{
		url:    u + "/feed",
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

// Subscribe opens one websocket connection. The server has subscribed by the
// time the handshake completes.
func (f *Feed) Subscribe(ctx context.Context, onEvent func(domain.ChangeEvent)) (port.Subscription, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	sub := &wsSubscription{
		conn: conn,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go sub.run(onEvent, f.logger)
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type wsSubscription struct {
	conn *websocket.Conn
	quit chan struct{}
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func (s *wsSubscription) run(onEvent func(domain.ChangeEvent), logger *slog.Logger) {
	defer close(s.done)
	defer s.conn.Close()

	for {
		var event domain.ChangeEvent
		if err := s.conn.ReadJSON(&event); err != nil {
			s.finish(err)
			return
		}
		if err := event.Validate(); err != nil {
			logger.Warn("dropping malformed change event", "error", err)
			continue
		}
		onEvent(event)
	}
}

func (s *wsSubscription) finish(err error) {
	select {
	case <-s.quit:
		return
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseTryAgainLater {
		err = fmt.Errorf("%w: %s", feed.ErrLagged, closeErr.Text)
	} else {
		err = fmt.Errorf("change feed: %w", err)
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.conn.Close()
	})
}

func (s *wsSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
