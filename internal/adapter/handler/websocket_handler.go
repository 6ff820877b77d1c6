package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/feed"
	"github.com/rl1809/stockledger/internal/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// FeedHandler streams change events to websocket clients, one feed
// subscription per connection.
type FeedHandler struct {
	feed     port.ChangeFeed
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFeedHandler(changes port.ChangeFeed, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FeedHandler{
		feed:   changes,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP subscribes before upgrading, so a client that has seen the
// handshake complete cannot miss a change committed after it.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(h.ctx)
	send := make(chan domain.ChangeEvent)
	sub, err := h.feed.Subscribe(ctx, func(event domain.ChangeEvent) {
		select {
		case send <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		h.logger.Error("feed subscribe failed", "error", err)
		http.Error(w, "change feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		cancel()
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.wg.Add(2)
	go h.readPump(conn, cancel)
	go h.writePump(ctx, conn, sub, send)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *FeedHandler) Close() {
	h.cancel()
	h.wg.Wait()
}

// readPump only services control frames; clients never send data.
func (h *FeedHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		h.wg.Done()
		cancel()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *FeedHandler) writePump(ctx context.Context, conn *websocket.Conn, sub port.Subscription, send <-chan domain.ChangeEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Unsubscribe()
		conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case event := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sub.Done():
			if errors.Is(sub.Err(), feed.ErrLagged) {
				h.logger.Warn("websocket client lagged, disconnecting", "remote", conn.RemoteAddr().String())
				closeWith(conn, websocket.CloseTryAgainLater, "subscriber lagged")
			} else {
				closeWith(conn, websocket.CloseGoingAway, "feed closed")
			}
			return

		case <-ctx.Done():
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
