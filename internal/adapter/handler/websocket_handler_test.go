package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stockledger/internal/core/domain"
)

func TestFeedHandler_StreamsCommittedChanges(t *testing.T) {
	ledger, broker := newTestLedger(t)
	feedHandler := NewFeedHandler(broker, discard)
	server := httptest.NewServer(NewRouter(NewHTTPHandler(ledger, discard), feedHandler))
	t.Cleanup(func() {
		feedHandler.Close()
		server.Close()
	})

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return broker.Len() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	item, err := ledger.CreateItem(ctx, domain.NewItem{
		Name: "Corn", SKU: "SKU-1", Category: domain.CategoryFeeds, CurrentStock: 5,
	}, nil)
	require.NoError(t, err)
	_, err = ledger.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: 7}, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.DeleteItem(ctx, item.ID))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []domain.EventType
	for i := 0; i < 3; i++ {
		var event domain.ChangeEvent
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, item.ID, event.ItemID())
		got = append(got, event.EventType)
	}
	assert.Equal(t, []domain.EventType{domain.EventInsert, domain.EventUpdate, domain.EventDelete}, got)
}

func TestFeedHandler_ClientDisconnectReleasesSubscription(t *testing.T) {
	_, broker := newTestLedger(t)
	feedHandler := NewFeedHandler(broker, discard)
	server := httptest.NewServer(feedHandler)
	t.Cleanup(func() {
		feedHandler.Close()
		server.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broker.Len() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return broker.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestFeedHandler_CloseDisconnectsClients(t *testing.T) {
	_, broker := newTestLedger(t)
	feedHandler := NewFeedHandler(broker, discard)
	server := httptest.NewServer(feedHandler)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return broker.Len() == 1 }, time.Second, 5*time.Millisecond)

	feedHandler.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Equal(t, 0, broker.Len())
}
