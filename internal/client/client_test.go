package client

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stockledger/internal/adapter/handler"
	"github.com/rl1809/stockledger/internal/adapter/handler/pb"
	"github.com/rl1809/stockledger/internal/adapter/storage"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/core/service"
	"github.com/rl1809/stockledger/internal/feed"
	"github.com/rl1809/stockledger/internal/mutation"
	"github.com/rl1809/stockledger/internal/viewcache"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryIdempotency) SetIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memoryIdempotency) ReleaseIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

type testServer struct {
	ledger *service.LedgerService
	broker *feed.Broker
	feed   *handler.FeedHandler
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	broker := feed.NewBroker(64, discard)
	ledger := service.NewLedgerService(store,
		service.WithPublisher(broker),
		service.WithIdempotency(&memoryIdempotency{seen: make(map[string]bool)}),
		service.WithLogger(discard),
	)
	feedHandler := handler.NewFeedHandler(broker, discard)
	srv := httptest.NewServer(handler.NewRouter(handler.NewHTTPHandler(ledger, discard), feedHandler))

	t.Cleanup(func() {
		feedHandler.Close()
		srv.Close()
		broker.Close()
		store.Close()
	})
	return &testServer{ledger: ledger, broker: broker, feed: feedHandler, http: srv}
}

func newItem(sku string, stock int) domain.NewItem {
	return domain.NewItem{Name: "Item " + sku, SKU: sku, Category: domain.CategoryFeeds, CurrentStock: stock}
}

func TestClient_ItemLifecycle(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.http.URL, WithActor("carol"))
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	item, err := c.CreateItem(ctx, newItem("A", 500), "")
	require.NoError(t, err)
	require.NotNil(t, item.UpdatedBy)
	assert.Equal(t, "carol", *item.UpdatedBy)

	expected := 500
	item, err = c.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: 450, ExpectedStock: &expected})
	require.NoError(t, err)
	assert.Equal(t, 450, item.CurrentStock)

	_, err = c.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: 1, ExpectedStock: &expected})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	name := "Renamed"
	item, err = c.UpdateDetails(ctx, item.ID, domain.Details{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", item.Name)
	assert.Equal(t, 450, item.CurrentStock)

	got, err := c.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Version, got.Version)

	movements, err := c.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, -50, movements[0].QuantityChange)
	assert.Equal(t, 500, movements[1].QuantityChange)

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{TotalSKUs: 1, TotalStock: 450, LowCount: 1}, summary)

	require.NoError(t, c.DeleteItem(ctx, item.ID))
	_, err = c.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := c.ListMovements(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.http.URL)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, domain.NewItem{Name: "", SKU: "A", Category: domain.CategoryFeeds}, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.CreateItem(ctx, newItem("A", 1), "key-1")
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, newItem("B", 1), "key-1")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	var apiErr *APIError
	_, err = c.ListItems(ctx, domain.ItemQuery{PageSize: 1000})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
}

func TestView_FollowsServerChanges(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.http.URL)
	ctx := context.Background()

	existing, err := c.CreateItem(ctx, newItem("A", 1000), "")
	require.NoError(t, err)

	cache := viewcache.New(c, discard)
	view, err := viewcache.Open(ctx, cache, NewFeed(srv.http.URL, discard), viewcache.Key{Page: 0, PageSize: 10})
	require.NoError(t, err)
	defer view.Close()
	require.True(t, view.Connected())

	// A change made by someone else arrives through the feed.
	other, err := srv.ledger.CreateItem(ctx, newItem("B", 5), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		w, _ := view.Window()
		return w.TotalCount == 2 && len(w.Items) == 2 && w.Items[0].ID == other.ID
	}, 2*time.Second, 10*time.Millisecond)

	// Our own mutation lands through the coordinator and the feed echo.
	coord := mutation.NewCoordinator(c, view, nil, discard)
	out, err := coord.Add(ctx, existing, 100)
	require.NoError(t, err)
	assert.Equal(t, 1100, out.Item.CurrentStock)

	require.NoError(t, coord.Delete(ctx, other))
	require.Eventually(t, func() bool {
		w, _ := view.Window()
		return w.TotalCount == 1 && len(w.Items) == 1 && w.Items[0].CurrentStock == 1100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestView_FeedLossMarksStale(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.http.URL)
	ctx := context.Background()

	view, err := viewcache.Open(ctx, viewcache.New(c, discard), NewFeed(srv.http.URL, discard), viewcache.Key{PageSize: 10})
	require.NoError(t, err)
	defer view.Close()

	srv.feed.Close()

	require.Eventually(t, func() bool {
		w, _ := view.Window()
		return w.Stale && !view.Connected()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_DialFailure(t *testing.T) {
	f := NewFeed("http://127.0.0.1:1", discard)
	_, err := f.Subscribe(context.Background(), func(domain.ChangeEvent) {})
	assert.Error(t, err)
}

func TestGRPCClient(t *testing.T) {
	srv := newTestServer(t)

	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	pb.RegisterLedgerServer(gs, handler.NewGRPCHandler(srv.ledger, srv.broker, discard))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	gc, err := DialGRPC("passthrough:///bufnet", "dave",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { gc.Close() })

	ctx := context.Background()
	events := make(chan domain.ChangeEvent, 4)
	sub, err := gc.Subscribe(ctx, func(e domain.ChangeEvent) { events <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	item, err := srv.ledger.CreateItem(ctx, newItem("A", 10), nil)
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, domain.EventInsert, e.EventType)
		assert.Equal(t, item.ID, e.ItemID())
	case <-time.After(2 * time.Second):
		t.Fatal("no event over grpc watch")
	}

	page, err := gc.ListItems(ctx, domain.ItemQuery{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)

	updated, err := gc.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: 3})
	require.NoError(t, err)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "dave", *updated.UpdatedBy)

	wrong := 99
	_, err = gc.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: 1, ExpectedStock: &wrong})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	sub.Unsubscribe()
	select {
	case <-sub.Done():
		assert.NoError(t, sub.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
