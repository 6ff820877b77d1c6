package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stockledger/internal/adapter/storage"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/core/service"
	"github.com/rl1809/stockledger/internal/feed"
	"github.com/rl1809/stockledger/internal/viewcache"
)

type testEnv struct {
	redis   *redis.Client
	store   *storage.SQLStore
	adapter *storage.RedisAdapter
	broker  *feed.Broker
	ledger  *service.LedgerService
	cleanup func()
}

// setupTestEnv wires the ledger the way the server does with Redis
// configured: writes go to MySQL, changes go out over Redis and come back
// through Forward into the local broker.
func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/stockledger"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}

	store, err := storage.OpenMySQL(context.Background(), mysqlDSN, 20)
	if err != nil {
		rdb.Close()
		t.Skipf("MySQL not available: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := storage.NewRedisAdapter(rdb, logger)
	broker := feed.NewBroker(256, logger)

	ctx, cancel := context.WithCancel(context.Background())
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		if err := adapter.Forward(ctx, broker); err != nil {
			t.Errorf("forward: %v", err)
		}
	}()
	require.Eventually(t, func() bool {
		return rdb.PubSubNumSub(context.Background(), storage.ChangeChannel).Val()[storage.ChangeChannel] > 0
	}, 5*time.Second, 20*time.Millisecond)

	return &testEnv{
		redis:   rdb,
		store:   store,
		adapter: adapter,
		broker:  broker,
		ledger: service.NewLedgerService(store,
			service.WithPublisher(adapter),
			service.WithIdempotency(adapter),
			service.WithLogger(logger),
		),
		cleanup: func() {
			cancel()
			<-forwarded
			broker.Close()
			store.Close()
			rdb.Close()
		},
	}
}

func ledgerSum(t *testing.T, ledger *service.LedgerService, id string) int {
	t.Helper()
	movements, err := ledger.ListMovements(context.Background(), id)
	require.NoError(t, err)
	sum := 0
	for _, m := range movements {
		sum += m.QuantityChange
	}
	return sum
}

func TestIntegration_ViewFollowsLedger(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	view, err := viewcache.Open(ctx, viewcache.New(env.ledger, nil), env.broker,
		viewcache.Key{PageSize: 5})
	require.NoError(t, err)
	defer view.Close()

	actor := "integration"
	item, err := env.ledger.CreateItem(ctx, domain.NewItem{
		Name:         "Broiler starter",
		SKU:          "BS-" + uuid.NewString(),
		Category:     domain.CategoryFeeds,
		CurrentStock: 500,
	}, &actor)
	require.NoError(t, err)

	find := func() (domain.Item, bool) {
		w, _ := view.Window()
		for _, it := range w.Items {
			if it.ID == item.ID {
				return it, true
			}
		}
		return domain.Item{}, false
	}

	require.Eventually(t, func() bool {
		_, ok := find()
		return ok
	}, 5*time.Second, 20*time.Millisecond, "insert did not reach the view")

	_, err = env.ledger.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: 420}, &actor)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		it, ok := find()
		return ok && it.CurrentStock == 420
	}, 5*time.Second, 20*time.Millisecond, "update did not reach the view")

	require.NoError(t, env.ledger.DeleteItem(ctx, item.ID))
	require.Eventually(t, func() bool {
		_, ok := find()
		return !ok
	}, 5*time.Second, 20*time.Millisecond, "delete did not reach the view")

	// 500 in, 80 out, and both movements survive the delete.
	assert.Equal(t, 420, ledgerSum(t, env.ledger, item.ID))
}

func TestIntegration_ConcurrentAdjustments(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	const workers = 50
	item, err := env.ledger.CreateItem(ctx, domain.NewItem{
		Name:         "Bread flour",
		SKU:          "BF-" + uuid.NewString(),
		Category:     domain.CategoryFlour,
		CurrentStock: workers / 2,
	}, nil)
	require.NoError(t, err)
	defer env.ledger.DeleteItem(ctx, item.ID)

	var wg sync.WaitGroup
	var sold, refused atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := env.ledger.GetItem(ctx, item.ID)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if cur.CurrentStock == 0 {
					refused.Add(1)
					return
				}
				exp := cur.CurrentStock
				_, err = env.ledger.UpdateStock(ctx, item.ID, domain.StockUpdate{NewStock: exp - 1, ExpectedStock: &exp}, nil)
				if errors.Is(err, domain.ErrConcurrencyConflict) {
					continue
				}
				if err != nil {
					t.Errorf("update: %v", err)
					return
				}
				sold.Add(1)
				return
			}
		}()
	}
	wg.Wait()

	got, err := env.ledger.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStock)
	assert.Equal(t, int32(workers/2), sold.Load())
	assert.Equal(t, int32(workers-workers/2), refused.Load())
	assert.Equal(t, 0, ledgerSum(t, env.ledger, item.ID))
}

func TestIntegration_IdempotencyPreventsDoubleCreate(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	key := uuid.NewString()
	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.ledger.ClaimRequest(ctx, key)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrDuplicateRequest):
				duplicates.Add(1)
			default:
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(9), duplicates.Load())
}
