package handler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/stockledger/internal/adapter/storage"
	"github.com/rl1809/stockledger/internal/core/service"
	"github.com/rl1809/stockledger/internal/feed"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryIdempotency) SetIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
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

func newTestLedger(t *testing.T) (*service.LedgerService, *feed.Broker) {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	broker := feed.NewBroker(16, discard)
	t.Cleanup(func() {
		broker.Close()
		store.Close()
	})

	ledger := service.NewLedgerService(store,
		service.WithPublisher(broker),
		service.WithIdempotency(&memoryIdempotency{}),
		service.WithLogger(discard),
	)
	return ledger, broker
}
