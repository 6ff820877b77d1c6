package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stockledger/internal/adapter/storage"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/core/service"
	"github.com/rl1809/stockledger/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	mysqlDSN := flag.String("mysql", os.Getenv("MYSQL_DSN"), "MySQL DSN; empty uses a temporary SQLite file")
	flag.Parse()

	ctx := context.Background()

	var store *storage.SQLStore
	var err error
	if *mysqlDSN != "" {
		store, err = storage.OpenMySQL(ctx, *mysqlDSN, 50)
	} else {
		dir, derr := os.MkdirTemp("", "stockledger-stress")
		if derr != nil {
			log.Fatalf("failed to create temp dir: %v", derr)
		}
		defer os.RemoveAll(dir)
		store, err = storage.OpenSQLite(ctx, filepath.Join(dir, "ledger.db"))
	}
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ledger := service.NewLedgerService(store, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	item, err := ledger.CreateItem(ctx, domain.NewItem{
		Name:         "Stress item",
		SKU:          fmt.Sprintf("STRESS-%d", time.Now().UnixNano()),
		Category:     domain.CategoryFeeds,
		CurrentStock: initialStock,
	}, nil)
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var conflictCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			actor := fmt.Sprintf("user-%d", userID)

			// Read, then write guarded by what was read, until the write lands
			// or there is nothing left.
			for {
				current, err := ledger.GetItem(ctx, item.ID)
				if err != nil {
					log.Printf("user %d: read failed: %v", userID, err)
					return
				}
				if current.CurrentStock == 0 {
					soldOutCount.Add(1)
					return
				}
				expected := current.CurrentStock
				_, err = ledger.UpdateStock(ctx, item.ID, domain.StockUpdate{
					NewStock:      expected - 1,
					ExpectedStock: &expected,
				}, &actor)
				if errors.Is(err, domain.ErrConcurrencyConflict) {
					conflictCount.Add(1)
					continue
				}
				if err != nil {
					log.Printf("user %d: write failed: %v", userID, err)
					return
				}
				successCount.Add(1)
				return
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", soldOut)
	fmt.Printf("Conflicts:        %d\n", conflictCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d deductions succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	verifyLedger(ctx, store, item.ID)
}

// verifyLedger checks that the stored stock equals the sum of the item's
// movements.
func verifyLedger(ctx context.Context, repo port.LedgerRepository, itemID string) {
	final, err := repo.GetItem(ctx, itemID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	movements, err := repo.ListMovements(ctx, itemID)
	if err != nil {
		log.Fatalf("failed to read movements: %v", err)
	}

	sum := 0
	for _, m := range movements {
		sum += m.QuantityChange
	}
	fmt.Printf("Final Stock:      %d\n", final.CurrentStock)
	fmt.Printf("Movements:        %d (sum %d)\n", len(movements), sum)

	if final.CurrentStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", final.CurrentStock)
	}
	if sum == final.CurrentStock {
		fmt.Println("PASS: Stock equals the sum of its movements")
	} else {
		fmt.Printf("FAIL: Stock %d but movements sum to %d\n", final.CurrentStock, sum)
	}
}
