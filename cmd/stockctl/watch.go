package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rl1809/stockledger/internal/client"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/port"
	"github.com/rl1809/stockledger/internal/viewcache"
)

var (
	watchGRPC      string
	watchReconcile time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep one page of items live on screen",
	Long: `watch loads one page and keeps it current from the server's change
feed. Use --grpc to follow the gRPC Watch stream instead of the websocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		key := viewcache.Key{Page: listPage, PageSize: listPageSize}
		if listCategory != "" {
			c, err := domain.ParseCategory(listCategory)
			if err != nil {
				return err
			}
			key.Category = c
		}

		logger := quietLogger()
		var fetcher viewcache.Fetcher = newClient()
		var changes port.ChangeFeed = client.NewFeed(serverURL, logger)
		if watchGRPC != "" {
			gc, err := client.DialGRPC(watchGRPC, actor)
			if err != nil {
				return err
			}
			defer gc.Close()
			fetcher, changes = gc, gc
		}

		out := cmd.OutOrStdout()
		view, err := viewcache.Open(ctx, viewcache.New(fetcher, logger), changes, key,
			viewcache.WithReconcileInterval(watchReconcile),
			viewcache.WithOnChange(func(w viewcache.Window) {
				fmt.Fprint(out, "\033[H\033[2J")
				printItems(out, w.Items)
				status := "live"
				if w.Stale {
					status = "stale"
				}
				fmt.Fprintf(out, "%s: %d of %d items [%s]\n", w.Key, len(w.Items), w.TotalCount, status)
			}),
		)
		if err != nil {
			return err
		}
		defer view.Close()

		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().IntVar(&listPage, "page", 0, "zero-based page")
	watchCmd.Flags().IntVar(&listPageSize, "page-size", domain.DefaultPageSize, "items per page")
	watchCmd.Flags().StringVar(&listCategory, "category", "", "only items in this category")
	watchCmd.Flags().StringVar(&watchGRPC, "grpc", "", "gRPC address to watch instead of the websocket feed")
	watchCmd.Flags().DurationVar(&watchReconcile, "reconcile", 30*time.Second, "refetch interval; 0 disables")
}
