package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rl1809/stockledger/internal/adapter/handler"
	"github.com/rl1809/stockledger/internal/adapter/handler/pb"
	"github.com/rl1809/stockledger/internal/adapter/storage"
	"github.com/rl1809/stockledger/internal/config"
	"github.com/rl1809/stockledger/internal/core/service"
	"github.com/rl1809/stockledger/internal/feed"
)

var (
	configFile string
	verbose    bool
	v          = config.New()
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stockledger",
	Short: "Stock ledger server",
	Long: `stockledger tracks per-item stock with an append-only movement ledger
and pushes every committed change to connected clients.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.DBDriver)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./stockledger.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	serveCmd.Flags().String("http-addr", "", "HTTP listen address")
	serveCmd.Flags().String("grpc-addr", "", "gRPC listen address")
	serveCmd.Flags().String("redis-addr", "", "Redis address; empty disables Redis")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver: sqlite or mysql")
	rootCmd.PersistentFlags().String("db-dsn", "", "database DSN or SQLite file path")

	bindFlag(serveCmd, config.KeyHTTPAddr, "http-addr")
	bindFlag(serveCmd, config.KeyGRPCAddr, "grpc-addr")
	bindFlag(serveCmd, config.KeyRedisAddr, "redis-addr")
	bindPersistentFlag(config.KeyDBDriver, "db-driver")
	bindPersistentFlag(config.KeyDBDSN, "db-dsn")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func bindPersistentFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func openStore(ctx context.Context, cfg config.Config) (*storage.SQLStore, error) {
	if cfg.DBDriver == config.DriverMySQL {
		return storage.OpenMySQL(ctx, cfg.DBDSN, cfg.DBMaxOpenConns)
	}
	return storage.OpenSQLite(ctx, cfg.DBDSN)
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("connected to database", "driver", cfg.DBDriver)

	broker := feed.NewBroker(cfg.FeedBuffer, logger)
	defer broker.Close()

	opts := []service.Option{service.WithLogger(logger)}

	// With Redis, changes go through the channel so every instance's broker
	// sees every commit, including its own.
	var wg sync.WaitGroup
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)

		redisAdapter := storage.NewRedisAdapter(rdb, logger)
		opts = append(opts, service.WithPublisher(redisAdapter), service.WithIdempotency(redisAdapter))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := redisAdapter.Forward(ctx, broker); err != nil {
				logger.Error("redis change feed stopped", "error", err)
			}
		}()
	} else {
		opts = append(opts, service.WithPublisher(broker))
	}

	ledger := service.NewLedgerService(store, opts...)

	grpcServer := grpc.NewServer()
	pb.RegisterLedgerServer(grpcServer, handler.NewGRPCHandler(ledger, broker, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	feedHandler := handler.NewFeedHandler(broker, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.NewRouter(handler.NewHTTPHandler(ledger, logger), feedHandler),
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		logger.Error("HTTP server error", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	feedHandler.Close()
	logger.Info("HTTP server stopped")

	// Watch streams only end once the broker closes.
	cancel()
	broker.Close()
	wg.Wait()
	logger.Info("change feed stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return nil
}
