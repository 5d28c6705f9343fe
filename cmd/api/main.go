package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/httpx"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/logging"
	"github.com/ariefcatur/go-retail-orders/internal/ordering"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/postgres"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
	"github.com/ariefcatur/go-retail-orders/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("order api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Error("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	// Kafka producer outlives ctx so shutdown can flush it
	prod := kafkax.NewProducer(log, cfg.KafkaBrokers, 1024)
	prodCtx, stopProd := context.WithCancel(context.Background())
	defer stopProd()
	prod.Start(prodCtx)

	// Ledger, restored from the catalog and the orders still holding stock
	catalog := &orders.CatalogRepo{DB: db}
	store := &orders.Repo{DB: db}
	ledger := inventory.NewLedger(log, catalog,
		inventory.WithJournal(&orders.StockRepo{DB: db}),
		inventory.WithLockTimeout(cfg.LockTimeout))
	if err := ledger.Restore(ctx, catalog, store); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}

	svc := ordering.NewService(log, ledger, catalog, &orders.CustomerRepo{DB: db}, store,
		ordering.WithPublisher(kafkax.NewEventPublisher(log, prod, cfg.ServiceName)),
		ordering.WithMaxOrderItems(cfg.MaxOrderItems),
		ordering.WithLowStockThreshold(cfg.LowStockThreshold))

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{
		Orders:      svc,
		Idempotency: redisx.NewIdempotency(rdb),
		Cache:       redisx.NewStatusCache(rdb),
		Log:         log,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if ferr := ledger.Flush(sctx); ferr != nil {
			log.Error("stock journal behind ledger",
				zap.Int("pending", ledger.PendingMovements()), zap.Error(ferr))
			err = errors.Join(err, ferr)
		}
		prod.Close()
		prod.WaitClosed()
		return errors.Join(err, shutdownTracing(sctx))
	})
	return g.Wait()
}
