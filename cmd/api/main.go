package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	deps := orders.ServiceDeps{Logger: log.With("component", "orders"), ServiceName: cfg.ServiceName}
	handler := &httpx.OrdersHandler{Log: log.With("component", "http")}
	var prod *kafkax.Producer

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store; events are not published")
		deps.UnitOfWork = orders.NewMemStore()
	case config.StorePostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			return err
		}
		log.Info("migrations applied", "count", len(applied), "names", applied)
		deps.UnitOfWork = &orders.PgUnitOfWork{DB: db}

		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		handler.Cache = redisx.NewStatusCache(rdb)
		handler.Responses = redisx.NewResponses(rdb)

		prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic, 1024, log.With("component", "producer"))
		deps.Publisher = prod
	default:
		return errors.New("config: STORE must be memory or postgres, got " + cfg.Store)
	}

	if cfg.StripeAPIKey != "" {
		gw, err := payments.NewStripeGateway(payments.StripeConfig{APIKey: cfg.StripeAPIKey, Logger: log.With("component", "stripe")})
		if err != nil {
			return err
		}
		deps.Payments = gw
	} else {
		log.Warn("STRIPE_API_KEY not set; captures are simulated")
		deps.Payments = payments.StaticGateway{}
	}

	svc, err := orders.NewService(deps)
	if err != nil {
		return err
	}
	handler.Service = svc

	router := httpx.NewRouter(log.With("component", "http"), cfg.RequestTimeout)
	handler.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	prodCtx, stopProducer := context.WithCancel(context.Background())
	defer stopProducer()
	if prod != nil {
		prod.Start(prodCtx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if prod != nil {
			prod.Close()
			prod.WaitClosed()
			if n := prod.Dropped(); n > 0 {
				log.Warn("events dropped while running", "count", n)
			}
		}
		return err
	})
	return g.Wait()
}
