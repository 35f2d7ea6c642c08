package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/meal-quota/internal/config"
	"github.com/iliyamo/meal-quota/internal/database"
	"github.com/iliyamo/meal-quota/internal/handler"
	"github.com/iliyamo/meal-quota/internal/middleware"
	"github.com/iliyamo/meal-quota/internal/pricing"
	"github.com/iliyamo/meal-quota/internal/queue"
	"github.com/iliyamo/meal-quota/internal/repository"
	"github.com/iliyamo/meal-quota/internal/router"
	"github.com/iliyamo/meal-quota/internal/service"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenStore(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, cfg.Driver); err != nil {
			log.Fatalf("database: %v", err)
		}
	}

	catalog, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		log.Fatal(err)
	}

	// Redis is optional: without it the cache and rate limiter pass through.
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Printf("redis: unavailable, running without cache and rate limiting")
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	opts := []service.Option{service.WithLogger(logger), service.WithInvalidator(cache)}
	if cfg.EventsEnabled {
		opts = append(opts, service.WithPublisher(queue.NewPublisher(cfg.RabbitURL, cfg.EventsQueue)))
		consumer := queue.NewConsumer(cfg.RabbitURL, cfg.EventsQueue, cfg.LedgerLogDir)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("ledger-consumer: stopped: %v", err)
			}
		}()
	}
	ledger := service.New(
		repository.NewCustomerRepo(db, cfg.Driver),
		repository.NewTransactionRepo(db, cfg.Driver),
		opts...,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	router.RegisterRoutes(e, db)
	router.RegisterLedger(e,
		handler.NewLedgerHandler(ledger, catalog),
		cache.Middleware(),
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, db=%s)", addr, cfg.Env, cfg.Driver)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
