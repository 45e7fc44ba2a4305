package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/events"
	"github.com/fjod/storefront/internal/guestcart"
	httpapi "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/poller"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
)

// Run creates all dependencies, starts the HTTP server and the checkout
// reconciler, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	db, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return errors.Wrap(err, "connect mongo")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			lg.Error("Mongo disconnect", zap.Error(err))
		}
	}()
	if err := repository.CreateIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "create indexes")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}

	var publisher events.Publisher = events.NewLogPublisher(lg)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			lg.Error("Close publisher", zap.Error(err))
		}
	}()

	svc, err := service.NewCartService(service.Deps{
		Carts:  repository.NewMongoRepository(db),
		Orders: repository.NewOrderRepository(db),
		Catalog: catalog.New(repository.NewProductRepository(db), catalog.BreakerConfig{
			MaxRequests:         cfg.Catalog.MaxRequests,
			Interval:            cfg.Catalog.Interval,
			Timeout:             cfg.Catalog.Timeout,
			ConsecutiveFailures: cfg.Catalog.ConsecutiveFailures,
		}, lg.Named("catalog")),
		Cache:     cache.NewRedisCache(rdb, cfg.Cache.TTL),
		Guard:     cache.NewRedisMergeGuard(rdb, cfg.Cache.MergeKeyTTL),
		Publisher: publisher,
	}, lg.Named("cart"), m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create cart service")
	}

	health := httpapi.NewHealthHandler(2 * time.Second)
	health.Add("mongo", func(ctx context.Context) error {
		return db.Client().Ping(ctx, nil)
	})
	health.Add("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	router := httpapi.NewRouter(httpapi.RouterConfig{
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		SessionCookie:      cfg.Session.Cookie,
		GuestCookie: guestcart.CookieOptions{
			Path:   "/",
			MaxAge: cfg.Guest.MaxAge,
			Secure: cfg.Guest.Secure,
		},
	}, svc, auth.NewVerifier([]byte(cfg.Session.Secret)), health, lg)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(router, "storefront",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		p := poller.NewPoller(svc, lg.Named("poller"), cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		g.Go(func() error {
			defer func() { _ = p.Close() }()
			return p.Run(ctx)
		})
	} else {
		lg.Warn("No Kafka brokers configured, checkout reconciliation disabled")
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
