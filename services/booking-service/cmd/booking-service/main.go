package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/appointmenthub/hub/libs/config"
	"github.com/appointmenthub/hub/libs/db"
	"github.com/appointmenthub/hub/libs/grpcx"
	"github.com/appointmenthub/hub/libs/httpx"
	"github.com/appointmenthub/hub/libs/kafkax"
	otelx "github.com/appointmenthub/hub/libs/otel"
	"github.com/appointmenthub/hub/libs/runtime"
	"github.com/appointmenthub/hub/services/booking-service/internal/booking"
	"github.com/appointmenthub/hub/services/booking-service/internal/handlers"
	"github.com/appointmenthub/hub/services/booking-service/internal/memstore"
	"github.com/appointmenthub/hub/services/booking-service/internal/metrics"
	"github.com/appointmenthub/hub/services/booking-service/internal/notifystore"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
	"github.com/appointmenthub/hub/services/booking-service/internal/storage"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type backend struct {
	appts   store.AppointmentStore
	notes   store.NotificationStore
	events  outbox.Emitter
	checks  []runtime.ReadyCheck
	rdb     *redis.Client
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := runtime.ShutdownContext(5 * time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	loc, err := time.LoadLocation(config.String("TIMEZONE", "UTC"))
	if err != nil {
		panic(err)
	}
	rateLimit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}
	bodyLimit, err := config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		panic(err)
	}
	requestTimeout, err := config.Duration("HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		panic(err)
	}

	m := metrics.New()
	be := openBackend(ctx, logger, config.String("STORE_BACKEND", "postgres"))
	defer be.close()

	svc := booking.NewService(be.appts, be.notes, be.events, logger, booking.Options{
		Location: loc,
		Metrics:  m,
	})

	mux := runtime.NewBaseMuxWithReady(be.checks...)
	handlers.NewBookingHandler(svc, logger).Register(mux)
	mux.Handle("/metrics", m.Handler())

	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(rateLimit, time.Minute)
	if be.rdb != nil {
		limiter = httpx.NewRedisRateLimiter(be.rdb, rateLimit, time.Minute, service+":ratelimit")
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.RateLimit(limiter, logger, true),
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, healthSrv := grpcx.NewServer()
	go grpcx.WatchReadiness(ctx, healthSrv, logger, 5*time.Second, be.checks...)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go grpcx.Serve(ctx, grpcSrv, lis, logger)

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store_backend", config.String("STORE_BACKEND", "postgres"))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := runtime.ShutdownContext(10 * time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func openBackend(ctx context.Context, logger *slog.Logger, kind string) *backend {
	switch kind {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		sink := outbox.NewLogSink(logger)
		appts := memstore.NewAppointments()
		appts.Outbox = sink
		return &backend{
			appts:  appts,
			notes:  memstore.NewNotifications(),
			events: sink,
		}
	case "postgres":
	default:
		panic("STORE_BACKEND must be postgres or memory, got " + kind)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	outboxRepo := outbox.NewRepository(pool)
	be := &backend{
		appts:   storage.NewAppointmentRepository(pool, outboxRepo),
		events:  outboxRepo,
		checks:  []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
		closers: []func(){pool.Close},
	}
	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)
	if brokers != "" {
		be.checks = append(be.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.SplitBrokers(brokers), 2*time.Second)})
	}

	redisAddr := config.String("REDIS_ADDR", "")
	if redisAddr == "" {
		logger.Warn("REDIS_ADDR not set; notifications are kept in memory")
		be.notes = memstore.NewNotifications()
		return be
	}
	redisDB, err := config.Int("REDIS_DB", 0)
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	be.rdb = rdb
	be.closers = append(be.closers, func() { _ = rdb.Close() })
	be.notes = notifystore.NewRedisStore(rdb, "notifications")
	be.checks = append(be.checks, runtime.ReadyCheck{Name: "redis", Check: notifystore.ReadyCheck(rdb)})
	return be
}
