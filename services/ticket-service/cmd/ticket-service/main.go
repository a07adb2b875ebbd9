package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/ticketledger/libs/auth"
	"github.com/md-rashed-zaman/ticketledger/libs/config"
	"github.com/md-rashed-zaman/ticketledger/libs/custody"
	"github.com/md-rashed-zaman/ticketledger/libs/db"
	"github.com/md-rashed-zaman/ticketledger/libs/httpx"
	"github.com/md-rashed-zaman/ticketledger/libs/kafkax"
	otelx "github.com/md-rashed-zaman/ticketledger/libs/otel"
	"github.com/md-rashed-zaman/ticketledger/libs/runtime"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/handlers"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/ledger"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/migrations"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/outbox"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/storage"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/tickets"
)

const defaultContractAddress = "0x4dFFE195b61e03E14d11450D9C6c05Dd02343F25"

func main() {
	service := config.String("SERVICE_NAME", "ticket-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	encryptionKey, err := config.RequiredString("ENCRYPTION_KEY")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	sealer, err := custody.NewSealer(encryptionKey)
	if err != nil {
		panic(err)
	}
	verifier, err := newVerifier(jwtSecret, logger)
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 10)))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	ledgerClient, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          config.String("LEDGER_RPC_URL", "http://localhost:7545"),
		ContractAddress: config.String("TICKET_CONTRACT_ADDRESS", defaultContractAddress),
		PollInterval:    config.Millis("LEDGER_RECEIPT_POLL_MS", 500*time.Millisecond),
	})
	if err != nil {
		logger.Error("ledger client init failed", "err", err)
		panic(err)
	}
	defer ledgerClient.Close()

	ticketRepo := storage.NewTicketRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "ledger", Check: ledgerClient.ReadyCheck()},
	}

	var writer outbox.MessageWriter
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		writer = kafkax.NewWriter(brokers)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	publisher := outbox.NewPublisher(outboxRepo, writer, logger, outbox.PublisherConfig{
		PollEvery: config.Millis("OUTBOX_POLL_MS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	svc := tickets.NewService(tickets.Deps{
		Wallets: storage.NewWalletRepository(pool),
		Events:  storage.NewEventRepository(pool),
		Tickets: ticketRepo,
		Ledger:  ledgerClient,
		Keys:    sealer,
		Outbox:  outboxRepo,
		Logger:  logger,
	})

	trustedProxies, err := httpx.ParseTrustedProxies(config.List("TRUSTED_PROXIES", ""))
	if err != nil {
		panic(err)
	}
	limiter, limiterCheck := newLimiter(service)
	if limiterCheck != nil {
		checks = append(checks, *limiterCheck)
	}

	router := handlers.NewRouter(handlers.NewTicketHandler(svc, logger), verifier, logger, checks...)
	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.RateLimit(limiter, logger, httpx.RateLimitOptions{
			FailOpen:       config.Bool("RATE_LIMIT_FAIL_OPEN", true),
			TrustedProxies: trustedProxies,
		}),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.Serve(ctx, srv, logger, 10*time.Second)
}

func newVerifier(secret string, logger *slog.Logger) (*auth.Verifier, error) {
	mode, err := auth.ParseLongFormMode(config.String("AUTH_LONG_TOKEN_MODE", string(auth.LongFormDecode)))
	if err != nil {
		return nil, err
	}
	var jwks *auth.JWKSClient
	switch mode {
	case auth.LongFormJWKS:
		url, err := config.RequiredString("JWKS_URL")
		if err != nil {
			return nil, err
		}
		jwks = auth.NewJWKSClient(url, time.Duration(config.Int("JWKS_CACHE_SECONDS", 300))*time.Second)
	case auth.LongFormDecode:
		logger.Warn("long-form bearer tokens are accepted without signature verification", "mode", mode)
	}
	return auth.NewVerifier(secret, auth.WithLongFormMode(mode, jwks)), nil
}

// newLimiter uses Redis when REDIS_ADDR is set so every replica shares one
// budget; otherwise each process counts on its own.
func newLimiter(service string) (httpx.Limiter, *runtime.ReadyCheck) {
	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewMemoryLimiter(perMinute, time.Minute), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	check := &runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
	return httpx.NewRedisLimiter(rdb, perMinute, time.Minute, service), check
}
