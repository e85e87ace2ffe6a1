package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/config"
	"github.com/noah-isme/toko-qris/internal/gateway"
	"github.com/noah-isme/toko-qris/internal/health"
	"github.com/noah-isme/toko-qris/internal/notify"
	"github.com/noah-isme/toko-qris/internal/obs"
	"github.com/noah-isme/toko-qris/internal/qr"
	"github.com/noah-isme/toko-qris/internal/ratelimit"
	"github.com/noah-isme/toko-qris/internal/resilience"
	"github.com/noah-isme/toko-qris/internal/security"
	"github.com/noah-isme/toko-qris/internal/storefront"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "toko")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	if metricsEnabled {
		resilience.MustRegisterMetrics(metricsNamespace, nil)
	}

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    "toko-qris",
			ServiceVersion: envOrDefault("APP_VERSION", ""),
			Environment:    cfg.AppEnv,
			Exporter:       envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			Endpoint:       envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio:  sampling,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := mustInitRedis(ctx, cfg, logger, metricsEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri for task queue")
	}
	taskClient := asynq.NewClient(redisConn)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "gateway",
			MinRequests:  cfg.CircuitGatewayMinReq,
			FailureRatio: cfg.CircuitGatewayFailureRate,
			OpenFor:      cfg.CircuitGatewayOpenFor,
			Logger:       logger,
		}),
		Timeout:       cfg.GatewayTimeout,
		RetryBase:     cfg.RetryBase,
		Jitter:        cfg.RetryJitterPercent,
		QueryAttempts: cfg.GatewayStatusAttempts,
		Logger:        logger,
	})

	var querier checkout.StatusQuerier = checkout.OrderQuerier{Gateway: gatewayClient}
	if cfg.GatewayStatusSource == config.StatusSourceNative {
		querier = checkout.NativeQuerier{Gateway: gatewayClient}
	}

	catalogService, err := catalog.NewService(catalog.DefaultProducts())
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	deliveries := notify.Enqueuer{
		Client:   taskClient,
		MaxRetry: cfg.QueueMaxRetry,
		Logger:   logger,
	}
	creator := checkout.NewCreator(gatewayClient, checkout.NewIDGenerator(), logger)
	paidHook := storefront.DeliveryHook(deliveries, 5*time.Second, logger)

	hub := storefront.NewHub(logger)
	sessions := storefront.NewStore(storefront.StoreConfig{
		NewMachine: func() *checkout.Machine {
			return checkout.NewMachine(checkout.Config{
				Creator:         creator,
				Querier:         querier,
				PollInterval:    cfg.CheckoutPollInterval,
				PaymentDeadline: cfg.CheckoutPaymentDeadline,
				QueryTimeout:    cfg.PollQueryTimeout(),
				OnPaid:          paidHook,
				Logger:          logger,
			})
		},
		IdleTTL: cfg.CheckoutSessionIdleTTL,
		Hub:     hub,
		Logger:  logger,
	})
	storefrontHandler := storefront.NewHandler(storefront.HandlerConfig{
		Sessions:       sessions,
		Catalog:        catalogService,
		Orders:         gatewayClient,
		QR:             qr.NewRenderer(cfg.QRSizePx),
		Hub:            hub,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitTimeout:  cfg.GatewayTimeout + time.Second,
		PublicBaseURL:  cfg.PublicBaseURL,
		Logger:         logger,
	})

	idem := common.Idem{
		R:     redisClient,
		TTL:   cfg.IdempotencyTTL,
		Scope: func(r *http.Request) string { return chi.URLParam(r, "sessionID") },
	}
	submitLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:submit"},
		Config: ratelimit.Config{
			Key:    ratelimit.SessionKey("submit"),
			Window: cfg.CheckoutSubmitWindow,
			Max:    cfg.CheckoutSubmitMax,
		},
		OnError: func(r *http.Request, err error) {
			logger.Warn().Err(err).Str("path", r.URL.Path).Msg("submit rate limiter unavailable")
		},
	}
	apiLimit, err := ratelimit.NewAPIMiddleware(redisClient, cfg.APIRateLimit, "ratelimit:api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise api rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Location", "Retry-After", "X-Total-Count"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLE", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLE", cfg.AppEnv == "production"),
		HSTSMaxAge:            envInt("SECURE_HSTS_MAX_AGE", 31536000),
		NoStore:               true,
		ContentSecurityPolicy: envOrDefault("SECURE_CSP", ""),
	}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", false)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:        health.Probes{Redis: redisClient, Gateway: gatewayClient},
		RedisTimeout:   envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		GatewayTimeout: envDurationMillis("HEALTH_READY_GATEWAY_TIMEOUT_MS", 1000),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(apiLimit)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{productID}", catalogHandler.ProductDetail)
		storefrontHandler.Routes(v, idem.Middleware, submitLimit.Middleware)
	})

	background, cancelBackground := context.WithCancel(context.Background())
	go hub.Run(background)
	sessionsDone := make(chan struct{})
	go func() {
		sessions.Run(background)
		close(sessionsDone)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	cancelBackground()
	<-sessionsDone
	logger.Info().Msg("server shutdown complete")
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metricsEnabled bool) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
