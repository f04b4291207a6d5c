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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-petshop/internal/app"
	"github.com/noah-isme/backend-petshop/internal/config"
	"github.com/noah-isme/backend-petshop/internal/db"
	"github.com/noah-isme/backend-petshop/internal/health"
	"github.com/noah-isme/backend-petshop/internal/mva"
	"github.com/noah-isme/backend-petshop/internal/obs"
	"github.com/noah-isme/backend-petshop/internal/quote"
	"github.com/noah-isme/backend-petshop/internal/ratelimit"
	"github.com/noah-isme/backend-petshop/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "petshop")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    "petshop-tax-api",
			ServiceVersion: envOrDefault("APP_VERSION", "dev"),
			Endpoint:       envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:       envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio:  envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := &app.Dependencies{
		MetricsRegistry: prometheus.DefaultRegisterer,
		MeterProvider:   otel.GetMeterProvider(),
	}
	defer deps.Close(logger)

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if deps.Redis, err = app.ConnectRedis(startCtx, cfg.RedisURL, deps.MeterProvider, logger); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if cfg.MVASource == config.MVASourcePostgres {
		if cfg.MigrateOnStart {
			mustMigrate(cfg.DatabaseURL, logger)
		}
		if deps.DB, err = app.ConnectPostgres(startCtx, cfg.DatabaseURL, "petshop-tax-api"); err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
	}
	if deps.Validator, err = app.NewValidator(); err != nil {
		logger.Fatal().Err(err).Msg("initialise validator")
	}

	mvaLogger := obs.Component(logger, "mva")
	holder := mva.NewHolder(nil)
	reloader := &mva.Reloader{
		Holder:   holder,
		Cache:    mva.NewSnapshotCache(deps.Redis, cfg.MVACacheKey, cfg.MVACacheTTL),
		Notifier: &mva.Notifier{Client: deps.Redis, Channel: cfg.MVAUpdatesChannel},
		Interval: cfg.MVAReloadInterval,
		Logger:   mvaLogger,
	}
	mvaHandler := &mva.Handler{
		Holder:     holder,
		Reloader:   reloader,
		Validate:   deps.Validator,
		MaxPerPage: 500,
		Logger:     mvaLogger,
	}

	var fileSource *mva.FileSource
	switch cfg.MVASource {
	case config.MVASourcePostgres:
		store := mva.NewStore(deps.DB)
		reloader.Source = store
		mvaHandler.Store = store

		redisOpt, err := app.AsynqRedisOpt(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("configure task client")
		}
		deps.TaskClient = asynq.NewClient(redisOpt)
		mvaHandler.Scheduler = mva.Scheduler{Client: deps.TaskClient}

		if _, err := reloader.ReloadFromCache(startCtx); err != nil {
			mvaLogger.Error().Err(err).Msg("initial mva load")
		}
	case config.MVASourceFile:
		if fileSource, err = mva.NewFileSource(cfg.MVAFilePath); err != nil {
			logger.Fatal().Err(err).Msg("configure mva file source")
		}
		reloader.Source = fileSource
		// file deployments do not share snapshots across instances
		reloader.Cache, reloader.Notifier = nil, nil
		if _, err := reloader.Reload(startCtx); err != nil {
			mvaLogger.Error().Err(err).Msg("initial mva load")
		}
	}

	quoteService, err := quote.NewService(quote.Config{
		Holder:      holder,
		Defaults:    cfg.TaxDefaults,
		Parallelism: cfg.QuoteParallelism,
		MaxItems:    cfg.QuoteMaxItems,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise quote service")
	}
	quoteHandler := &quote.Handler{Service: quoteService, Validate: deps.Validator, Logger: obs.Component(logger, "quote")}

	adminLimiter, err := app.NewAdminLimiter(deps.Redis, cfg.AdminRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise admin rate limiter")
	}
	quoteLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("tax"),
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, deps.MetricsRegistry)
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
	r.Use(security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLE", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLE", true),
		HSTSMaxAge:            envInt("SECURE_HSTS_MAX_AGE", 31536000),
		HSTSIncludeSubdomains: envBool("SECURE_HSTS_INCLUDE_SUBDOMAINS", true),
		NoStore:               true,
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{Probes: readinessProbes(deps, holder)}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	bodyLimit := security.BodyLimit{Max: cfg.HTTPBodyLimitBytes}
	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/tax", func(t chi.Router) {
			t.Use(quoteLimiter.Middleware, bodyLimit.Middleware)
			t.Post("/items", quoteHandler.Item)
			t.Post("/sales", quoteHandler.Sale)
		})
		v.Get("/mva/resolve", mvaHandler.Resolve)

		v.Route("/admin/mva", func(a chi.Router) {
			a.Use(adminLimiter, bodyLimit.Middleware)
			a.Get("/", mvaHandler.List)
			a.Put("/", mvaHandler.Upsert)
			a.Post("/reload", mvaHandler.Reload)
			a.Delete("/{product}/{origin}/{destination}", mvaHandler.Delete)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(reloader.Run(gctx))
	})
	if fileSource != nil {
		g.Go(func() error {
			return ignoreCanceled(fileSource.Watch(gctx, mvaLogger, func() {
				if _, err := reloader.Reload(gctx); err != nil {
					mvaLogger.Error().Err(err).Str("file", fileSource.Path()).Msg("reload mva file")
				}
			}))
		})
	}
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("mva_source", cfg.MVASource).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 10000))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited unexpectedly")
		return
	}
	logger.Info().Msg("server shutdown complete")
}

func mustMigrate(databaseURL string, logger zerolog.Logger) {
	m, err := db.NewMigrate(databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise migrations")
	}
	defer func() { _, _ = m.Close() }()
	if err := db.Up(m); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("migrations applied")
}

func readinessProbes(deps *app.Dependencies, holder *mva.Holder) []health.Probe {
	probes := []health.Probe{
		{Name: "redis", Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300), Check: func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}},
		{Name: "mva", Check: func(context.Context) error {
			if !holder.Loaded() {
				return errors.New("snapshot not loaded")
			}
			return nil
		}},
	}
	if deps.DB != nil {
		probes = append(probes, health.Probe{Name: "db", Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500), Check: deps.DB.Ping})
	}
	return probes
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
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
	mux.Handle("/allocs", pprof.Handler("allocs"))
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
