package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/backend-petshop/internal/app"
	"github.com/noah-isme/backend-petshop/internal/config"
	"github.com/noah-isme/backend-petshop/internal/lock"
	"github.com/noah-isme/backend-petshop/internal/mva"
	"github.com/noah-isme/backend-petshop/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "petshop"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := &app.Dependencies{MeterProvider: otel.GetMeterProvider()}
	defer deps.Close(logger)

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if deps.Redis, err = app.ConnectRedis(startCtx, cfg.RedisURL, deps.MeterProvider, logger); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}

	source := mustInitSource(startCtx, cfg, deps, logger)
	rebuilder := mva.Rebuilder{
		Source:   source,
		Cache:    mva.NewSnapshotCache(deps.Redis, cfg.MVACacheKey, cfg.MVACacheTTL),
		Notifier: mva.Notifier{Client: deps.Redis, Channel: cfg.MVAUpdatesChannel},
		Locker:   lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:  cfg.LockTTL,
		Logger:   logger,
	}

	redisOpt, err := app.AsynqRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task server")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{mva.QueueName: 1},
		ShutdownTimeout: 10 * time.Second,
		Logger:          asynqLogger{logger: logger},
	})

	mux := asynq.NewServeMux()
	mux.Handle(mva.TypeRebuild, rebuilder)

	logger.Info().Str("mva_source", source.Name()).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitSource(ctx context.Context, cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) mva.Source {
	if cfg.MVASource == config.MVASourceFile {
		src, err := mva.NewFileSource(cfg.MVAFilePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("configure mva file source")
		}
		return src
	}
	pool, err := app.ConnectPostgres(ctx, cfg.DatabaseURL, "petshop-tax-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	deps.DB = pool
	return mva.NewStore(pool)
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
