package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/httpapi"
	"github.com/MrEthical07/goIdentity/mailer"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/storage/sqlstore"
	"github.com/MrEthical07/goIdentity/strength"
)

// serverConfig holds the process wiring. Engine settings are read separately
// through goIdentity.LoadConfigFromEnv.
type serverConfig struct {
	Addr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	DBDialect     string        `env:"DB_DIALECT" envDefault:"sqlite"`
	DatabaseURL   string        `env:"DATABASE_URL" envDefault:"identity.db"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	AMQPURL       string        `env:"AMQP_URL"`
	MailQueue     string        `env:"MAIL_QUEUE" envDefault:"identity.mail"`
	LogLevel      slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	ShutdownAfter time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "identityd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var sc serverConfig
	if err := env.Parse(&sc); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	cfg, err := goIdentity.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("identity config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: sc.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect, err := sqlstore.ParseDialect(sc.DBDialect)
	if err != nil {
		return err
	}
	store, err := sqlstore.Open(ctx, dialect, sc.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	defer rdb.Close()

	var mail goIdentity.Mailer
	if sc.AMQPURL != "" {
		amqpMailer, err := mailer.DialAMQP(sc.AMQPURL, sc.MailQueue)
		if err != nil {
			return fmt.Errorf("dial amqp: %w", err)
		}
		defer amqpMailer.Close()
		mail = amqpMailer
	} else {
		logger.Warn("AMQP_URL not set, mail is logged instead of delivered")
		mail = mailer.NewLogMailer(logger)
	}

	activity := sqlstore.NewActivitySink(store.DB(), logger)
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithMailer(mail).
		WithStrengthScorer(strength.Zxcvbn{}).
		WithLogger(logger).
		WithAuditSink(goIdentity.MultiSink{
			activity,
			goIdentity.NewSlogSink(logger),
		}).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("security settings",
		slog.Int("argon2_memory_kb", int(report.Argon2.Memory)),
		slog.Int("argon2_time", int(report.Argon2.Time)),
		slog.Int("max_sessions_per_user", report.MaxSessionsPerUser),
		slog.Duration("max_session_lifetime", report.MaxSessionLifetime),
		slog.Duration("temp_code_ttl", report.TempCodeTTL),
		slog.Bool("rate_limiting", report.RateLimitingActive),
		slog.Bool("activity_records", report.ActivityRecordsEnabled),
	)

	if rtt, err := engine.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", slog.Any("error", err))
	} else {
		logger.Info("redis reachable", slog.Duration("rtt", rtt))
	}

	server := echo.New()
	server.HideBanner = true
	server.Use(echomw.BodyLimit("1M"))
	server.Use(echomw.RequestID())
	server.Use(echomw.Recover())

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = prometheus.NewPrometheusExporter(engine).Handler()
	}
	handler := httpapi.NewHandler(engine, logger, metrics)
	if cfg.Audit.Enabled {
		handler.WithActivity(activity)
	}
	handler.Register(server)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", sc.Addr), slog.String("db", string(dialect)))
		if err := server.Start(sc.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownAfter)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
