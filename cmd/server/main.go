// Command server runs the chat backend: the HTTP API, the realtime change
// feed, and the background notification queue processor, all backed by a
// single SQLite database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/config"
	httpapi "github.com/terply/chat-backend/internal/http"
	"github.com/terply/chat-backend/internal/observability"
	"github.com/terply/chat-backend/internal/push"
	"github.com/terply/chat-backend/internal/queue"
	"github.com/terply/chat-backend/internal/realtime"
	"github.com/terply/chat-backend/internal/repo"
	"github.com/terply/chat-backend/internal/services"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	notifSvc := &services.NotificationService{DB: db, Subject: cfg.VAPID.Subject}
	keys, err := provisionVAPID(ctx, db, notifSvc, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("vapid key provisioning failed")
	}
	log.Info().Str("public_key", keys.Public).Msg("vapid keys ready")

	proc := queue.NewProcessor(queue.Options{
		DB:          db,
		Push:        push.NewWebPush(keys, cfg.VAPID.Subject),
		Log:         log.Logger,
		Interval:    cfg.Queue.TickInterval,
		BatchSize:   cfg.Queue.BatchSize,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Retention:   cfg.Queue.Retention,
	})
	go proc.Start(ctx)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Queue.SweepSpec, func() {
		proc.Sweep(context.Background())
	}); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Queue.SweepSpec).Msg("invalid sweep schedule")
	}
	sweeper.Start()

	hub := realtime.NewHub(log.Logger)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, hub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	// Stop scheduling new sweeps; <-Stop().Done() waits out a running one.
	<-sweeper.Stop().Done()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("server stopped")
}

// provisionVAPID makes sure an active VAPID key pair exists before the queue
// processor starts signing pushes. Keys supplied through the environment win
// over auto-generation, but an already-stored pair is never overwritten:
// rotating keys invalidates every browser subscription in the wild.
func provisionVAPID(ctx context.Context, db *gorm.DB, svc *services.NotificationService, cfg config.Config) (push.Keys, error) {
	if cfg.VAPID.PublicKey != "" && cfg.VAPID.PrivateKey != "" {
		_, err := repo.ActiveKeyPair(ctx, db)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if _, err := repo.RotateKeyPair(ctx, db, cfg.VAPID.PublicKey, cfg.VAPID.PrivateKey, cfg.VAPID.Subject); err != nil {
				return push.Keys{}, err
			}
		} else if err != nil {
			return push.Keys{}, err
		}
	} else {
		// Generates and stores a pair on first boot, no-op afterwards.
		if _, err := svc.PublicKey(ctx); err != nil {
			return push.Keys{}, err
		}
	}
	return svc.ActiveKeys(ctx)
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.Logger.With().Str("service", cfg.OTEL.ServiceName).Logger()
}
