package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopchat/backend/internal/api/handler"
	"shopchat/backend/internal/chathub"
	"shopchat/backend/internal/config"
	"shopchat/backend/internal/llm"
	"shopchat/backend/internal/localization"
	"shopchat/backend/internal/logger"
	"shopchat/backend/internal/storage"
	"shopchat/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}

	log.Info().Msg("database and redis connections established")
	return db, rdb, nil
}

func newGenerator(cfg *config.Config, log zerolog.Logger) chathub.Generator {
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		log.Warn().Msg("no completion API configured, assistant replies are canned")
		return chathub.CannedGenerator{}
	}
	log.Info().Str("model", cfg.OpenAIModel).Bool("stream", cfg.OpenAIStream).Msg("assistant generator configured")
	return llm.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
}

func newLocalizer(cfg *config.Config, log zerolog.Logger) *localization.Localizer {
	if l, err := localization.NewLocalizer(cfg.LocalesDir); err == nil {
		return l
	}
	log.Debug().Str("dir", cfg.LocalesDir).Msg("locales directory not found, using built-in translations")
	return localization.Default()
}

func main() {
	if err := godotenv.Load(); err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg)
	log.Info().Str("addr", cfg.Addr()).Msg("starting shopchat backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, rdb, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect dependencies")
	}
	defer rdb.Close()

	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	hub := chathub.NewManagerService(
		s,
		newGenerator(cfg, log),
		chathub.PeerOptions{
			PersistBeforeBroadcast: cfg.PersistBeforeBroadcast,
			PersistTimeout:         cfg.PersistTimeout,
		},
		chathub.AssistantOptionsFromConfig(cfg),
		log,
	)

	if cfg.TelegramBotToken != "" {
		notifier, err := telegram.NewBotNotifier(cfg.TelegramBotToken, s, newLocalizer(cfg, log), log)
		if err != nil {
			log.Error().Err(err).Msg("offline alerts disabled")
		} else {
			hub.Peer.SetNotifier(notifier)
		}
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := handler.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, s)
	handler.NewHandler(hub, auth, cfg.AllowedOrigins, log).Register(r, cfg.AllowDevTokens)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked websockets are not tracked by the server; the hub closes them.
		serverErr := server.Shutdown(shutdownCtx)
		hubErr := hub.Shutdown(shutdownCtx)
		return errors.Join(serverErr, hubErr)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
