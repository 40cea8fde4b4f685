package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ams_backend/internal/config"
	"ams_backend/internal/domain"
	"ams_backend/internal/events"
	"ams_backend/internal/httpserver"
	"ams_backend/internal/logging"
	"ams_backend/internal/media"
	"ams_backend/internal/metrics"
	"ams_backend/internal/ratelimit"
	"ams_backend/internal/security"
	"ams_backend/internal/service"
	"ams_backend/internal/store/mongo"
	"ams_backend/internal/store/postgres"
	"ams_backend/internal/store/sqlite"
	"ams_backend/internal/ws"
)

type stores struct {
	users    domain.UserRepository
	messages domain.MessageRepository
	markers  domain.ReadMarkerRepository
	close    func()
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Debug || !cfg.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	var codec service.BodyCodec
	if cfg.EncryptKey != "" {
		enc, err := security.NewEncryptor(cfg.EncryptKey, cfg.LegacyEncryptKeys)
		if err != nil {
			return fmt.Errorf("initialize encryptor: %w", err)
		}
		codec = enc
	} else {
		logger.Warn("ENCRYPTION_KEY not set, message bodies are stored as plain text")
	}

	m := metrics.New()
	hub := ws.NewHub(logger.Named("ws"), m)

	publishers := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return err
	}

	broadcaster, err := domain.ParseRole(cfg.BroadcasterRole)
	if err != nil {
		return fmt.Errorf("BROADCASTER_ROLE: %w", err)
	}
	audience, err := domain.ParseRole(cfg.BroadcastRole)
	if err != nil {
		return fmt.Errorf("BROADCAST_ROLE: %w", err)
	}

	ttl := time.Duration(cfg.AccessTokenMinutes) * time.Minute
	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Auth:  service.NewAuthService(st.users, tokenSvc, passwordHasher, ttl),
		Users: service.NewUserService(st.users),
		Messages: service.NewMessageService(st.messages, st.users, codec, publishers, m, logger.Named("messages"),
			service.MessageOptions{BroadcasterRole: broadcaster, AudienceRole: audience}),
		Convs: service.NewConversationService(st.messages, st.users, st.markers, codec, publishers, m, logger.Named("conversations"),
			service.ConversationOptions{
				GroupChatName:    cfg.GroupChatName,
				MaxGroupMessages: cfg.MaxGroupMessages,
				ThreadBroadcasts: cfg.ThreadBroadcasts,
			}),
		Hub:      hub,
		Limiter:  limiter,
		Uploader: uploader,
		Metrics:  m,
		Log:      logger,
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr()), zap.String("app", cfg.AppName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "mongo":
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.MongoDB)
		return &stores{
			users:    mongo.NewUserRepo(db),
			messages: mongo.NewMessageRepo(db, logger.Named("mongo")),
			markers:  mongo.NewReadMarkerRepo(db),
			close:    func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return &stores{
			users:    postgres.NewUserRepo(db),
			messages: postgres.NewMessageRepo(db),
			markers:  postgres.NewReadMarkerRepo(db),
			close:    func() { db.Close() },
		}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return &stores{
			users:    sqlite.NewUserRepo(db),
			messages: sqlite.NewMessageRepo(db),
			markers:  sqlite.NewReadMarkerRepo(db),
			close:    func() { db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// newLimiter prefers a shared Redis window and falls back to per-process
// buckets when REDIS_ADDR is unset.
func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.SendRatePerMinute <= 0 {
		return ratelimit.Unlimited{}, func() {}, nil
	}
	if cfg.RedisAddr == "" {
		return ratelimit.NewLocalLimiter(cfg.SendRatePerMinute, cfg.SendRatePerMinute), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis rate limiter enabled", zap.String("addr", cfg.RedisAddr))
	return ratelimit.NewRedisLimiter(rdb, "ams:send", cfg.SendRatePerMinute, time.Minute), func() { _ = rdb.Close() }, nil
}

func newUploader(ctx context.Context, cfg *config.Config) (media.Uploader, error) {
	if cfg.UploadDriver == "s3" {
		return media.NewS3Uploader(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3PublicBaseURL)
	}
	return media.NewDiskUploader(cfg.UploadDir, "/api/uploads")
}
