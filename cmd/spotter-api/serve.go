package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/MarcoPoloResearchLab/spotter/internal/config"
	"github.com/MarcoPoloResearchLab/spotter/internal/database"
	"github.com/MarcoPoloResearchLab/spotter/internal/images"
	"github.com/MarcoPoloResearchLab/spotter/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/spotter/internal/logging"
	"github.com/MarcoPoloResearchLab/spotter/internal/metrics"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/MarcoPoloResearchLab/spotter/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/spotter/internal/realtime"
	"github.com/MarcoPoloResearchLab/spotter/internal/server"
	"github.com/MarcoPoloResearchLab/spotter/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	directory, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	store, err := pins.NewStore(pins.StoreConfig{Database: db, Directory: directory, Logger: logger})
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newLimiter(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	imageStore, err := images.NewDiskStore(images.DiskStoreConfig{
		Fs:        afero.NewOsFs(),
		Directory: appConfig.ImagesDirectory,
		URLPrefix: appConfig.ImagesURLPrefix,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	hub := realtime.NewHub(realtime.HubConfig{
		Directory:    directory,
		BufferSize:   appConfig.RealtimeBufferSize,
		PingInterval: appConfig.RealtimePing,
		Metrics:      recorder,
		Logger:       logger,
	})

	ingestor, err := pins.NewIngestor(pins.IngestorConfig{
		Store:     store,
		Limiter:   limiter,
		Images:    imageStore,
		Publisher: hub,
		Metrics:   recorder,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ranking, err := leaderboard.NewService(leaderboard.Config{
		Source:    store,
		Directory: directory,
		Metrics:   recorder,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.AuthIssuer,
	})
	if err != nil {
		return err
	}

	liveFeed, err := realtime.NewHandler(realtime.HandlerConfig{
		Hub:        hub,
		Tokens:     validator,
		Throttle:   realtime.NewConnectThrottle(appConfig.ConnectsPerSecond, appConfig.ConnectBurst),
		BufferSize: appConfig.RealtimeBufferSize,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: validator,
		Principals:     directory,
		Ingestor:       ingestor,
		Pins:           store,
		Leaderboard:    ranking,
		Directory:      directory,
		LiveFeed:       liveFeed,
		Metrics:        recorder.Handler(),
		Uploads:        imageStore.FileSystem(),
		UploadsPrefix:  imageStore.URLPrefix(),
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return hub.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newLimiter builds the configured admission backend. The returned func
// releases any connection it holds.
func newLimiter(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	policy := ratelimit.Policy{Capacity: appConfig.RateLimitCapacity, Window: appConfig.RateLimitWindow}

	switch appConfig.RateLimitBackend {
	case config.RateLimitBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis rate limit backend: %w", err)
		}
		logger.Info("rate limiter ready", zap.String("backend", "redis"), zap.String("address", appConfig.RedisAddress))
		return ratelimit.NewRedisLimiter(client, policy), func() { _ = client.Close() }, nil
	default:
		limiter := ratelimit.NewMemoryLimiter(policy)
		limiter.StartJanitor(ctx)
		logger.Info("rate limiter ready", zap.String("backend", "memory"))
		return limiter, func() {}, nil
	}
}
