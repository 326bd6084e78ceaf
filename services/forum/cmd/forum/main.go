package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"companion/internal/util"
	"companion/pkg/storage"
	"companion/pkg/store"
	"companion/services/forum/internal/app"
	"companion/services/forum/internal/config"
	"companion/services/forum/internal/server"
)

func main() {
	path := config.ConfigPath
	if v := os.Getenv("FORUM_CONFIG"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = store.OpenRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	appCore, err := app.New(app.Config{
		DatabaseDriver: cfg.DatabaseDriver,
		DatabaseURL:    cfg.DatabaseURL,
		SessionSecret:  cfg.SessionSecret,
		SessionTTL:     sessionTTL,
		MediaDir:       cfg.MediaDir,
		MediaURL:       cfg.MediaURL,
		Minio: storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		},
		MaxUploadBytes:   cfg.MaxUploadBytes,
		AvatarExtensions: cfg.AllowedAvatarExtensions,
		Redis:            redisClient,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		SessionTTL:                 sessionTTL,
		FlashSecret:                cfg.FlashSecret,
		CookieSecure:               cfg.CookieSecure,
		StaticURL:                  cfg.StaticURL,
		MediaURL:                   cfg.MediaURL,
		Redis:                      redisClient,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		TrustedProxies:             trusted,
		APIAllowedOrigins:          cfg.APIAllowedOrigins,
		ImgSources:                 minioImgSources(cfg.MinioEndpoint, cfg.MinioUseSSL),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("forum server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("forum server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

// minioImgSources allows presigned avatar links through the CSP.
func minioImgSources(endpoint string, useSSL bool) []string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: endpoint}
	return []string{u.String()}
}
