// The instaproxy command runs the Instagram proxy service: a small HTTP
// surface over a memoized, self-healing Instagram session, with error
// notifications delivered to a Telegram channel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-instaproxy/pkg/instagram"
	"github.com/illmade-knight/go-instaproxy/pkg/microservice"
	"github.com/illmade-knight/go-instaproxy/pkg/notify"
	"github.com/illmade-knight/go-instaproxy/pkg/session"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	// A .env file is a local-development convenience; in deployment the
	// variables come from the environment directly.
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := microservice.LoadConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration.")
	}

	if level, parseErr := zerolog.ParseLevel(cfg.LogLevel); parseErr == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build session store.")
	}
	defer cleanup()

	manager, err := session.NewManager(cfg.Instagram, store, func() instagram.Client {
		return instagram.NewRestClient(nil, logger)
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build session manager.")
	}

	sender, err := notify.NewTelegramSender(cfg.Telegram, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build notification sender.")
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{}, sender, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build notification dispatcher.")
	}
	dispatcher.Start(ctx)

	server := microservice.NewProxyServer(cfg.HTTPPort, manager, dispatcher, logger)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Notification dispatcher shutdown failed.")
	}
}

// buildStore constructs the configured session-blob backend. The returned
// cleanup closes any client the store owns.
func buildStore(ctx context.Context, cfg *microservice.Config, logger zerolog.Logger) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case microservice.StoreFile:
		store, err := session.NewFileStore(cfg.SessionDir, logger)
		return store, func() {}, err

	case microservice.StoreRedis:
		store, err := session.NewRedisStore(ctx, &session.RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case microservice.StoreGCS:
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating GCS client: %w", err)
		}
		store, err := session.NewGCSStore(session.NewGCSClientAdapter(client), session.GCSStoreConfig{
			BucketName:   cfg.GCSBucket,
			ObjectPrefix: cfg.GCSPrefix,
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
}
