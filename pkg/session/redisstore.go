package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStoreConfig holds the configuration for the Redis client.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps session blobs in Redis, which lets several proxy
// replicas restore the same account session instead of each performing its
// own credential login.
type RedisStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a RedisStore. It pings the Redis
// server to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisStoreConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// Load reads the blob for id.
func (s *RedisStore) Load(ctx context.Context, id string) ([]byte, error) {
	blob, err := s.redisClient.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		s.logger.Error().Err(err).Str("identity", id).Msg("Unexpected Redis error during load.")
		return nil, fmt.Errorf("loading session from redis: %w", err)
	}

	s.logger.Debug().Str("identity", id).Msg("Found existing session in Redis.")
	return blob, nil
}

// Save stores the blob for id. Blobs do not expire; a stale session is
// detected and replaced by the login workflow, not by the store.
func (s *RedisStore) Save(ctx context.Context, id string, blob []byte) error {
	if err := s.redisClient.Set(ctx, s.key(id), blob, 0).Err(); err != nil {
		s.logger.Error().Err(err).Str("identity", id).Msg("Failed to store session in Redis.")
		return fmt.Errorf("saving session to redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	s.logger.Info().Msg("Closing Redis client connection...")
	return s.redisClient.Close()
}

func (s *RedisStore) key(id string) string {
	return "instaproxy:session:" + id
}
