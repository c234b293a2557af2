package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/queryflow/types"
)

// RedisConfig configures the Redis-backed session store.
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	PoolSize  int           `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisConfig returns the default Redis store configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "queryflow:",
		TTL:       7 * 24 * time.Hour,
	}
}

// RedisStore is a Redis-based SessionStore for distributed deployments.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "queryflow:"
	}
	return &RedisStore{client: client, config: config}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client, config RedisConfig) *RedisStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "queryflow:"
	}
	return &RedisStore{client: client, config: config}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.config.KeyPrefix + "session:" + sessionID
}

// PersistSession saves the transcript as a JSON record with the configured TTL.
func (s *RedisStore) PersistSession(ctx context.Context, sessionID string, transcript []types.TranscriptEntry, meta map[string]string) error {
	record := SessionRecord{
		SessionID:  sessionID,
		Transcript: transcript,
		Meta:       meta,
		SavedAt:    time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sessionID), data, s.config.TTL).Err(); err != nil {
		return types.NewError(types.ErrPersistenceFailed, "failed to save session record").WithCause(err)
	}
	return nil
}

// LoadSession returns the saved record for a session.
func (s *RedisStore) LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailed, "failed to load session record").WithCause(err)
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// Ping checks backend health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
