package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/config"
	"github.com/2001J/nebular-power-sub002/models"
	"github.com/go-redis/redis/v8"
)

const (
	statusKeyPrefix   = "installation:status:"
	lastSeenKeyPrefix = "device:lastseen:"
	alertChannel      = "alerts:admin"

	statusCacheTTL = 24 * time.Hour
)

// RedisClient wraps the go-redis client with the cache and pub/sub
// operations the control plane needs.
type RedisClient struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisClient creates a new Redis client and verifies the connection.
func NewRedisClient(cfg *config.Config, appLogger *slog.Logger) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	redisLogger := appLogger.With("component", "redis")
	redisLogger.Info("Connecting to Redis...", "addr", addr, "db", cfg.RedisDB)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisLogger.Info("Redis connected successfully")

	return &RedisClient{client: client, logger: redisLogger}, nil
}

// CacheServiceStatus stores the active status row for fast dashboard reads.
func (r *RedisClient) CacheServiceStatus(ctx context.Context, status *models.ServiceStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal service status: %w", err)
	}
	key := fmt.Sprintf("%s%d", statusKeyPrefix, status.InstallationID)
	if err := r.client.Set(ctx, key, payload, statusCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache service status: %w", err)
	}
	return nil
}

// GetCachedServiceStatus returns the cached status, or nil on a cache miss.
func (r *RedisClient) GetCachedServiceStatus(ctx context.Context, installationID uint) (*models.ServiceStatus, error) {
	key := fmt.Sprintf("%s%d", statusKeyPrefix, installationID)
	payload, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached service status: %w", err)
	}
	var status models.ServiceStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached service status: %w", err)
	}
	return &status, nil
}

// InvalidateServiceStatus drops the cached status after a write.
func (r *RedisClient) InvalidateServiceStatus(ctx context.Context, installationID uint) error {
	key := fmt.Sprintf("%s%d", statusKeyPrefix, installationID)
	return r.client.Del(ctx, key).Err()
}

// RecordDeviceLastSeen stamps a device heartbeat.
func (r *RedisClient) RecordDeviceLastSeen(ctx context.Context, installationID uint, at time.Time) error {
	key := fmt.Sprintf("%s%d", lastSeenKeyPrefix, installationID)
	return r.client.Set(ctx, key, at.Format(time.RFC3339), 0).Err()
}

// GetDeviceLastSeen returns the last heartbeat time, or zero when the
// device has never reported.
func (r *RedisClient) GetDeviceLastSeen(ctx context.Context, installationID uint) (time.Time, error) {
	key := fmt.Sprintf("%s%d", lastSeenKeyPrefix, installationID)
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read device last seen: %w", err)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse device last seen: %w", err)
	}
	return at, nil
}

// PublishAlert sends an operator alert on the admin channel.
func (r *RedisClient) PublishAlert(ctx context.Context, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := r.client.Publish(ctx, alertChannel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (r *RedisClient) Close() error {
	r.logger.Info("Closing Redis connection")
	return r.client.Close()
}
