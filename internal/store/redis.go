package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"safety-companion/analytics/internal/config"
	"safety-companion/analytics/internal/geo"
)

// RedisStore wraps the Redis client used for stream consumption and the
// live session-state mirror read by the serving collaborator.
type RedisStore struct {
	client    *redis.Client
	mirrorTTL time.Duration
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, mirrorTTL: cfg.MirrorTTL}, nil
}

// NewClient builds a raw client from config. The outbound publisher dials
// its own connection with this so a publish-side reconnect never disturbs
// the consumer.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// EnsureGroup creates the consumer group (and the stream, if missing).
// An already-existing group is not an error.
func (r *RedisStore) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup reads stream entries for one consumer. With id ">" it blocks
// for up to block waiting for never-delivered entries; with a concrete id
// (the "0" replay case) it returns the consumer's own pending entries
// after that id immediately. An empty slice with nil error means there was
// nothing to read.
func (r *RedisStore) ReadGroup(ctx context.Context, stream, group, consumer, id string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res[0].Messages, nil
}

func (r *RedisStore) Ack(ctx context.Context, stream, group, id string) error {
	return r.client.XAck(ctx, stream, group, id).Err()
}

// MirrorSessionState writes the live snapshot the serving side polls:
// a hash with the latest position plus a geo set of last positions,
// both refreshed on every location update.
func (r *RedisStore) MirrorSessionState(ctx context.Context, sessionID, userID string, pos geo.Point, at time.Time) error {
	stateKey := fmt.Sprintf("walk:%s:state", sessionID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, map[string]interface{}{
		"walking_session_id": sessionID,
		"user_id":            userID,
		"lon":                pos.Lon,
		"lat":                pos.Lat,
		"updated_at":         at.UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, stateKey, r.mirrorTTL)
	pipe.GeoAdd(ctx, "walks:last_positions", &redis.GeoLocation{
		Name:      sessionID,
		Longitude: pos.Lon,
		Latitude:  pos.Lat,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror pipeline failed: %w", err)
	}
	return nil
}
