package intel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel-ir/internal/enrich"
)

// Cache stores screening results with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) (*enrich.ThreatMatch, error)
	Set(ctx context.Context, key string, match *enrich.ThreatMatch, ttl time.Duration) error
	Close() error
}

// RedisConfig holds Redis connection settings for the screening cache.
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
}

// DefaultRedisConfig returns default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisCache is a Redis-backed screening cache.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, prefix: "intel:screen:"}, nil
}

// Get retrieves a cached screening result.
func (c *RedisCache) Get(ctx context.Context, key string) (*enrich.ThreatMatch, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var match enrich.ThreatMatch
	if err := json.Unmarshal([]byte(val), &match); err != nil {
		return nil, fmt.Errorf("decode cached screening: %w", err)
	}
	return &match, nil
}

// Set stores a screening result with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, match *enrich.ThreatMatch, ttl time.Duration) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("encode screening: %w", err)
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
