// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds connection settings for the Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds consumer group settings for the change-event stream.
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// Config captures everything the server needs at startup.
type Config struct {
	Addr              string
	PostgresURL       string
	Redis             RedisConfig
	Kafka             KafkaConfig
	BatchLimit        int
	TenantParallelism int
	JWTSigningKey     string
	AdminKeyHash      string
	RateLimit         int
	RateLimitWindow   time.Duration
	EventMarkerTTL    time.Duration
	ShutdownTimeout   time.Duration
}

// FromEnv reads configuration from the environment, applying development
// defaults where a value is absent.
func FromEnv() Config {
	return Config{
		Addr:              envOr("LATTICE_ADDR", ":8080"),
		PostgresURL:       os.Getenv("LATTICE_POSTGRES_URL"),
		Redis:             redisFromEnv(),
		Kafka:             kafkaFromEnv(),
		BatchLimit:        envInt("LATTICE_BATCH_LIMIT", 500),
		TenantParallelism: envInt("LATTICE_TENANT_PARALLELISM", 4),
		JWTSigningKey:     envOr("LATTICE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AdminKeyHash:      os.Getenv("LATTICE_ADMIN_KEY_HASH"),
		RateLimit:         envInt("LATTICE_RATE_LIMIT", 30),
		RateLimitWindow:   envDuration("LATTICE_RATE_LIMIT_WINDOW", time.Minute),
		EventMarkerTTL:    envDuration("LATTICE_EVENT_MARKER_TTL", 24*time.Hour),
		ShutdownTimeout:   envDuration("LATTICE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func redisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("LATTICE_REDIS_URL"),
		PoolSize:     envInt("LATTICE_REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("LATTICE_REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("LATTICE_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("LATTICE_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("LATTICE_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func kafkaFromEnv() KafkaConfig {
	brokers := os.Getenv("LATTICE_KAFKA_BROKERS")
	cfg := KafkaConfig{
		GroupID: envOr("LATTICE_KAFKA_GROUP_ID", "lattice-reconcile"),
		Topic:   envOr("LATTICE_KAFKA_TOPIC", "location-events"),
	}
	if brokers != "" {
		cfg.Brokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
