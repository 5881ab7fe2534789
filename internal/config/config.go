package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Host             string
	Port             string
	LogLevel         string
	StoreBackend     string
	ArchiveBackend   string
	CountdownSeconds int
	CountdownTick    time.Duration
	TeardownDelay    time.Duration
	HandoffDir       string
	TrackID          string
	Laps             int
	Redis            RedisConfig
	Cassandra        CassandraConfig
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Namespace    string
	HeartbeatTTL time.Duration
	ReapInterval time.Duration
}

// CassandraConfig holds Cassandra-specific configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	host := getEnv("HOST", "0.0.0.0")
	port := getEnv("PORT", "8080")
	logLevel := getEnv("LOG_LEVEL", "info")

	storeBackend := getEnv("STORE_BACKEND", "memory")
	if storeBackend != "memory" && storeBackend != "redis" {
		return nil, fmt.Errorf("invalid STORE_BACKEND value: %s", storeBackend)
	}
	archiveBackend := getEnv("ARCHIVE_BACKEND", "memory")
	if archiveBackend != "memory" && archiveBackend != "cassandra" {
		return nil, fmt.Errorf("invalid ARCHIVE_BACKEND value: %s", archiveBackend)
	}

	countdownSeconds, err := getEnvInt("COUNTDOWN_SECONDS", 3)
	if err != nil {
		return nil, err
	}
	teardownSeconds, err := getEnvInt("TEARDOWN_DELAY_SECONDS", 2)
	if err != nil {
		return nil, err
	}
	laps, err := getEnvInt("RACE_LAPS", 3)
	if err != nil {
		return nil, err
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	heartbeatSeconds, err := getEnvInt("REDIS_HEARTBEAT_TTL_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	reapSeconds, err := getEnvInt("REDIS_REAP_INTERVAL_SECONDS", 5)
	if err != nil {
		return nil, err
	}

	cassandraTimeout, err := getEnvInt("CASSANDRA_TIMEOUT_SECONDS", 5)
	if err != nil {
		return nil, err
	}

	return &Config{
		Host:             host,
		Port:             port,
		LogLevel:         logLevel,
		StoreBackend:     storeBackend,
		ArchiveBackend:   archiveBackend,
		CountdownSeconds: countdownSeconds,
		CountdownTick:    time.Second,
		TeardownDelay:    time.Duration(teardownSeconds) * time.Second,
		HandoffDir:       getEnv("HANDOFF_DIR", ""),
		TrackID:          getEnv("RACE_TRACK_ID", "neon_city_1"),
		Laps:             laps,
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           redisDB,
			Namespace:    getEnv("REDIS_NAMESPACE", "racing"),
			HeartbeatTTL: time.Duration(heartbeatSeconds) * time.Second,
			ReapInterval: time.Duration(reapSeconds) * time.Second,
		},
		Cassandra: CassandraConfig{
			Hosts:       parseHosts(getEnv("CASSANDRA_HOSTS", "localhost:9042")),
			Keyspace:    getEnv("CASSANDRA_KEYSPACE", "racing"),
			Username:    getEnv("CASSANDRA_USERNAME", ""),
			Password:    getEnv("CASSANDRA_PASSWORD", ""),
			Consistency: getEnv("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     time.Duration(cassandraTimeout) * time.Second,
		},
	}, nil
}

// Address returns the full address (host:port)
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

// parseHosts parses a comma-separated list of hosts
func parseHosts(hostsStr string) []string {
	if hostsStr == "" {
		return []string{"localhost:9042"}
	}
	parts := strings.Split(hostsStr, ",")
	hosts := make([]string, 0, len(parts))
	for _, part := range parts {
		host := strings.TrimSpace(part)
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return []string{"localhost:9042"}
	}
	return hosts
}
