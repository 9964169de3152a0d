// Package config collects the environment-derived settings shared by the
// server, auditor and seed commands. Callers load .env files themselves
// (via godotenv/autoload) before calling Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the services read from the environment.
type Config struct {
	ListenAddr string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string

	RedisAddr string
	RedisDB   int

	// ContentPackPath points at a YAML content pack; empty selects the
	// embedded default pack.
	ContentPackPath string

	// TokenExpire is how long issued JWTs stay valid; zero means no expiry.
	TokenExpire time.Duration

	// AuthPrivateKeyFile and AuthPublicKeyFile hold raw ed25519 key bytes
	// shared by the server and the seed tool so tokens survive restarts.
	// Empty means a fresh in-process key pair.
	AuthPrivateKeyFile string
	AuthPublicKeyFile  string

	AuditQueueName string

	// AuditBatchSize and AuditFlushInterval pace the auditor's writes.
	AuditBatchSize     int
	AuditFlushInterval time.Duration

	// PingInterval and LivenessWindow drive the display heartbeat.
	PingInterval   time.Duration
	LivenessWindow time.Duration

	LogLevel string
}

// Load reads the environment and applies defaults. It fails only on values
// that parse but make no sense, never on absent ones.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresHost:     getEnv("PG_HOST", "localhost"),
		PostgresPort:     getEnv("PG_PORT", "5432"),
		PostgresDatabase: getEnv("PG_DATABASE", "boardroom"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		ContentPackPath:  getEnv("CONTENT_PACK_PATH", ""),
		AuditQueueName:   getEnv("AUDIT_QUEUE_NAME", "boardroom_audit"),
		AuditBatchSize:   getEnvInt("AUDIT_BATCH_SIZE", 50),
		LogLevel:         getEnv("LOG_LEVEL", "info"),

		AuthPrivateKeyFile: getEnv("AUTH_PRIVATE_KEY_FILE", ""),
		AuthPublicKeyFile:  getEnv("AUTH_PUBLIC_KEY_FILE", ""),
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}

	var err error
	if cfg.TokenExpire, err = getEnvDuration("TOKEN_EXPIRE_TIME", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AuditFlushInterval, err = getEnvDuration("AUDIT_FLUSH_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = getEnvDuration("PING_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.LivenessWindow, err = getEnvDuration("LIVENESS_WINDOW", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.LivenessWindow < cfg.PingInterval {
		return nil, fmt.Errorf("LIVENESS_WINDOW (%s) must be at least PING_INTERVAL (%s)", cfg.LivenessWindow, cfg.PingInterval)
	}
	if cfg.AuditFlushInterval <= 0 {
		return nil, fmt.Errorf("AUDIT_FLUSH_INTERVAL must be positive")
	}
	if cfg.AuditBatchSize <= 0 {
		return nil, fmt.Errorf("AUDIT_BATCH_SIZE must be positive")
	}
	if (cfg.AuthPrivateKeyFile == "") != (cfg.AuthPublicKeyFile == "") {
		return nil, fmt.Errorf("AUTH_PRIVATE_KEY_FILE and AUTH_PUBLIC_KEY_FILE must be set together")
	}
	return cfg, nil
}

// PostgresURL assembles the pgx connection string.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDatabase)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	if s == "never" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
