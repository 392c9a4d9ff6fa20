package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token store backends
const (
	TokenStoreMemory   = "memory"
	TokenStoreFile     = "file"
	TokenStoreRedis    = "redis"
	TokenStorePostgres = "postgres"
	TokenStoreDynamo   = "dynamodb"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	APIBaseURL     string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int

	Debounce        time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
	RefreshLead     time.Duration

	TokenStore     string
	TokenStorePath string
	TokenStoreKey  string
	RedisAddr      string
	RedisPassword  string
	DatabaseURL    string
	DynamoTable    string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	LogLevel string
	Env      string
}

// Load reads an optional .env file and then the process environment
func Load() *Config {
	// A missing .env is fine, variables can be set by other means
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:      strings.TrimRight(getEnv("STOREFRONT_API_URL", "http://localhost:8080"), "/"),
		RequestTimeout:  getEnvDuration("STOREFRONT_REQUEST_TIMEOUT", 15*time.Second),
		RateLimit:       getEnvFloat("STOREFRONT_RATE_LIMIT", 20),
		RateBurst:       getEnvInt("STOREFRONT_RATE_BURST", 20),
		Debounce:        getEnvDuration("STOREFRONT_DEBOUNCE", 500*time.Millisecond),
		CacheTTL:        getEnvDuration("STOREFRONT_CACHE_TTL", 5*time.Minute),
		CacheMaxEntries: getEnvInt("STOREFRONT_CACHE_MAX_ENTRIES", 0),
		RefreshLead:     getEnvDuration("STOREFRONT_REFRESH_LEAD", time.Minute),
		TokenStore:      strings.ToLower(getEnv("TOKEN_STORE", TokenStoreFile)),
		TokenStorePath:  getEnv("TOKEN_STORE_PATH", defaultTokenPath()),
		TokenStoreKey:   getEnv("TOKEN_STORE_KEY", "default"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASS"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DynamoTable:     getEnv("DYNAMODB_TABLE", "storefront_credentials"),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "ec-events"),
		KafkaGroup:      getEnv("KAFKA_GROUP", "storefront-cache"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		Env:             getEnv("APP_ENV", "production"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

// Validate rejects combinations the client cannot run with
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("%w: STOREFRONT_API_URL is required", ErrInvalidConfig)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: STOREFRONT_REQUEST_TIMEOUT must be positive", ErrInvalidConfig)
	}
	switch c.TokenStore {
	case TokenStoreMemory, TokenStoreDynamo:
	case TokenStoreFile:
		if c.TokenStorePath == "" {
			return fmt.Errorf("%w: TOKEN_STORE_PATH is required for the file token store", ErrInvalidConfig)
		}
	case TokenStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for the redis token store", ErrInvalidConfig)
		}
	case TokenStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres token store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown TOKEN_STORE %q", ErrInvalidConfig, c.TokenStore)
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".optical-storefront"
	}
	return filepath.Join(home, ".optical-storefront")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
