// Package config reads process configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fjod/go_shop/internal/domain"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
	CallbackRateLimit  float64
	LogLevel           string
	Store              string

	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string

	RedisAddr     string
	RedisPassword string
	PollThrottle  time.Duration

	MongoURI    string
	MongoDBName string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string

	MpesaBaseURL         string
	MpesaConsumerKey     string
	MpesaConsumerSecret  string
	MpesaShortCode       string
	MpesaPassKey         string
	MpesaCallbackBaseURL string
	MpesaTimeout         time.Duration
	MpesaPollTimeout     time.Duration

	ZeptoAPIURL string
	ZeptoAPIKey string
	EmailFrom   string

	Currency string
}

// Load reads .env when present and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB
		CallbackRateLimit:  getEnvFloat("CALLBACK_RATE_LIMIT", 20),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Store:              getEnv("STORE", "postgres"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "shop"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "internal/repository/migrations"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		PollThrottle:  getEnvDuration("POLL_THROTTLE", 5*time.Second),

		MongoURI:    getEnv("MONGO_URI", ""),
		MongoDBName: getEnv("MONGO_DB_NAME", "shop"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "shop-events"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		MpesaBaseURL:         getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:     getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret:  getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaShortCode:       getEnv("MPESA_SHORTCODE", ""),
		MpesaPassKey:         getEnv("MPESA_PASSKEY", ""),
		MpesaCallbackBaseURL: getEnv("MPESA_CALLBACK_BASE_URL", ""),
		MpesaTimeout:         getEnvDuration("MPESA_TIMEOUT", 30*time.Second),
		MpesaPollTimeout:     getEnvDuration("MPESA_POLL_TIMEOUT", 10*time.Second),

		ZeptoAPIURL: getEnv("ZEPTO_API_URL", ""),
		ZeptoAPIKey: getEnv("ZEPTO_API_KEY", ""),
		EmailFrom:   getEnv("EMAIL_FROM", ""),

		Currency: getEnv("CURRENCY", domain.DefaultCurrency),
	}
}

// Validate checks what the HTTP server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	for key, v := range map[string]string{
		"MPESA_CONSUMER_KEY":      c.MpesaConsumerKey,
		"MPESA_CONSUMER_SECRET":   c.MpesaConsumerSecret,
		"MPESA_SHORTCODE":         c.MpesaShortCode,
		"MPESA_PASSKEY":           c.MpesaPassKey,
		"MPESA_CALLBACK_BASE_URL": c.MpesaCallbackBaseURL,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.Store != "postgres" && c.Store != "memory" {
		errs = append(errs, fmt.Errorf("STORE must be postgres or memory, got %q", c.Store))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// EmailEnabled reports whether ZeptoMail is configured.
func (c *Config) EmailEnabled() bool {
	return c.ZeptoAPIURL != "" && c.ZeptoAPIKey != "" && c.EmailFrom != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
