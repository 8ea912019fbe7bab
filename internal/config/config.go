package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (source-of-truth store)
	Database DatabaseConfig

	// Redis configuration (mirror store and rate limit store)
	Redis RedisConfig

	// JWT configuration for the document relay
	JWT JWTConfig

	// Payment rail configuration
	Payment PaymentConfig

	// Outbound mail configuration
	Mail MailConfig

	// Message queue configuration
	Queue QueueConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Booking rules
	Booking BookingConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	LogFile     string // optional rotating log file
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds the mirror store connection
type RedisConfig struct {
	URL string
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret          string
	TokenExpiry     time.Duration
	SourceProjectID string // project id the relay accepts
}

// PaymentConfig holds both rails. Environment selects sandbox or live credentials.
type PaymentConfig struct {
	Environment string // "sandbox" or "live"
	Currency    string
	ReturnURL   string // where checkout redirects after payment
	RenewalURL  string // link sent to the guest after a failed payment
	Razorpay    RazorpayConfig
	Omise       OmiseConfig
}

// RazorpayConfig holds card rail credentials
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// OmiseConfig holds alternate rail credentials
type OmiseConfig struct {
	PublicKey string
	SecretKey string
}

// MailConfig holds SMTP settings
type MailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	OperatorEmail string
}

// QueueConfig holds RabbitMQ settings. Empty URL sends notifications in-process.
type QueueConfig struct {
	URL string
}

// RateLimitConfig holds per-route limits in "<limit>-<period>" form
type RateLimitConfig struct {
	Eligibility string
	Commit      string
}

// BookingConfig holds booking rule settings
type BookingConfig struct {
	HoldTTL                time.Duration
	CorrelationTTL         time.Duration
	CancellationRequireKey bool
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	paymentEnv := getEnv("PAYMENT_ENVIRONMENT", "sandbox")
	credPrefix := "TEST"
	if paymentEnv == "live" {
		credPrefix = "LIVE"
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFile:     getEnv("LOG_FILE", ""),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		JWT: JWTConfig{
			Secret:          getEnv("RELAY_JWT_SECRET", ""),
			TokenExpiry:     time.Duration(getEnvAsInt("RELAY_TOKEN_EXPIRY", 31536000)) * time.Second,
			SourceProjectID: getEnv("SOURCE_PROJECT_ID", ""),
		},
		Payment: PaymentConfig{
			Environment: paymentEnv,
			Currency:    getEnv("PAYMENT_CURRENCY", "INR"),
			ReturnURL:   getEnv("PAYMENT_RETURN_URL", ""),
			RenewalURL:  getEnv("PAYMENT_RENEWAL_URL", ""),
			Razorpay: RazorpayConfig{
				KeyID:         getEnv("RAZORPAY_"+credPrefix+"_KEY_ID", ""),
				KeySecret:     getEnv("RAZORPAY_"+credPrefix+"_KEY_SECRET", ""),
				WebhookSecret: getEnv("RAZORPAY_"+credPrefix+"_WEBHOOK_SECRET", ""),
			},
			Omise: OmiseConfig{
				PublicKey: getEnv("OMISE_"+credPrefix+"_PUBLIC_KEY", ""),
				SecretKey: getEnv("OMISE_"+credPrefix+"_SECRET_KEY", ""),
			},
		},
		Mail: MailConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          getEnvAsInt("SMTP_PORT", 587),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			From:          getEnv("FROM_EMAIL", ""),
			OperatorEmail: getEnv("OPERATOR_EMAIL", ""),
		},
		Queue: QueueConfig{
			URL: getEnv("RABBITMQ_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Eligibility: getEnv("RATE_LIMIT_ELIGIBILITY", "20-1m"),
			Commit:      getEnv("RATE_LIMIT_COMMIT", "10-1m"),
		},
		Booking: BookingConfig{
			HoldTTL:                time.Duration(getEnvAsInt("HOLD_TTL_SECONDS", 300)) * time.Second,
			CorrelationTTL:         time.Duration(getEnvAsInt("CORRELATION_TTL_SECONDS", 86400)) * time.Second,
			CancellationRequireKey: getEnvAsBool("CANCELLATION_REQUIRE_KEY", false),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("RELAY_JWT_SECRET is required")
	}

	if c.JWT.SourceProjectID == "" {
		return fmt.Errorf("SOURCE_PROJECT_ID is required")
	}

	if c.Payment.Environment != "sandbox" && c.Payment.Environment != "live" {
		return fmt.Errorf("invalid PAYMENT_ENVIRONMENT: %s (must be 'sandbox' or 'live')", c.Payment.Environment)
	}

	// Live credentials must be complete; sandbox may run with a rail disabled
	if c.Payment.Environment == "live" {
		if c.Payment.Razorpay.KeyID == "" || c.Payment.Razorpay.KeySecret == "" || c.Payment.Razorpay.WebhookSecret == "" {
			return fmt.Errorf("RAZORPAY_LIVE_KEY_ID, RAZORPAY_LIVE_KEY_SECRET and RAZORPAY_LIVE_WEBHOOK_SECRET are required in live mode")
		}
		if c.Payment.Omise.PublicKey == "" || c.Payment.Omise.SecretKey == "" {
			return fmt.Errorf("OMISE_LIVE_PUBLIC_KEY and OMISE_LIVE_SECRET_KEY are required in live mode")
		}
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL_SECONDS must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
