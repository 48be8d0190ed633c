package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	LogLevel    string
	Port        uint16
	DatabaseUrl string // empty selects the in-memory store
	BaseURL     string
	Currency    string
	Reservation ReservationConfig
	Checkout    CheckoutConfig
	Stripe      StripeConfig
	Auth        AuthConfig
	Redis       RedisConfig
	NATS        NATSConfig
	Email       EmailConfig
	Sentry      SentryConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
}

// ReservationConfig controls how long cart holds last and how often expired
// holds are swept back into available stock.
type ReservationConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// CheckoutConfig holds pricing inputs and the abandonment schedule.
type CheckoutConfig struct {
	// PaymentWindow is how long a locked checkout may be paid for.
	PaymentWindow   time.Duration
	AbandonInterval time.Duration

	// TaxProvider is no_tax, percentage or stripe_tax. Empty infers from
	// TaxRate.
	TaxProvider string

	// TaxRate is a decimal fraction, e.g. "0.0825". Empty means no tax.
	TaxRate string

	// ShippingRates overrides the default flat rates.
	// Format: "code:Service Name:cents:minDays:maxDays,..."
	ShippingRates     string
	FreeShippingCents int64
	UnitWeightGrams   int32
}

type StripeConfig struct {
	SecretKey     string // empty selects the mock payment provider
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// AuthConfig holds the bearer token secret and guest cookie scope.
type AuthConfig struct {
	JWTSecret    string
	CookieDomain string
	SecureCookie bool
}

type RedisConfig struct {
	URL      string // empty keeps webhook dedup in process
	DedupTTL time.Duration
}

type NATSConfig struct {
	URL           string // empty disables event publication
	SubjectPrefix string
}

// EmailConfig selects the receipt sender: Postmark when a token is set,
// SMTP when a host is set, otherwise receipts are only logged.
type EmailConfig struct {
	Host          string
	Port          uint16
	Username      string
	Password      string
	From          string
	FromName      string
	PostmarkToken string
}

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	DSN              string
	Enabled          bool
	Environment      string
	Release          string
	SampleRate       float64
	TracesSampleRate float64
	Debug            bool
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type CORSConfig struct {
	AllowedOrigins []string
}

const devJWTSecret = "dev-secret-change-in-production"

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	baseURL := strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/")

	cfg := &Config{
		Env:         getEnv("ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnvInt("PORT", 3000),
		DatabaseUrl: getEnv("DATABASE_URL", ""),
		BaseURL:     baseURL,
		Currency:    strings.ToLower(getEnv("CURRENCY", "usd")),
		Reservation: ReservationConfig{
			TTL:           getEnvDuration("RESERVATION_TTL", 15*time.Minute),
			SweepInterval: getEnvDuration("RESERVATION_SWEEP_INTERVAL", time.Minute),
		},
		Checkout: CheckoutConfig{
			PaymentWindow:     getEnvDuration("CHECKOUT_PAYMENT_WINDOW", 30*time.Minute),
			AbandonInterval:   getEnvDuration("CHECKOUT_ABANDON_INTERVAL", time.Minute),
			TaxProvider:       getEnv("TAX_PROVIDER", ""),
			TaxRate:           getEnv("TAX_RATE", ""),
			ShippingRates:     getEnv("SHIPPING_RATES", ""),
			FreeShippingCents: getEnvInt64("FREE_SHIPPING_CENTS", 0),
			UnitWeightGrams:   int32(getEnvInt64("UNIT_WEIGHT_GRAMS", 340)),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("STRIPE_SUCCESS_URL", baseURL+"/checkout/return?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", baseURL+"/cart"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", devJWTSecret),
			CookieDomain: getEnv("COOKIE_DOMAIN", ""),
			SecureCookie: getEnvBool("COOKIE_SECURE", strings.HasPrefix(baseURL, "https://")),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			DedupTTL: getEnvDuration("WEBHOOK_DEDUP_TTL", 72*time.Hour),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "kaupa"),
		},
		Email: EmailConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          getEnvInt("SMTP_PORT", 1025),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			From:          getEnv("SMTP_FROM", "orders@kaupa.local"),
			FromName:      getEnv("EMAIL_FROM_NAME", ""),
			PostmarkToken: getEnv("POSTMARK_API_TOKEN", ""),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			Enabled:          getEnvBool("SENTRY_ENABLED", false), // Disabled by default for development
			Environment:      getEnv("SENTRY_ENVIRONMENT", "development"),
			Release:          getEnv("SENTRY_RELEASE", ""),
			SampleRate:       getEnvFloat("SENTRY_SAMPLE_RATE", 1.0),
			TracesSampleRate: getEnvFloat("SENTRY_TRACES_SAMPLE_RATE", 0.0),
			Debug:            getEnvBool("SENTRY_DEBUG", false),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
			Burst: int(getEnvInt64("RATE_LIMIT_BURST", 20)),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		},
	}

	// Validate env
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	// Validate log level
	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if cfg.Env == "prod" {
		if cfg.Auth.JWTSecret == devJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be set in production environment")
		}
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set in production environment")
		}
		if cfg.Stripe.SecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY must be set in production environment")
		}
	}
	if cfg.Stripe.SecretKey != "" && cfg.Stripe.WebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if cfg.Reservation.TTL <= 0 {
		return nil, fmt.Errorf("RESERVATION_TTL must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%f", &floatValue); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "15m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Default().Warn("Invalid duration. Using default", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
