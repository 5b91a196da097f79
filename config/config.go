package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrPaymentProviderConfig is returned by Validate when no payment provider is usable.
var ErrPaymentProviderConfig = errors.New("payment provider configuration missing")

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Support  SupportConfig
	Checkout CheckoutConfig
	Playback PlaybackConfig
}

// StripeConfig for card payments.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

// Enabled reports whether Stripe credentials are present.
func (c StripeConfig) Enabled() bool { return c.SecretKey != "" }

// PayPalConfig for PayPal orders (always settled in EUR).
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
}

// Enabled reports whether PayPal credentials are present.
func (c PayPalConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

// SupportConfig is the contact shown next to fatal and payment errors.
type SupportConfig struct {
	Email string
	Phone string
}

// CheckoutConfig holds checkout flow settings.
type CheckoutConfig struct {
	CountdownMinutes int
	SessionTTL       time.Duration
	CookieDomain     string
	CookieSecure     bool
	SuccessURL       string // e.g. https://example.com/success
	DefaultRegion    string
}

// PlaybackConfig holds simulated webinar timing settings.
type PlaybackConfig struct {
	HeartbeatInterval   time.Duration
	CommitInterval      time.Duration
	ParticipantInterval time.Duration
	GraceDelay          time.Duration
	RegisterURL         string // redirect for unregistered viewers
	WatchURL            string // watch page; registrations append ?session_id=
	ComeBackURL         string // redirect for viewers arriving before their start
	HomeURL             string // offered next to fatal errors
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/funnel?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the auth provider's token signing secret (HS256).
type JWTConfig struct {
	Secret string
}

// AWSConfig holds AWS credentials and the product delivery bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ProductsBucket       string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "funnel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("AUTH_JWT_SECRET", "change-me-in-production"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "eu-central-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ProductsBucket:       getEnv("AWS_S3_PRODUCTS_BUCKET", "funnel-products"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		PayPal: PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			Sandbox:      getEnvBool("PAYPAL_SANDBOX", true),
		},
		Support: SupportConfig{
			Email: getEnv("SUPPORT_EMAIL", "support@example.com"),
			Phone: getEnv("SUPPORT_PHONE", ""),
		},
		Checkout: CheckoutConfig{
			CountdownMinutes: getEnvInt("CHECKOUT_COUNTDOWN_MINUTES", 15),
			SessionTTL:       time.Duration(getEnvInt("CHECKOUT_SESSION_TTL_MIN", 120)) * time.Minute,
			CookieDomain:     getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:     getEnvBool("COOKIE_SECURE", true),
			SuccessURL:       getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/success"),
			DefaultRegion:    getEnv("DEFAULT_REGION", "cz"),
		},
		Playback: PlaybackConfig{
			HeartbeatInterval:   time.Duration(getEnvInt("PLAYBACK_HEARTBEAT_SEC", 20)) * time.Second,
			CommitInterval:      time.Duration(getEnvInt("PLAYBACK_COMMIT_MS", 1000)) * time.Millisecond,
			ParticipantInterval: time.Duration(getEnvInt("PLAYBACK_PARTICIPANT_SEC", 10)) * time.Second,
			GraceDelay:          time.Duration(getEnvInt("PLAYBACK_GRACE_MS", 1000)) * time.Millisecond,
			RegisterURL:         getEnv("WEBINAR_REGISTER_URL", "/webinar/register"),
			WatchURL:            getEnv("WEBINAR_WATCH_URL", "/webinar/watch"),
			ComeBackURL:         getEnv("WEBINAR_COME_BACK_URL", "/webinar/thank-you"),
			HomeURL:             getEnv("WEBINAR_HOME_URL", "/"),
		},
	}
	return cfg, nil
}

// Validate checks settings that make the service unusable when missing.
func (c *Config) Validate() error {
	if !c.Stripe.Enabled() && !c.PayPal.Enabled() {
		return ErrPaymentProviderConfig
	}
	if c.Checkout.CountdownMinutes <= 0 {
		return fmt.Errorf("checkout countdown must be positive, got %d", c.Checkout.CountdownMinutes)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
