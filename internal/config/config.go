package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Runtime
	Env string

	// Backend API
	APIBaseURL string
	APITimeout time.Duration
	LoginURL   string

	// Checkout widget
	CheckoutScriptURL  string
	CheckoutThemeColor string
	MerchantName       string
	Currency           string

	// Credential storage
	SessionStore     string // memory or redis
	RedisURL         string
	SessionKeyPrefix string

	// Sandbox backend
	Port           string
	DatabaseURL    string
	JWTSecret      string
	JWTAccessTTL   time.Duration
	AllowedOrigins []string
	IdempotencyTTL time.Duration
	RateLimit      int // booking creations per window, 0 disables
	RateWindow     time.Duration

	// Payment gateway credentials
	GatewayKeyID     string
	GatewayKeySecret string

	// Logging
	LogLevel string
	LogFile  string
}

func Load() *Config {
	// Load .env file in development
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Env: getEnv("ENV", "development"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		APITimeout: parseDuration(getEnv("API_TIMEOUT", "15s"), 15*time.Second),
		LoginURL:   getEnv("LOGIN_URL", "/login"),

		CheckoutScriptURL:  getEnv("CHECKOUT_SCRIPT_URL", "https://checkout.razorpay.com/v1/checkout.js"),
		CheckoutThemeColor: getEnv("CHECKOUT_THEME_COLOR", "#3399cc"),
		MerchantName:       getEnv("MERCHANT_NAME", "StayHub"),
		Currency:           getEnv("CURRENCY", "INR"),

		SessionStore:     getEnv("SESSION_STORE", "memory"),
		RedisURL:         getEnv("REDIS_URL", ""),
		SessionKeyPrefix: getEnv("SESSION_KEY_PREFIX", "stayhub:session:"),

		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", "super-secret-key-change-me"),
		JWTAccessTTL:   parseDuration(getEnv("JWT_ACCESS_TTL", "15m"), 15*time.Minute),
		AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		IdempotencyTTL: parseDuration(getEnv("IDEMPOTENCY_TTL", "24h"), 24*time.Hour),
		RateLimit:      parseInt(getEnv("BOOKING_RATE_LIMIT", "10"), 10),
		RateWindow:     parseDuration(getEnv("BOOKING_RATE_WINDOW", "1m"), time.Minute),

		GatewayKeyID:     getEnv("GATEWAY_KEY_ID", "rzp_test_sandbox"),
		GatewayKeySecret: getEnv("GATEWAY_KEY_SECRET", "sandbox-secret"),

		LogLevel: getEnv("LOG_LEVEL", "debug"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseBool(s string, defaultValue bool) bool {
	value, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseInt(s string, defaultValue int) int {
	value, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if start < i {
				result = append(result, s[start:i])
			}
			start = i + 1
		}
	}
	return result
}

// UseRedisSessions reports whether credentials should live in Redis.
func (c *Config) UseRedisSessions() bool {
	return c.SessionStore == "redis" && c.RedisURL != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsTestMode reports whether gateway keys are sandbox keys.
func (c *Config) IsTestMode() bool {
	return !c.IsProduction() || parseBool(getEnv("GATEWAY_TEST_MODE", "false"), false)
}

// MaxAPIRetries bounds client-side retries of transient failures.
func (c *Config) MaxAPIRetries() int {
	return parseInt(getEnv("API_MAX_RETRIES", "2"), 2)
}
