package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds infrastructure configuration loaded from the environment.
// Security policy knobs (lockout thresholds, session timeouts, password
// rules) are NOT here: those are named settings read from the database
// through the settings provider so they can change without a restart.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	// CIDR ranges of proxies whose X-Forwarded-For is trusted
	TrustedProxies []string
}

type AuthConfig struct {
	// PendingTokenSecret signs the short-lived JWTs that carry a login
	// across the 2FA / forced-password-change hand-off.
	PendingTokenSecret string
	PendingTokenExpiry time.Duration
	// TOTPEncryptionKey is the 32-byte AES-256 key for TOTP secrets at rest,
	// hex encoded in the environment.
	TOTPEncryptionKey []byte
	TOTPIssuer        string
	SweepInterval     time.Duration
	TimingDelayBaseMs int
	TimingDelayRandMs int
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

type RedisConfig struct {
	// Addr empty means the in-process email challenge store is used.
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	pendingSecret := getEnv("PENDING_TOKEN_SECRET", "")
	if pendingSecret == "" {
		return nil, fmt.Errorf("PENDING_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")
	if err := validateSecret(pendingSecret, env); err != nil {
		return nil, err
	}

	totpKey, err := parseTOTPKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authcore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: parseCSV(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			PendingTokenSecret: pendingSecret,
			PendingTokenExpiry: getEnvAsDuration("PENDING_TOKEN_EXPIRY", 5*time.Minute),
			TOTPEncryptionKey:  totpKey,
			TOTPIssuer:         getEnv("TOTP_ISSUER", "authcore"),
			SweepInterval:      getEnvAsDuration("SWEEP_INTERVAL", 60*time.Second),
			TimingDelayBaseMs:  getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for the pending-token signing secret
func validateSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("PENDING_TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("PENDING_TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func parseTOTPKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
