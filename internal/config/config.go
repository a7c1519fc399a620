package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Session  SessionConfig
	Email    EmailConfig
	MFA      MFAConfig
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
	AutoMigrate       bool
}

type ServerConfig struct {
	Port         string
	Env          string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CIDR ranges whose X-Forwarded-For is trusted for client IPs
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret         string
	TokenCookieName   string
	LoginURL          string
	AccessTokenExpiry time.Duration
}

// RedisConfig selects the session backend. An empty URL keeps sessions in memory.
type RedisConfig struct {
	URL string
}

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

type EmailConfig struct {
	Driver         string // "ses" or "log"
	AWSRegion      string
	FromAddress    string
	MaxRetries     uint64
	RetryBaseDelay time.Duration
}

// MFAConfig drives the policy engine, trust windows and OTP lifetimes
type MFAConfig struct {
	LoginEnabled      bool
	LoginRoles        []string // Empty = every role
	LoginTrustWindow  time.Duration
	ActionTrustWindow time.Duration
	LoginCodeTTL      time.Duration
	ActionCodeTTL     time.Duration
	CodePepper        string
	// Verify responses are padded to VerifyBaseDelay plus up to VerifyJitter
	VerifyBaseDelay time.Duration
	VerifyJitter    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "dealerdesk"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			TokenCookieName:   getEnv("AUTH_TOKEN_COOKIE", "access_token"),
			LoginURL:          getEnv("LOGIN_URL", "/login"),
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 12*time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Session: SessionConfig{
			CookieName: getEnv("SESSION_COOKIE", "dealerdesk_session"),
			TTL:        getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			Secure:     env == "production",
		},
		Email: EmailConfig{
			Driver:         getEnv("MAIL_DRIVER", "log"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress:    getEnv("MAIL_FROM_ADDRESS", "no-reply@dealerdesk.local"),
			MaxRetries:     uint64(getEnvAsInt("MAIL_MAX_RETRIES", 3)),
			RetryBaseDelay: getEnvAsDuration("MAIL_RETRY_BASE_DELAY", 200*time.Millisecond),
		},
		MFA: MFAConfig{
			LoginEnabled:      getEnvAsBool("MFA_LOGIN_ENABLED", true),
			LoginRoles:        getEnvAsList("MFA_LOGIN_ROLES"),
			LoginTrustWindow:  time.Duration(getEnvAsInt("MFA_LOGIN_WINDOW_MINUTES", 1440)) * time.Minute,
			ActionTrustWindow: time.Duration(getEnvAsInt("MFA_ACTION_WINDOW_MINUTES", 30)) * time.Minute,
			LoginCodeTTL:      getEnvAsDuration("MFA_LOGIN_CODE_TTL", 10*time.Minute),
			ActionCodeTTL:     getEnvAsDuration("MFA_ACTION_CODE_TTL", 10*time.Minute),
			CodePepper:        getEnv("MFA_CODE_PEPPER", jwtSecret),
			VerifyBaseDelay:   getEnvAsDuration("MFA_VERIFY_BASE_DELAY", 250*time.Millisecond),
			VerifyJitter:      getEnvAsDuration("MFA_VERIFY_JITTER", 100*time.Millisecond),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.MFA.validate(); err != nil {
		return nil, err
	}

	if cfg.Email.Driver != "ses" && cfg.Email.Driver != "log" {
		return nil, fmt.Errorf("MAIL_DRIVER must be \"ses\" or \"log\" (got %q)", cfg.Email.Driver)
	}

	return cfg, nil
}

// validate rejects windows and lifetimes that would make the gate unusable
func (m *MFAConfig) validate() error {
	if m.LoginTrustWindow <= 0 {
		return fmt.Errorf("MFA_LOGIN_WINDOW_MINUTES must be positive")
	}
	if m.ActionTrustWindow <= 0 {
		return fmt.Errorf("MFA_ACTION_WINDOW_MINUTES must be positive")
	}
	for name, ttl := range map[string]time.Duration{
		"MFA_LOGIN_CODE_TTL":  m.LoginCodeTTL,
		"MFA_ACTION_CODE_TTL": m.ActionCodeTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if len(m.CodePepper) < 16 {
		return fmt.Errorf("MFA_CODE_PEPPER must be at least 16 characters")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return []string{}
	}

	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
