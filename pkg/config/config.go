package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const devJWTSecret = "dev_secret"

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	ClientURL string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	SMTP     SMTPConfig
	Lockout  LockoutConfig
	CORS     CORSConfig
	Log      LogConfig
	MFA      MFAConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig carries the token issuer settings. Secret has no production
// default: startup fails rather than falling back to a generated key that
// would invalidate every issued token on restart.
type JWTConfig struct {
	Secret             string
	Issuer             string
	Audience           string
	AccessTokenExpiry  time.Duration
	ScopedTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// LockoutConfig tunes the failed-login counter.
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// MFAConfig carries TOTP provisioning settings.
type MFAConfig struct {
	Issuer            string
	RecoveryCodeCount int
	MaxVerifyAttempts int
	VerifyWindow      time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.ClientURL = strings.TrimRight(v.GetString("CLIENT_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:             v.GetString("JWT_SECRET"),
		Issuer:             v.GetString("JWT_ISSUER"),
		Audience:           v.GetString("JWT_AUDIENCE"),
		AccessTokenExpiry:  parseDuration(v.GetString("JWT_EXPIRATION"), 5*time.Minute),
		ScopedTokenExpiry:  parseDuration(v.GetString("JWT_SCOPED_EXPIRATION"), 15*time.Minute),
		RefreshTokenExpiry: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		User:     v.GetString("SMTP_USER"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}

	cfg.Lockout = LockoutConfig{
		MaxAttempts: v.GetInt("LOCKOUT_MAX_ATTEMPTS"),
		Window:      parseDuration(v.GetString("LOCKOUT_WINDOW"), 15*time.Minute),
	}

	cfg.MFA = MFAConfig{
		Issuer:            v.GetString("MFA_ISSUER"),
		RecoveryCodeCount: v.GetInt("MFA_RECOVERY_CODE_COUNT"),
		MaxVerifyAttempts: v.GetInt("MFA_MAX_VERIFY_ATTEMPTS"),
		VerifyWindow:      parseDuration(v.GetString("MFA_VERIFY_WINDOW"), 5*time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations that would run the service in an insecure
// mode. A missing signing key is a fatal startup condition, never a runtime
// fallback.
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: JWT_SECRET must be set")
	}
	if c.Env == EnvProduction && c.JWT.Secret == devJWTSecret {
		return fmt.Errorf("config: JWT_SECRET must not use the development default in production")
	}
	if c.Lockout.MaxAttempts <= 0 {
		return fmt.Errorf("config: LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("CLIENT_URL", "http://localhost:5173")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "basecrm")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "basecrm")
	v.SetDefault("JWT_AUDIENCE", "basecrm-clients")
	v.SetDefault("JWT_EXPIRATION", "5m")
	v.SetDefault("JWT_SCOPED_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")

	v.SetDefault("LOCKOUT_MAX_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")

	v.SetDefault("MFA_ISSUER", "BaseCRM")
	v.SetDefault("MFA_RECOVERY_CODE_COUNT", 10)
	v.SetDefault("MFA_MAX_VERIFY_ATTEMPTS", 10)
	v.SetDefault("MFA_VERIFY_WINDOW", "5m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
