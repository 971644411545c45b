package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SessionMode string

const (
	// SessionModeSingle keeps one refresh token on the user record.
	SessionModeSingle SessionMode = "single"
	// SessionModePerDevice keeps one refresh token per login session in Redis.
	SessionModePerDevice SessionMode = "per-device"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	Cookie   CookieConfig
	Password PasswordConfig
	LogLevel string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigin   string
}

type DynamoDBConfig struct {
	Endpoint         string
	Region           string
	TableName        string
	RetryMaxAttempts int
}

type RedisConfig struct {
	Endpoint   string
	Password   string
	DB         int
	MaxRetries int
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

type SessionConfig struct {
	Mode         SessionMode
	StoreTimeout time.Duration
}

type CookieConfig struct {
	Secure   bool
	Domain   string
	Path     string
	SameSite http.SameSite
}

type PasswordConfig struct {
	BcryptCost int
}

// Load reads the configuration from the environment. Variables from ENV_FILE
// (default ".env") are applied first without overriding the real environment.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	sameSite, err := parseSameSite(getEnv("COOKIE_SAMESITE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			CORSOrigin:   getEnv("CORS_ORIGIN", ""),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:         getEnv("DYNAMODB_ENDPOINT", ""),
			Region:           getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName:        getEnv("DYNAMODB_TABLE_NAME", "StreamHubTable"),
			RetryMaxAttempts: getEnvAsInt("DYNAMODB_RETRY_MAX_ATTEMPTS", 2),
		},
		Redis: RedisConfig{
			Endpoint:   getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvAsInt("REDIS_DB", 0),
			MaxRetries: getEnvAsInt("REDIS_MAX_RETRIES", 1),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshSecret: getEnv("REFRESH_TOKEN_SECRET", ""),
			AccessExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 10*24*time.Hour),
			Issuer:        getEnv("JWT_ISSUER", "streamhub"),
		},
		Session: SessionConfig{
			Mode:         SessionMode(strings.ToLower(getEnv("SESSION_MODE", string(SessionModeSingle)))),
			StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
		},
		Cookie: CookieConfig{
			Secure:   getEnvAsBool("COOKIE_SECURE", true),
			Domain:   getEnv("COOKIE_DOMAIN", ""),
			Path:     getEnv("COOKIE_PATH", "/"),
			SameSite: sameSite,
		},
		Password: PasswordConfig{
			BcryptCost: getEnvAsInt("BCRYPT_COST", 10),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.AccessSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET environment variable is required")
	}
	if c.JWT.RefreshSecret == "" {
		return fmt.Errorf("REFRESH_TOKEN_SECRET environment variable is required")
	}
	if len(c.JWT.AccessSecret) < 32 || len(c.JWT.RefreshSecret) < 32 {
		return fmt.Errorf("token secrets must be at least 32 bytes (256 bits)")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	if c.JWT.AccessExpiry >= c.JWT.RefreshExpiry {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRY must be shorter than REFRESH_TOKEN_EXPIRY")
	}

	switch c.Session.Mode {
	case SessionModeSingle, SessionModePerDevice:
	default:
		return fmt.Errorf("SESSION_MODE must be %q or %q, got %q", SessionModeSingle, SessionModePerDevice, c.Session.Mode)
	}

	if c.Session.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	return nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "":
		return 0, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("COOKIE_SAMESITE must be one of lax, strict, none, got %q", v)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
