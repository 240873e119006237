package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port int

	// Token signing. The secret has no fallback on purpose: a hard-coded
	// default reachable in production is a deployment hazard, so an empty
	// value fails Validate instead of being papered over at runtime.
	JWTSecret   string
	JWTTTLHours int

	// Credentialed browser requests need an explicit origin allow-list;
	// a wildcard is rejected by browsers when credentials are included.
	CORSAllowedOrigins []string

	// Optional seeded admin account.
	AdminEmail    string
	AdminPassword string
	AdminName     string

	// Optional logout denylist: "none" (default), "memory" or "redis".
	RevocationBackend string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	// Empty disables tracing.
	OTLPEndpoint string
}

func Load() Config {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		Port:               getEnvInt("PORT", 8080),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTTTLHours:        getEnvInt("JWT_TTL_HOURS", 24),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		AdminEmail:         getEnv("ADMIN_EMAIL", ""),
		AdminPassword:      getEnv("ADMIN_PASSWORD", ""),
		AdminName:          getEnv("ADMIN_NAME", "Administrator"),
		RevocationBackend:  getEnv("REVOCATION_BACKEND", "none"),
		RedisAddr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	if c.JWTTTLHours <= 0 {
		return errors.New("JWT_TTL_HOURS must be positive")
	}

	switch c.RevocationBackend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown REVOCATION_BACKEND %q", c.RevocationBackend)
	}

	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			return errors.New("CORS_ALLOWED_ORIGINS must list explicit origins, not *")
		}
	}

	return nil
}

// TokenTTL is the shared lifetime of the session token and its cookie.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			return fallback
		}

		return num
	}
	return fallback
}
