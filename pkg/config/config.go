// Copyright 2025 Certen Protocol

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level configuration for the Nooterra engine: how it
// listens, which store backend it binds to, and the ambient security/audit
// toggles that don't belong in the nested policy YAML (see policy_config.go's
// PolicyConfig for those).
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Store backend selection: "memory", "postgres", or "embedded".
	StoreBackend string

	// Postgres store configuration (used when StoreBackend == "postgres")
	PostgresURL             string
	PostgresMaxOpenConns    int
	PostgresMaxIdleConns    int
	PostgresConnMaxIdleTime time.Duration
	PostgresConnMaxLifetime time.Duration

	// Embedded store configuration (used when StoreBackend == "embedded")
	EmbeddedDataDir string

	// Signing Configuration
	SignerKeyRegistryPath string // path to the Ed25519 key registry file

	// Idempotency Configuration
	IdempotencyTTL time.Duration

	// Service Configuration
	EngineID string
	LogLevel string

	// Security Configuration
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	// Rate Limiting
	RateLimitRequests int
	RateLimitWindow   int

	// Compliance audit mirror (pkg/audittrail)
	AuditMirrorEnabled     bool
	AuditFirebaseProjectID string
	AuditCredentialsFile   string
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables have no defaults and must be explicitly set.
// Call Validate() after Load() to ensure all required configuration is
// present before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),

		PostgresURL:             getEnv("POSTGRES_URL", ""),
		PostgresMaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
		PostgresMaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnMaxIdleTime: getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", 5*time.Minute),
		PostgresConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", time.Hour),

		EmbeddedDataDir: getEnv("EMBEDDED_DATA_DIR", "./data"),

		SignerKeyRegistryPath: getEnv("SIGNER_KEY_REGISTRY_PATH", ""),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		EngineID: getEnv("ENGINE_ID", "nooterra-core-default"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW", 60),

		AuditMirrorEnabled:     getEnvBool("NOOTERRA_AUDIT_MIRROR_ENABLED", false),
		AuditFirebaseProjectID: getEnv("NOOTERRA_AUDIT_FIREBASE_PROJECT_ID", ""),
		AuditCredentialsFile:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	switch c.StoreBackend {
	case "memory", "postgres", "embedded":
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be one of memory|postgres|embedded, got %q", c.StoreBackend))
	}

	if c.StoreBackend == "postgres" && c.PostgresURL == "" {
		errs = append(errs, "POSTGRES_URL is required when STORE_BACKEND=postgres")
	}

	if c.SignerKeyRegistryPath == "" {
		errs = append(errs, "SIGNER_KEY_REGISTRY_PATH is required but not set")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lowerSecret := strings.ToLower(c.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, "JWT_SECRET contains weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters for security")
		}
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development. WARNING: Do not use this in production - use Validate() instead.
func (c *Config) ValidateForDevelopment() error {
	if c.StoreBackend == "" {
		return fmt.Errorf("development configuration validation failed:\n  - STORE_BACKEND is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
