package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	TurnSecret string

	// Optional variables with defaults
	Port          string
	GoEnv         string
	LogLevel      string
	ClientDistDir string
	RateLimitAPI  string

	// Optional, empty means disabled
	AllowedOrigin     string
	OTelCollectorAddr string

	DevelopmentMode bool
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error listing every violation if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: TURN_SECRET (shared with the TURN relay, minimum 16 characters)
	cfg.TurnSecret = os.Getenv("TURN_SECRET")
	if cfg.TurnSecret == "" {
		errors = append(errors, "TURN_SECRET is required")
	} else if len(cfg.TurnSecret) < 16 {
		errors = append(errors, fmt.Sprintf("TURN_SECRET must be at least 16 characters (got %d)", len(cfg.TurnSecret)))
	}

	// Optional: PORT (defaults to 9090)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "9090"
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: ALLOWED_ORIGIN (empty means any origin is admitted)
	cfg.AllowedOrigin = os.Getenv("ALLOWED_ORIGIN")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Optional: CLIENT_DIST_DIR (static client bundle served at "/")
	cfg.ClientDistDir = getEnvOrDefault("CLIENT_DIST_DIR", "../client/dist")

	// Optional: RATE_LIMIT_API (formatted rate for the JSON API surface)
	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "120-M")

	// Optional: OTEL_COLLECTOR_ADDR (tracing disabled when empty)
	cfg.OTelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return cfg, nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// RedactSecret redacts a secret by showing only the first 4 characters
func RedactSecret(secret string) string {
	if len(secret) <= 4 {
		return "***"
	}
	return secret[:4] + "***"
}
