package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the chat service.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth0 / JWKS
	JWTAudience     string
	JWTIssuerDomain string
	SkipAuth        bool
	AllowedOrigins  string

	// Chat-service behavior (§6 of the service contract)
	Namespace             string
	HistoryMaxMessages    int
	UseRawErrorObjects    bool
	EnableUserlistUpdates bool
	EnableRoomsManagement bool
	EnableDirectMessages  bool
	CloseTimeout          time.Duration
	BusAckTimeout         time.Duration

	// Tracing
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error if any required variable is missing or
// invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	cfg.JWTIssuerDomain = os.Getenv("JWT_ISSUER_DOMAIN")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.Namespace = getEnvOrDefault("NAMESPACE", "/chat-service")
	cfg.HistoryMaxMessages = getEnvIntOrDefault("HISTORY_MAX_MESSAGES", 100, &errors)
	cfg.UseRawErrorObjects = os.Getenv("USE_RAW_ERROR_OBJECTS") == "true"
	cfg.EnableUserlistUpdates = os.Getenv("ENABLE_USERLIST_UPDATES") == "true"
	cfg.EnableRoomsManagement = os.Getenv("ENABLE_ROOMS_MANAGEMENT") == "true"
	cfg.EnableDirectMessages = os.Getenv("ENABLE_DIRECT_MESSAGES") == "true"
	cfg.CloseTimeout = getEnvDurationOrDefault("CLOSE_TIMEOUT", 5*time.Second, &errors)
	cfg.BusAckTimeout = getEnvDurationOrDefault("BUS_ACK_TIMEOUT", 3*time.Second, &errors)

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	if parts[0] == "" {
		return false
	}
	return true
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"namespace", cfg.Namespace,
		"history_max_messages", cfg.HistoryMaxMessages,
		"enable_direct_messages", cfg.EnableDirectMessages,
		"enable_rooms_management", cfg.EnableRoomsManagement,
		"enable_userlist_updates", cfg.EnableUserlistUpdates,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errors *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("%s must be an integer (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("%s must be a duration (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
