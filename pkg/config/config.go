// Package config loads the gateway configuration from environment variables.
//
// Every value has a safe default; integer values are normalized to positive
// numbers (invalid or non-positive input falls back to the default with a
// warning). The only hard failure is an unrecognized AUTH_MODE, which aborts
// startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode selects how HTTP and IPC peers authenticate.
type AuthMode string

// Supported authentication modes.
const (
	AuthModeJWT    AuthMode = "jwt"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeNone   AuthMode = "none"
)

// Config is the full environment-derived configuration for the gateway.
type Config struct {
	// HTTP
	Port           string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	Production     bool

	// Authentication
	AuthMode        AuthMode
	AuthRequired    bool
	JWTSecret       string
	APIKey          string
	APIKeyHeader    string
	APIKeyPrefix    string
	AnonymousUserID string

	// Login credentials (scrypt-hashed, from environment)
	AuthUserEmail    string
	AuthPasswordSalt string
	AuthPasswordHash string

	// Model backend
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ReasoningModel string
	FallbackModel  string

	// IPC bridge
	IPC IPCConfig

	// Persistence
	DatabaseURL      string
	DatabaseRequired bool
}

// RateLimitConfig tunes the sliding-window request limiter.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// IPCConfig tunes the WebSocket bridge.
type IPCConfig struct {
	WSPath              string
	HeartbeatInterval   time.Duration
	ClientTimeout       time.Duration
	MaxMessageSizeBytes int64
	DaemonGPTIDHeader   string
}

// Load reads configuration from the environment. It returns an error only for
// values that cannot be safely defaulted (unrecognized AUTH_MODE).
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Production:       strings.EqualFold(getEnv("APP_ENV", "development"), "production"),
		AllowedOrigins:   splitOrigins(os.Getenv("ALLOWED_ORIGINS")),
		AuthRequired:     getBool("AUTH_REQUIRED", true),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		APIKey:           os.Getenv("AUTH_API_KEY"),
		APIKeyHeader:     getEnv("AUTH_API_KEY_HEADER", "X-Api-Key"),
		APIKeyPrefix:     os.Getenv("AUTH_API_KEY_PREFIX"),
		AnonymousUserID:  getEnv("AUTH_ANONYMOUS_USER_ID", "anonymous"),
		AuthUserEmail:    strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_USER_EMAIL"))),
		AuthPasswordSalt: os.Getenv("AUTH_PASSWORD_SALT"),
		AuthPasswordHash: os.Getenv("AUTH_PASSWORD_HASH"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ReasoningModel:   getEnv("REASONING_MODEL", "gpt-4o"),
		FallbackModel:    getEnv("FALLBACK_MODEL", "gpt-4o-mini"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DatabaseRequired: getBool("DATABASE_REQUIRED", false),
		RateLimit: RateLimitConfig{
			Window:      time.Duration(getPositiveInt("RATE_LIMIT_WINDOW_MS", 60_000)) * time.Millisecond,
			MaxRequests: getPositiveInt("RATE_LIMIT_MAX_REQUESTS", 120),
		},
		IPC: IPCConfig{
			WSPath:              normalizeWSPath(getEnv("IPC_WS_PATH", "/ws/daemon")),
			HeartbeatInterval:   time.Duration(getPositiveInt("IPC_HEARTBEAT_INTERVAL_MS", 30_000)) * time.Millisecond,
			ClientTimeout:       time.Duration(getPositiveInt("IPC_CLIENT_TIMEOUT_MS", 90_000)) * time.Millisecond,
			MaxMessageSizeBytes: int64(getPositiveInt("IPC_MAX_MESSAGE_SIZE", 1_048_576)),
			DaemonGPTIDHeader:   getEnv("DAEMON_GPT_ID_HEADER", "X-Daemon-Gpt-Id"),
		},
	}

	mode := AuthMode(strings.ToLower(getEnv("AUTH_MODE", string(AuthModeNone))))
	switch mode {
	case AuthModeJWT, AuthModeAPIKey, AuthModeNone:
		cfg.AuthMode = mode
	default:
		return nil, fmt.Errorf("unrecognized AUTH_MODE %q: must be jwt, api_key, or none", mode)
	}

	if cfg.AuthMode == AuthModeJWT && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
	}
	if cfg.AuthMode == AuthModeAPIKey && cfg.APIKey == "" {
		return nil, fmt.Errorf("AUTH_MODE=api_key requires AUTH_API_KEY")
	}
	if cfg.DatabaseRequired && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_REQUIRED=true but DATABASE_URL is empty")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("Invalid boolean environment value, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return parsed
}

// getPositiveInt parses a positive integer from the environment. Zero,
// negative, or malformed input falls back to the default.
func getPositiveInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		slog.Warn("Invalid positive integer environment value, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return parsed
}

// normalizeWSPath enforces a leading slash on the IPC WebSocket path.
func normalizeWSPath(path string) string {
	if path == "" {
		return "/ws/daemon"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// splitOrigins parses ALLOWED_ORIGINS. An empty value means "allow all
// origins, no credentials".
func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
