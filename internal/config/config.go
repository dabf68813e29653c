package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the bridge configuration loaded from environment variables.
type Config struct {
	Port string

	// Zendesk credentials
	ZendeskDomain   string
	ZendeskEmail    string
	ZendeskAPIToken string

	// Caller allow-list. Empty means every caller is permitted.
	AllowedPhoneNumbers []string

	// Correlation store (Redis)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Bounded lookup retry for call_ended events arriving before the
	// call_started handler has committed its mapping.
	LookupAttempts int
	LookupDelay    time.Duration

	// Per-IP rate limit for the webhook endpoint.
	RateLimitPerMinute int

	// JWT secret protecting the admin routes. Empty disables the check.
	SecretKey string

	// Optional call-record archive database.
	DatabaseEnabled bool

	// Instance identifier for multi-pod logging.
	InstanceID string
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port: getEnvOrDefault("PORT", "5000"),

		ZendeskDomain:   getEnvOrDefault("ZENDESK_DOMAIN", ""),
		ZendeskEmail:    getEnvOrDefault("ZENDESK_EMAIL", ""),
		ZendeskAPIToken: getEnvOrDefault("ZENDESK_API_TOKEN", ""),

		AllowedPhoneNumbers: splitAndTrimStrings(os.Getenv("ALLOWED_PHONE_NUMBERS"), ","),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		LookupAttempts: getEnvAsIntOrDefault("TICKET_LOOKUP_ATTEMPTS", 5),
		LookupDelay:    time.Duration(getEnvAsIntOrDefault("TICKET_LOOKUP_DELAY_SECONDS", 10)) * time.Second,

		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 20),

		SecretKey: getEnvOrDefault("SECRET_KEY", ""),

		DatabaseEnabled: getEnvAsBoolOrDefault("DB_ENABLED", false),

		InstanceID: getInstanceID(),
	}
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// splitAndTrimStrings splits a string by delimiter and trims whitespace from each part
func splitAndTrimStrings(s, delimiter string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getInstanceID returns a unique identifier for this service instance.
// Uses the system hostname (pod name in K8s) when available.
func getInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "zendesk-voice-bridge"
}
