package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	Environment  string
	DatabaseURL  string
	JWKSURL      string
	DevUserID    string // fallback identity when no JWKS URL is set (dev/test only)
	DevProjectID string // project used by the seed command and the CLI script
	CORSOrigins  string
	TablePrefix  string
	// LLM Configuration
	AnthropicAPIKey  string
	OpenRouterAPIKey string
	TavilyAPIKey     string // enables the backend web_search tool
	DefaultProvider  string
	DefaultModel     string
	// Streaming configuration
	MaxToolRounds     int           // soft tool round limit; hard limit is 2x
	StreamRetention   time.Duration // how long finished streams stay resolvable
	KeepAliveInterval time.Duration // SSE keepalive comment cadence
	// Debug flags
	Debug bool // Enables DEBUG features like SSE event IDs and debug routes
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)

	return &Config{
		Port:         getEnv("PORT", "8080"),
		Environment:  env,
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		JWKSURL:      getEnv("JWKS_URL", ""),
		DevUserID:    getEnv("DEV_USER_ID", "00000000-0000-0000-0000-000000000001"),
		DevProjectID: getEnv("DEV_PROJECT_ID", "00000000-0000-0000-0000-000000000002"),
		CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:  tablePrefix,
		// LLM Configuration
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		TavilyAPIKey:     getEnv("TAVILY_API_KEY", ""),
		DefaultProvider:  getEnv("DEFAULT_PROVIDER", "anthropic"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "claude-haiku-4-5-20251001"),
		// Streaming configuration
		MaxToolRounds:     getEnvInt("MAX_TOOL_ROUNDS", 5),
		StreamRetention:   getEnvDuration("STREAM_RETENTION", 10*time.Minute),
		KeepAliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 10*time.Second),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	case "dev":
		return "dev_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
