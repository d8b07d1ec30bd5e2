package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Port        string
	LogLevel    string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Key-value store. Upstash credentials take precedence over REDIS_URL.
	RedisURL          string
	UpstashRedisURL   string
	UpstashRedisToken string

	// AI provider credentials. An empty key means the provider is not configured.
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	GroqAPIKey       string
	OpenRouterAPIKey string

	AIRequestTimeout        time.Duration
	WSMaxConnectionsPerUser int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILPILOT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	timeout, err := getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	maxConns, err := getEnvInt("WS_MAX_CONNECTIONS_PER_USER", 10)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment: env,
		Port:        getEnvOrDefault("PORT", "11764"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),

		DBHost:     getEnvOrDefault("MAILPILOT_DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("MAILPILOT_DB_PORT", "5432"),
		DBUsername: getEnvOrDefault("MAILPILOT_DB_USER", "mailpilot"),
		DBPassword: os.Getenv("MAILPILOT_DB_PASSWORD"),
		DBName:     getEnvOrDefault("MAILPILOT_DB_NAME", "mailpilot"),
		DBSSLMode:  getEnvOrDefault("MAILPILOT_DB_SSLMODE", "disable"),

		RedisURL:          os.Getenv("REDIS_URL"),
		UpstashRedisURL:   os.Getenv("UPSTASH_REDIS_URL"),
		UpstashRedisToken: os.Getenv("UPSTASH_REDIS_TOKEN"),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),

		AIRequestTimeout:        timeout,
		WSMaxConnectionsPerUser: maxConns,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("MAILPILOT_DB_PASSWORD is required")
	}

	if c.AIRequestTimeout <= 0 {
		return fmt.Errorf("AI_REQUEST_TIMEOUT must be positive, got %s", c.AIRequestTimeout)
	}

	if c.WSMaxConnectionsPerUser <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS_PER_USER must be positive, got %d", c.WSMaxConnectionsPerUser)
	}

	return nil
}

// GetDatabaseURL builds the pgx connection string. Credentials are escaped.
func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// HasUpstash reports whether both managed-store credentials are present.
func (c *Config) HasUpstash() bool {
	return c.UpstashRedisURL != "" && c.UpstashRedisToken != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s: %w", key, err)
	}
	return parsed, nil
}
