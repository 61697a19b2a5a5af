package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Resilience ResilienceConfig `json:"resilience"`
	Strategies StrategiesConfig `json:"strategies"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ResilienceConfig contains circuit breaker and retry configuration
type ResilienceConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`
	SuccessThreshold   int           `json:"success_threshold"`
	RecoveryTimeout    time.Duration `json:"recovery_timeout"`
	RateLimitThreshold int           `json:"rate_limit_threshold"`
	CallTimeout        time.Duration `json:"call_timeout"`
	RetryMaxAttempts   int           `json:"retry_max_attempts"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay"`
	RetryMaxDelay      time.Duration `json:"retry_max_delay"`
	RetryMultiplier    float64       `json:"retry_multiplier"`
	RetryJitter        bool          `json:"retry_jitter"`
	CacheTTL           time.Duration `json:"cache_ttl"`
}

// StrategiesConfig contains analysis backend configuration
type StrategiesConfig struct {
	LLMEnabled        bool    `json:"llm_enabled"`
	LLMAPIKey         string  `json:"llm_api_key"`
	LLMBaseURL        string  `json:"llm_base_url"`
	LLMModel          string  `json:"llm_model"`
	LLMWeight         float64 `json:"llm_weight"`
	LocalModelEnabled bool    `json:"local_model_enabled"`
	LocalModelURL     string  `json:"local_model_url"`
	LocalModelWeight  float64 `json:"local_model_weight"`
	RuleBasedWeight   float64 `json:"rule_based_weight"`
	DefaultComposer   string  `json:"default_composer"`
	MaxTextLength     int     `json:"max_text_length"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "respicare"),
			User:            getEnvString("DB_USER", "respicare"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Resilience: ResilienceConfig{
			FailureThreshold:   getEnvInt("CB_FAILURE_THRESHOLD", 3),
			SuccessThreshold:   getEnvInt("CB_SUCCESS_THRESHOLD", 2),
			RecoveryTimeout:    getEnvDuration("CB_RECOVERY_TIMEOUT", 5*time.Minute),
			RateLimitThreshold: getEnvInt("CB_RATE_LIMIT_THRESHOLD", 2),
			CallTimeout:        getEnvDuration("CB_CALL_TIMEOUT", 30*time.Second),
			RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
			RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			RetryMultiplier:    getEnvFloat("RETRY_MULTIPLIER", 2.0),
			RetryJitter:        getEnvBool("RETRY_JITTER", true),
			CacheTTL:           getEnvDuration("ANALYSIS_CACHE_TTL", 30*time.Minute),
		},
		Strategies: StrategiesConfig{
			LLMEnabled:        getEnvBool("LLM_ENABLED", true),
			LLMAPIKey:         getEnvString("LLM_API_KEY", ""),
			LLMBaseURL:        getEnvString("LLM_BASE_URL", "https://api.openai.com/v1"),
			LLMModel:          getEnvString("LLM_MODEL", "gpt-3.5-turbo"),
			LLMWeight:         getEnvFloat("LLM_WEIGHT", 0.4),
			LocalModelEnabled: getEnvBool("LOCAL_MODEL_ENABLED", true),
			LocalModelURL:     getEnvString("LOCAL_MODEL_URL", "http://localhost:9000"),
			LocalModelWeight:  getEnvFloat("LOCAL_MODEL_WEIGHT", 0.3),
			RuleBasedWeight:   getEnvFloat("RULE_BASED_WEIGHT", 0.3),
			DefaultComposer:   getEnvString("DEFAULT_COMPOSER", "fallback"),
			MaxTextLength:     getEnvInt("MAX_TEXT_LENGTH", 10000),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}

	if c.Resilience.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit breaker success threshold must be positive")
	}

	if c.Resilience.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}

	if c.Strategies.LLMEnabled && c.Strategies.LLMAPIKey == "" {
		// Missing credentials degrade the LLM strategy instead of failing startup;
		// the composer construction is best-effort.
		c.Strategies.LLMEnabled = false
	}

	switch c.Strategies.DefaultComposer {
	case "fallback", "hybrid":
	default:
		return fmt.Errorf("unknown composer %q", c.Strategies.DefaultComposer)
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
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

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
