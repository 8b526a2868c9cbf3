package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	applog "amigo.app/meal-ledger/internal/log"
)

type Config struct {
	GeminiAPIKey    string
	GeminiModel     string
	AnalysisTimeout time.Duration

	DatabaseURL string
	Timezone    string

	HTTPPort string
	LogLevel string

	// Extra origins allowed to open live WebSockets; same-origin always is.
	AllowedOrigins []string

	DraftTTL      time.Duration
	DraftCapacity int

	// Ledger change events; empty URL disables publishing.
	AMQPURL      string
	AMQPExchange string
}

// Load reads .env (if present) and the environment. A missing Gemini key is
// not an error here: analysis reports it per call.
func Load() (*Config, error) {
	envLoaded := true
	if err := godotenv.Load(); err != nil {
		envLoaded = false
	}

	cfg := &Config{
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		AnalysisTimeout: getEnvAsDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		DatabaseURL:     getEnv("DATABASE_URL", "amigo_ledger.db"),
		Timezone:        getEnv("TIMEZONE", ""),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
		DraftTTL:        getEnvAsDuration("DRAFT_TTL", 30*time.Minute),
		DraftCapacity:   getEnvAsInt("DRAFT_CAPACITY", 64),
		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "meal_ledger"),
	}

	if !envLoaded {
		applog.Default(applog.ComponentApp).Debug("No .env file found, relying on environment variables")
	}
	return cfg, cfg.Validate()
}

// Location resolves Timezone, falling back to the process-local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.HTTPPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.HTTPPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.DatabaseURL) == "" {
		errors = append(errors, "database path cannot be empty")
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.AnalysisTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid analysis timeout %v: must be positive", c.AnalysisTimeout))
	}

	if c.DraftTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid draft ttl %v: must be at least 1 minute", c.DraftTTL))
	}
	if c.DraftCapacity < 1 || c.DraftCapacity > 10000 {
		errors = append(errors, fmt.Sprintf("invalid draft capacity %d: must be between 1 and 10000", c.DraftCapacity))
	}

	for _, origin := range c.AllowedOrigins {
		if parsedURL, err := url.Parse(origin); err != nil || parsedURL.Host == "" ||
			(parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid allowed origin '%s': must be http(s)://host[:port]", origin))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
