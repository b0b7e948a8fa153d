package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken string
	GitHubOrg   string

	// incident.io
	IncidentIOAPIKey string

	// Linear
	LinearAPIKey string

	// Slab (optional)
	SlabAPIToken string
	SlabTeamID   string

	// Incident classification: whether incidents without explicit
	// classification metadata count as change-related. Domain policy,
	// deliberately configurable rather than hardcoded.
	IncidentChangeRelatedDefault bool

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// Pipeline
	SourceDelay   time.Duration // delay between upstream calls within a source
	BackfillDelay time.Duration // delay between backfill periods

	// Reporting
	SlackWebhookURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		GitHubToken:                  getEnv("GITHUB_TOKEN", ""),
		GitHubOrg:                    getEnv("GITHUB_ORG", ""),
		IncidentIOAPIKey:             getEnv("INCIDENT_IO_API_KEY", ""),
		LinearAPIKey:                 getEnv("LINEAR_API_KEY", ""),
		SlabAPIToken:                 getEnv("SLAB_API_TOKEN", ""),
		SlabTeamID:                   getEnv("SLAB_TEAM_ID", ""),
		IncidentChangeRelatedDefault: getEnvBool("INCIDENT_CHANGE_RELATED_DEFAULT", true),
		StorageType:                  getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:                   getEnv("SQLITE_PATH", "./doratrack.db"),
		PostgresURL:                  getEnv("POSTGRES_URL", ""),
		SourceDelay:                  getEnvDuration("SOURCE_DELAY_SECONDS", 2*time.Second),
		BackfillDelay:                getEnvDuration("BACKFILL_DELAY_SECONDS", 2*time.Second),
		SlackWebhookURL:              getEnv("SLACK_WEBHOOK_URL", ""),
		APIPort:                      getEnv("API_PORT", "8080"),
		APIHost:                      getEnv("API_HOST", "localhost"),
		APIEndpoint:                  getEnv("API_ENDPOINT", "http://localhost:8080"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration from an environment variable holding
// a number of seconds, or a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if c.GitHubOrg == "" {
		return &ConfigError{Field: "GITHUB_ORG", Message: "GitHub organization is required"}
	}
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
