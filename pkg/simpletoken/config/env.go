package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads the environment into the configuration.
//
// Variables (see the env tags on ServerConfig for the full list):
//
//	PORT, ENVIRONMENT
//	DATABASE_URL  - "memory" (default), "postgres://...", "postgresql://..." or "sqlite:///path/to/tokens.db"
//	QINIU_ACCESS_KEY, QINIU_SECRET_KEY, QINIU_BUCKET
//	QINIU_UPLOAD_DOMAIN, QINIU_DOWNLOAD_DOMAIN, SIGNING_HASH
//	DEFAULT_TTL, MAX_TTL, SWEEP_INTERVAL (Go durations, e.g. "1h")
//	JWT_SECRET or JWKS_URL, ELEVATED_ROLES, ROLES_CLAIM
//	S3_ENDPOINT, S3_REGION, S3_USE_PATH_STYLE
//	LOG_LEVEL, LOG_FORMAT
//
// Unset variables take their env-default, so apply WithEnv before
// programmatic options.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return applyDatabaseURL(c)
	}
}

// applyDatabaseURL derives DatabaseType from DatabaseURL
func applyDatabaseURL(c *ServerConfig) error {
	dbURL := c.DatabaseURL

	switch {
	case dbURL == "" || dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
	case strings.HasPrefix(dbURL, "sqlite:"), strings.HasPrefix(dbURL, "file:"):
		c.DatabaseType = "sqlite"
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgresql://...' or 'sqlite://...')", dbURL)
	}
	return nil
}

// EnvHelp returns a description of every environment variable WithEnv reads.
func EnvHelp() (string, error) {
	var cfg ServerConfig
	return cleanenv.GetDescription(&cfg, nil)
}
