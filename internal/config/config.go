// Package config reads the desk's settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Address     string `env:"ADDRESS" envDefault:":8080"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"` // comma separated, * allows all

	// DatabaseURL enables the sync ledger. Empty keeps publish history off.
	DatabaseURL string `env:"DATABASE_URL"`

	HiveBaseURL       string        `env:"HIVE_BASE_URL,required"`
	HiveServiceToken  string        `env:"HIVE_SERVICE_TOKEN"`
	RemoteTimeout     time.Duration `env:"REMOTE_TIMEOUT" envDefault:"15s"`
	RemoteGetAttempts int           `env:"REMOTE_GET_ATTEMPTS" envDefault:"3"`

	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"2h"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	IngestBucket    string `env:"INGEST_BUCKET"`
	IngestEndpoint  string `env:"INGEST_ENDPOINT"`
	IngestRegion    string `env:"INGEST_REGION" envDefault:"auto"`
	IngestAccessKey string `env:"INGEST_ACCESS_KEY"`
	IngestSecretKey string `env:"INGEST_SECRET_KEY"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json or text
	LogFile   string `env:"LOG_FILE"`
}

// Load reads the given .env files (default ".env") when present, then parses
// the environment. Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.HiveBaseURL, "http://") && !strings.HasPrefix(c.HiveBaseURL, "https://") {
		return fmt.Errorf("HIVE_BASE_URL must be an http(s) URL, got %q", c.HiveBaseURL)
	}
	if c.RemoteGetAttempts < 1 {
		return errors.New("REMOTE_GET_ATTEMPTS must be at least 1")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.SessionIdleTTL <= 0 {
		return errors.New("SESSION_IDLE_TTL must be positive")
	}
	return nil
}

// AllowedOrigins splits CORSOrigins. A nil result means every origin.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
