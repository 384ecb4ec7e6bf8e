// Package config loads the TOML configuration file and the optional
// .env sitting beside it. Secrets never live in the TOML file itself;
// the client secret comes from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// secretEnvVar overrides auth.client_secret when set.
const secretEnvVar = "EFATURA_CLIENT_SECRET"

// Config is the full application configuration.
type Config struct {
	Paths      Paths      `toml:"paths"`
	EFatura    EFatura    `toml:"efatura"`
	Auth       Auth       `toml:"auth"`
	Checkpoint Checkpoint `toml:"checkpoint"`
	Logging    Logging    `toml:"logging"`
}

// Paths locates the local files the run reads and writes.
type Paths struct {
	// Table is the output workbook.
	Table string `toml:"table"`

	// LogDir receives log files and diagnostic dumps.
	LogDir string `toml:"log_dir"`

	// TokenFile stores OAuth tokens. Defaults next to the table.
	TokenFile string `toml:"token_file"`
}

// EFatura configures the portal connection.
type EFatura struct {
	// ServicesBase overrides the document services host.
	ServicesBase string `toml:"services_base"`

	// IAMBase overrides the identity host.
	IAMBase string `toml:"iam_base"`

	// Issuer overrides the OIDC issuer URL.
	Issuer string `toml:"issuer"`

	// RepoCode is the tenant/repository code, required.
	RepoCode string `toml:"repo_code"`

	// PageSize is the listing page size.
	PageSize int `toml:"page_size"`

	// TimeoutSeconds bounds each HTTP request.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// Retries is the transient-failure attempt count.
	Retries int `toml:"retries"`

	// BackoffMillis is the base retry delay.
	BackoffMillis int `toml:"backoff_ms"`
}

// Auth configures the OAuth2 client.
type Auth struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
}

// Checkpoint controls how often the table is persisted mid-run.
type Checkpoint struct {
	// EveryDocs saves after this many processed documents.
	EveryDocs int `toml:"every_docs"`

	// EverySeconds saves after this much elapsed time.
	EverySeconds int `toml:"every_seconds"`
}

// Logging tunes run-time log output.
type Logging struct {
	// ProgressEveryDocs is the progress-line cadence during a run.
	ProgressEveryDocs int `toml:"progress_every_docs"`
}

// Load reads the TOML file at path, applies the sibling .env (if any)
// and defaults, then validates required keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// A .env beside the config may carry the client secret; it never
	// overrides an explicitly exported environment variable.
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			logger.Warn("loading %s: %v", envPath, err)
		}
	}
	if secret := os.Getenv(secretEnvVar); secret != "" {
		cfg.Auth.ClientSecret = secret
	}

	cfg.applyDefaults(path)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(path string) {
	dir := filepath.Dir(path)
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(dir, "logs")
	}
	if c.Paths.TokenFile == "" && c.Paths.Table != "" {
		c.Paths.TokenFile = filepath.Join(filepath.Dir(c.Paths.Table), ".efatura-tokens.json")
	}
	if c.EFatura.PageSize <= 0 {
		c.EFatura.PageSize = 100
	}
	if c.EFatura.TimeoutSeconds <= 0 {
		c.EFatura.TimeoutSeconds = 45
	}
	if c.EFatura.Retries <= 0 {
		c.EFatura.Retries = 3
	}
	if c.EFatura.BackoffMillis <= 0 {
		c.EFatura.BackoffMillis = 1500
	}
	if c.Checkpoint.EveryDocs <= 0 {
		c.Checkpoint.EveryDocs = 10
	}
	if c.Checkpoint.EverySeconds <= 0 {
		c.Checkpoint.EverySeconds = 60
	}
	if c.Logging.ProgressEveryDocs <= 0 {
		c.Logging.ProgressEveryDocs = 10
	}
}

func (c *Config) validate() error {
	if c.Paths.Table == "" {
		return fmt.Errorf("paths.table is required")
	}
	if c.EFatura.RepoCode == "" {
		return fmt.Errorf("efatura.repo_code is required")
	}
	if c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id is required")
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.EFatura.TimeoutSeconds) * time.Second
}

// Backoff returns the base retry delay as a duration.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.EFatura.BackoffMillis) * time.Millisecond
}
