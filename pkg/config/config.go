// Package config loads the settings of the SSO service from the environment,
// an optional .env file and an optional YAML file.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// JwtConfig holds the single signing key and the claims shared by every token
type JwtConfig struct {
	Key      string `yaml:"key" env:"JWT_KEY"`
	Issuer   string `yaml:"issuer" env:"JWT_ISSUER" env-default:"simple-sso"`
	Audience string `yaml:"audience" env:"JWT_AUDIENCE"`
}

// StoreConfig selects and configures the identity store
type StoreConfig struct {
	Backend    string         `yaml:"backend" env:"STORE_BACKEND" env-default:"memory"`
	DataDir    string         `yaml:"data_dir" env:"DATA_DIR" env-default:"./data"`
	SQLitePath string         `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"./data/sso.db"`
	Database   DatabaseConfig `yaml:"database"`
}

// LoginConfig tunes the external login flow
type LoginConfig struct {
	StateExpiration      time.Duration `yaml:"state_expiration" env:"OAUTH_STATE_EXPIRATION" env-default:"10m"`
	RequireVerifiedEmail bool          `yaml:"require_verified_email" env:"REQUIRE_VERIFIED_EMAIL" env-default:"false"`
	// PersistState keeps pending logins in DataDir so they survive a restart
	PersistState bool `yaml:"persist_state" env:"OAUTH_STATE_PERSIST" env-default:"false"`
}

type Config struct {
	Jwt         JwtConfig              `yaml:"jwt"`
	FrontendURL string                 `yaml:"frontend_url" env:"FRONTEND_URL"`
	BaseURL     string                 `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:3000"`
	Store       StoreConfig            `yaml:"store"`
	Login       LoginConfig            `yaml:"login"`
	Providers   ExternalProviderConfig `yaml:"providers"`
	Email       EmailConfig            `yaml:"email"`
}

// Load reads the configuration and validates it. Values from a .env file in
// the working directory are exported first; path, when set, names a YAML file
// whose values environment variables override.
func Load(path string) (*Config, error) {
	loadDotEnv(".env")

	var cfg Config
	var err error
	if path != "" {
		slog.Info("Loading configuration file", "path", path)
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(envFile string) {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Debug("No .env file found (using environment variables or defaults)")
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

// Validate checks the configuration eagerly so a bad deployment fails at startup
func (c *Config) Validate() error {
	return Validate(
		func() ValidationErrors {
			return CollectErrors(
				RequireNonEmpty("JWT_KEY", c.Jwt.Key),
				RequireValidURL("FRONTEND_URL", c.FrontendURL),
				RequireValidURL("BASE_URL", c.BaseURL),
				RequireOneOf("STORE_BACKEND", c.Store.Backend, []string{StoreMemory, StoreFile, StorePostgres, StoreSQLite}),
				RequirePositiveDuration("OAUTH_STATE_EXPIRATION", c.Login.StateExpiration),
			)
		},
		c.validateStore,
		c.Providers.Validate,
		c.Email.Validate,
	)
}

func (c *Config) validateStore() ValidationErrors {
	switch c.Store.Backend {
	case StoreFile:
		return CollectErrors(RequireNonEmpty("DATA_DIR", c.Store.DataDir))
	case StoreSQLite:
		return CollectErrors(RequireNonEmpty("SQLITE_PATH", c.Store.SQLitePath))
	case StorePostgres:
		return c.Store.Database.Validate()
	}
	if c.Login.PersistState {
		return CollectErrors(RequireNonEmpty("DATA_DIR", c.Store.DataDir))
	}
	return nil
}
