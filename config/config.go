package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "ballotbox"

type ctxKey string

const configContextKey ctxKey = "ballotbox.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DataDir               string        `yaml:"data_dir"                split_words:"true"`
	StorageBackend        string        `yaml:"storage_backend"         split_words:"true"`
	DatabaseURL           string        `yaml:"database_url"            split_words:"true"`
	ListenAddr            string        `yaml:"listen_addr"             split_words:"true"`
	PasswordScheme        string        `yaml:"password_scheme"         split_words:"true"`
	BcryptCost            int           `yaml:"bcrypt_cost"             split_words:"true"`
	ProvisionDefaultAdmin bool          `yaml:"provision_default_admin" split_words:"true"`
	ExportKeep            int           `yaml:"export_keep"             split_words:"true"`
	MinVoterAge           int           `yaml:"min_voter_age"           split_words:"true"`
	MinCandidateAge       int           `yaml:"min_candidate_age"       split_words:"true"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"        split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:               ".ballotbox",
		StorageBackend:        "file",
		ListenAddr:            ":8080",
		PasswordScheme:        "bcrypt",
		ProvisionDefaultAdmin: true,
		ExportKeep:            5,
		MinVoterAge:           18,
		MinCandidateAge:       25,
		ShutdownTimeout:       10 * time.Second,
	}
}

// ExportDir is where result exports are archived.
func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "file", "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage_backend: %q (must be 'file', 'sqlite', 'postgres' or 'memory')", c.StorageBackend)
	}
	switch c.PasswordScheme {
	case "bcrypt", "sha256":
	default:
		return fmt.Errorf("invalid password_scheme: %q (must be 'bcrypt' or 'sha256')", c.PasswordScheme)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.MinVoterAge <= 0 || c.MinCandidateAge <= 0 {
		return errors.New("minimum ages must be positive")
	}
	if c.ExportKeep < 0 {
		return errors.New("export_keep must not be negative")
	}
	return nil
}

// LoadConfig layers defaults, the YAML file, a .env file in the working
// directory and BALLOTBOX_* environment variables, in that order.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		// Check for config file in this path: ~/.ballotbox/ballotbox.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".ballotbox", "ballotbox.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/ballotbox/ballotbox.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
