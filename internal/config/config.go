// Package config loads server configuration from a YAML file with
// environment-variable overrides for deployment-injected values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/gcp"
	"gopkg.in/yaml.v2"
)

// Store backends selectable for the job repository.
const (
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		Bucket string `yaml:"bucket"`
	} `yaml:"storage"`

	Store struct {
		Backend             string `yaml:"backend"`
		PostgresDSN         string `yaml:"postgres_dsn"`
		FirestoreProject    string `yaml:"firestore_project"`
		FirestoreCollection string `yaml:"firestore_collection"`
	} `yaml:"store"`

	Provider struct {
		BaseURL             string `yaml:"base_url"`
		APIKey              string `yaml:"api_key"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		PollAttempts        int    `yaml:"poll_attempts"`
	} `yaml:"provider"`

	Orchestrator struct {
		Workers int `yaml:"workers"`
	} `yaml:"orchestrator"`
}

// Load reads path (optional) and applies env overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Secrets and deployment wiring come from the environment.
	if v := gcp.GetEnv("CONVERSIONS_BUCKET", ""); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := gcp.GetEnv("DATABASE_URL", ""); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := gcp.GetEnv("GCP_PROJECT", ""); v != "" {
		cfg.Store.FirestoreProject = v
	}
	if v := gcp.GetEnv("PROVIDER_API_KEY", ""); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := gcp.GetEnv("PROVIDER_BASE_URL", ""); v != "" {
		cfg.Provider.BaseURL = v
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StorePostgres
	}
	if cfg.Store.FirestoreCollection == "" {
		cfg.Store.FirestoreCollection = "conversions"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.cloudconvert.com"
	}
	if cfg.Provider.PollIntervalSeconds == 0 {
		cfg.Provider.PollIntervalSeconds = 5
	}
	if cfg.Provider.PollAttempts == 0 {
		cfg.Provider.PollAttempts = 60
	}
	if cfg.Orchestrator.Workers == 0 {
		cfg.Orchestrator.Workers = 4
	}

	return &cfg, cfg.validate()
}

// PollInterval returns the provider poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Provider.PollIntervalSeconds) * time.Second
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store backend %q requires DATABASE_URL or store.postgres_dsn", c.Store.Backend)
		}
	case StoreFirestore:
		if c.Store.FirestoreProject == "" {
			return fmt.Errorf("store backend %q requires GCP_PROJECT or store.firestore_project", c.Store.Backend)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Storage.Bucket == "" && c.Store.Backend != StoreMemory {
		return fmt.Errorf("CONVERSIONS_BUCKET or storage.bucket must be set")
	}
	return nil
}
