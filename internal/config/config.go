// Package config loads the server configuration from YAML and applies
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/keelworks/keeldb/internal/replication"
)

// Build metadata, injected at link time.
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// Config is the keeldb-server configuration file schema.
type Config struct {
	ListenAddr string `yaml:"listen_address"`
	DataDir    string `yaml:"data_dir"`
	BaseName   string `yaml:"base_name"`

	CacheLimit       int           `yaml:"cache_limit"`
	SaveInterval     time.Duration `yaml:"save_interval"`
	BackupRetention  int           `yaml:"backup_retention"`
	TTLSweepInterval time.Duration `yaml:"ttl_sweep_interval"`

	Role           string        `yaml:"role"`
	NodeID         string        `yaml:"node_id"`
	Followers      []string      `yaml:"followers"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the configuration used when a field (or the whole
// file) is absent.
func Default() Config {
	return Config{
		ListenAddr:       ":7474",
		DataDir:          "data",
		BaseName:         "keeldb",
		CacheLimit:       1000,
		SaveInterval:     30 * time.Second,
		BackupRetention:  5,
		TTLSweepInterval: 10 * time.Second,
		Role:             string(replication.RolePrimary),
		SyncInterval:     10 * time.Second,
		RequestTimeout:   5 * time.Second,
	}
}

// Load reads the YAML file at path, fills unset fields with defaults
// and validates the result. A missing file yields the pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	def := Default()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.BaseName == "" {
		cfg.BaseName = def.BaseName
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = def.CacheLimit
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = def.SaveInterval
	}
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = def.BackupRetention
	}
	if cfg.TTLSweepInterval <= 0 {
		cfg.TTLSweepInterval = def.TTLSweepInterval
	}
	if cfg.Role == "" {
		cfg.Role = def.Role
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	switch replication.Role(cfg.Role) {
	case replication.RolePrimary, replication.RoleReplica:
	default:
		return Config{}, fmt.Errorf("invalid role %q (want primary or replica)", cfg.Role)
	}
	if replication.Role(cfg.Role) == replication.RoleReplica && len(cfg.Followers) > 0 {
		return Config{}, fmt.Errorf("followers are a primary-only setting")
	}
	return cfg, nil
}
