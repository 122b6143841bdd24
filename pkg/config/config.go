package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the configuration file of a canopy server
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Datastore DatastoreConfig `yaml:"datastore"`
	API       APIConfig       `yaml:"api"`
}

// LogConfig configures logging
type LogConfig struct {
	Level log.Level `yaml:"level"`
	JSON  bool      `yaml:"json"`
}

// DatastoreConfig configures the shards
type DatastoreConfig struct {
	// DataDir holds the bbolt file of persistent shards
	DataDir               string        `yaml:"dataDir"`
	CommitQueueSize       int           `yaml:"commitQueueSize"`
	NotificationQueueSize int           `yaml:"notificationQueueSize"`
	Shards                []ShardConfig `yaml:"shards"`
}

// ShardConfig declares a shard registered at startup
type ShardConfig struct {
	Datastore  types.DatastoreType `yaml:"datastore"`
	Prefix     string              `yaml:"prefix"`
	Persistent bool                `yaml:"persistent"`
}

// ID returns the shard identifier. Call Validate first.
func (s ShardConfig) ID() (types.ShardID, error) {
	path, err := types.ParsePath(s.Prefix)
	if err != nil {
		return types.ShardID{}, err
	}
	return types.NewShardID(s.Datastore, path), nil
}

// APIConfig configures the listeners. An empty address disables the
// listener.
type APIConfig struct {
	HTTPAddr string `yaml:"httpAddr"`
	GRPCAddr string `yaml:"grpcAddr"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: log.InfoLevel},
		Datastore: DatastoreConfig{
			CommitQueueSize:       64,
			NotificationQueueSize: 256,
		},
		API: APIConfig{
			HTTPAddr: "127.0.0.1:9090",
			GRPCAddr: "127.0.0.1:9091",
		},
	}
}

// Load reads a YAML configuration file. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.Datastore.Shards {
		if cfg.Datastore.Shards[i].Datastore == "" {
			cfg.Datastore.Shards[i].Datastore = types.Config
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the shard declarations
func (c *Config) Validate() error {
	var errs []error
	if c.Datastore.CommitQueueSize < 0 || c.Datastore.NotificationQueueSize < 0 {
		errs = append(errs, errors.New("queue sizes must not be negative"))
	}

	seen := make(map[string]bool)
	for i, s := range c.Datastore.Shards {
		if _, err := types.ParseDatastoreType(string(s.Datastore)); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
			continue
		}
		id, err := s.ID()
		if err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
			continue
		}
		if id.Path.IsEmpty() {
			errs = append(errs, fmt.Errorf("shard %d: the root of %s always exists", i, id.Datastore))
		}
		if seen[id.String()] {
			errs = append(errs, fmt.Errorf("shard %d: duplicate shard %s", i, id))
		}
		seen[id.String()] = true
		if s.Persistent && c.Datastore.DataDir == "" {
			errs = append(errs, fmt.Errorf("shard %d: %s is persistent but datastore.dataDir is not set", i, id))
		}
	}
	return errors.Join(errs...)
}
