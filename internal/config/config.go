// Package config loads the netfuse configuration file.
//
// Everything in the file is tuning: the graph itself lives in the store, and
// a missing config file just means defaults. Identity assertions (aliases)
// are the one exception, they are operator knowledge the store cannot derive.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Ingest     IngestConfig     `yaml:"ingest"`
	HTTP       HTTPConfig       `yaml:"http"`
	Collectors CollectorsConfig `yaml:"collectors"`

	// Aliases are identity assertions: each group lists identifiers (MAC,
	// IP or dump source name) the operator knows to be one machine.
	Aliases [][]string `yaml:"aliases,omitempty"`
}

// StoreConfig locates the graph store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// FusionConfig tunes the fusion engine.
type FusionConfig struct {
	StalenessWindow     Duration `yaml:"staleness_window"`
	SweepInterval       Duration `yaml:"sweep_interval"`
	AdjacencyConfidence float64  `yaml:"adjacency_confidence"`
	RouteConfidence     float64  `yaml:"route_confidence"`
}

// IngestConfig tunes batch application.
type IngestConfig struct {
	TxTimeout     Duration `yaml:"tx_timeout"`
	RetryAttempts uint64   `yaml:"retry_attempts"`
	RetryInterval Duration `yaml:"retry_interval"`
	Workers       int      `yaml:"workers"`
	Queue         int      `yaml:"queue"`
}

// HTTPConfig configures serve mode.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// SpoolDir is watched for dropped dump files; empty disables the
	// watcher.
	SpoolDir string `yaml:"spool_dir,omitempty"`
}

// CollectorsConfig configures the evidence collectors.
type CollectorsConfig struct {
	Nmap NmapConfig `yaml:"nmap"`
	SSH  SSHConfig  `yaml:"ssh"`
}

// NmapConfig configures the ARP sweep collector.
type NmapConfig struct {
	Targets []string `yaml:"targets,omitempty"`
	Timeout Duration `yaml:"timeout"`
	// Interval is how often serve mode reruns the sweep.
	Interval Duration `yaml:"interval"`
}

// SSHConfig configures the remote dump collector.
type SSHConfig struct {
	User    string   `yaml:"user,omitempty"`
	KeyFile string   `yaml:"key_file,omitempty"`
	Hosts   []string `yaml:"hosts,omitempty"`
	Timeout Duration `yaml:"timeout"`
	// Interval is how often serve mode reruns the probe.
	Interval Duration `yaml:"interval"`
}

// Duration wraps time.Duration with YAML string syntax ("72h", "200ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// AsDuration returns the wrapped time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, path, nil
}

// DefaultConfig returns the defaults used when no config file exists
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "./netfuse.db"
	}
	if c.Fusion.StalenessWindow <= 0 {
		c.Fusion.StalenessWindow = Duration(72 * time.Hour)
	}
	if c.Fusion.SweepInterval <= 0 {
		c.Fusion.SweepInterval = Duration(time.Hour)
	}
	if c.Fusion.AdjacencyConfidence <= 0 {
		c.Fusion.AdjacencyConfidence = 0.5
	}
	if c.Fusion.RouteConfidence <= 0 {
		c.Fusion.RouteConfidence = 0.35
	}
	if c.Ingest.TxTimeout <= 0 {
		c.Ingest.TxTimeout = Duration(5 * time.Second)
	}
	if c.Ingest.RetryAttempts == 0 {
		c.Ingest.RetryAttempts = 4
	}
	if c.Ingest.RetryInterval <= 0 {
		c.Ingest.RetryInterval = Duration(200 * time.Millisecond)
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 2
	}
	if c.Ingest.Queue <= 0 {
		c.Ingest.Queue = 32
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Collectors.Nmap.Timeout <= 0 {
		c.Collectors.Nmap.Timeout = Duration(2 * time.Minute)
	}
	if c.Collectors.Nmap.Interval <= 0 {
		c.Collectors.Nmap.Interval = Duration(30 * time.Minute)
	}
	if c.Collectors.SSH.Timeout <= 0 {
		c.Collectors.SSH.Timeout = Duration(15 * time.Second)
	}
	if c.Collectors.SSH.Interval <= 0 {
		c.Collectors.SSH.Interval = Duration(30 * time.Minute)
	}
}
