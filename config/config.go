// Package config loads the YAML settings shared by the tct commands.
package config

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/log"
	"gopkg.in/yaml.v2"
)

// Config is the on-disk configuration. Command line flags override individual fields.
type Config struct {
	// DataDir holds the LevelDB event log. Empty keeps the ledger in memory.
	DataDir string `yaml:"data_dir"`
	// Hasher is "mimc", "blake2b" or "blake3". It cannot change once a ledger has events.
	Hasher       string `yaml:"hasher"`
	LogLevel     string `yaml:"log_level"`
	DebugModules string `yaml:"debug_modules"`
	// OTLPEndpoint is a host:port receiving OTLP/HTTP traces. Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

func Default() Config {
	return Config{
		DataDir:  "tct-data",
		Hasher:   digest.MiMCName,
		LogLevel: "info",
	}
}

// Load reads the file at path over the defaults. Fields missing from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the hasher and log level names.
func (c Config) Validate() error {
	if _, err := digest.ByName(c.Hasher); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
