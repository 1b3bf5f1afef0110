package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultExcludes are never backed up or counted toward size estimates.
// Patterns are matched by the external tools (rsync/du), not by fsbk itself.
var DefaultExcludes = []string{
	"/proc/*",
	"/sys/*",
	"/dev/*",
	"/run/*",
	"/tmp/*",
	"/var/tmp/*",
	"/lost+found",
	"*/.cache/*",
	"*/.local/share/Trash/*",
}

type Tools struct {
	Rsync string `yaml:"rsync,omitempty"`
	Tar   string `yaml:"tar,omitempty"`
	Gzip  string `yaml:"gzip,omitempty"`
	Gpg   string `yaml:"gpg,omitempty"`
	Du    string `yaml:"du,omitempty"`
}

type RemoteConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	StorageClass string `yaml:"storage_class"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

type Config struct {
	BaseDir  string       `yaml:"base_dir"`
	Excludes []string     `yaml:"excludes,omitempty"`
	Tools    Tools        `yaml:"tools,omitempty"`
	Remote   RemoteConfig `yaml:"remote,omitempty"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a usable configuration when no config file exists,
// so the CLI works out of the box for purely local backups.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &Config{BaseDir: filepath.Join(home, ".local", "share", "fsbk")}
}

func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.Remote.Enabled {
		if c.Remote.Bucket == "" {
			return fmt.Errorf("remote.bucket is required when remote is enabled")
		}
		if c.Remote.Region == "" {
			return fmt.Errorf("remote.region is required when remote is enabled")
		}
	}
	return nil
}

// AllExcludes combines the fixed denylist with configured extras.
func (c *Config) AllExcludes() []string {
	out := make([]string, 0, len(DefaultExcludes)+len(c.Excludes))
	out = append(out, DefaultExcludes...)
	out = append(out, c.Excludes...)
	return out
}

func (c *Config) RemoteRetryAttempts() int {
	if c.Remote.Retry.MaxAttempts > 0 {
		return c.Remote.Retry.MaxAttempts
	}
	return 3
}

func (t Tools) RsyncBin() string { return orDefault(t.Rsync, "rsync") }
func (t Tools) TarBin() string   { return orDefault(t.Tar, "tar") }
func (t Tools) GzipBin() string  { return orDefault(t.Gzip, "gzip") }
func (t Tools) GpgBin() string   { return orDefault(t.Gpg, "gpg") }
func (t Tools) DuBin() string    { return orDefault(t.Du, "du") }

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func (c *Config) RunDir() string { return filepath.Join(c.BaseDir, "run") }
func (c *Config) LogDir() string { return filepath.Join(c.BaseDir, "logs") }
