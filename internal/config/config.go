package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// REPORTMASTER_THREADING_MAX_GAP=48h.
const EnvPrefix = "REPORTMASTER"

// Config holds application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	DB         DBConfig         `mapstructure:"db" yaml:"db"`
	Paths      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	Threading  ThreadingConfig  `mapstructure:"threading" yaml:"threading"`
	Jobs       JobsConfig       `mapstructure:"jobs" yaml:"jobs"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	// Work is where uploaded files are kept while a job runs.
	Work string `mapstructure:"work" yaml:"work"`
}

// ThreadingConfig controls the thread builder.
type ThreadingConfig struct {
	MaxGap time.Duration `mapstructure:"max_gap" yaml:"max_gap"`
	Bridge bool          `mapstructure:"bridge" yaml:"bridge"`
}

// JobsConfig bounds job execution.
type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MaxFiles      int `mapstructure:"max_files" yaml:"max_files"`
	ParseWorkers  int `mapstructure:"parse_workers" yaml:"parse_workers"`
}

// ClassifierConfig selects and tunes the thread classifier.
type ClassifierConfig struct {
	// Kind is "subject" (offline) or "anthropic".
	Kind        string `mapstructure:"kind" yaml:"kind"`
	APIKey      string `mapstructure:"api_key" yaml:"-"`
	Model       string `mapstructure:"model" yaml:"model"`
	MaxTokens   int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DataDir returns ~/.reportmaster, falling back to the working directory.
func DataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".reportmaster")
}

// DefaultConfigPath returns the config file read when no --config is given.
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("db.path", filepath.Join(dataDir, "reportmaster.db"))
	v.SetDefault("paths.work", filepath.Join(dataDir, "work"))
	v.SetDefault("threading.max_gap", "168h")
	v.SetDefault("threading.bridge", false)
	v.SetDefault("jobs.max_concurrent", 5)
	v.SetDefault("jobs.max_files", 50)
	v.SetDefault("jobs.parse_workers", 8)
	v.SetDefault("classifier.kind", "subject")
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("classifier.max_tokens", 64)
	v.SetDefault("classifier.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns default configuration
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from a YAML file, then applies environment
// overrides. An empty path means DefaultConfigPath; a missing default file
// is not an error, a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("classifier.api_key", EnvPrefix+"_CLASSIFIER_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding api key env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &pathErr) || errors.As(err, &notFound)
		if !missing || explicit {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Threading.MaxGap <= 0 {
		return fmt.Errorf("threading.max_gap must be positive, got %s", c.Threading.MaxGap)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.MaxFiles < 1 {
		return fmt.Errorf("jobs.max_files must be at least 1, got %d", c.Jobs.MaxFiles)
	}
	switch c.Classifier.Kind {
	case "subject", "anthropic":
	default:
		return fmt.Errorf("classifier.kind must be subject or anthropic, got %q", c.Classifier.Kind)
	}
	return nil
}

// Address returns the full server address
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// URL returns the full server URL
func (c *Config) URL() string {
	return "http://" + c.Address()
}
