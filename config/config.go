// Package config loads taskprep settings from defaults, an optional
// taskprep.yaml file, TASKPREP_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full taskprep configuration.
type Config struct {
	// Dataset is the identifier to load: a local directory, a hub dataset
	// repository, or "repo:config".
	Dataset   string          `mapstructure:"dataset" yaml:"dataset"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer" yaml:"tokenizer"`
	MaxLength int             `mapstructure:"max_length" yaml:"max_length"`
	BatchSize int             `mapstructure:"batch_size" yaml:"batch_size"`
	NumProc   int             `mapstructure:"num_proc" yaml:"num_proc"`
	Fallback  FallbackConfig  `mapstructure:"fallback" yaml:"fallback"`
	Hub       HubConfig       `mapstructure:"hub" yaml:"hub"`
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
}

// TokenizerConfig selects the tokenizer. Vocab, a local vocab.txt, takes
// precedence over Model, a hub model id.
type TokenizerConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	Vocab     string `mapstructure:"vocab" yaml:"vocab"`
	Lowercase bool   `mapstructure:"lowercase" yaml:"lowercase"`
}

// FallbackConfig is the alternate naming rule tried when a dataset cannot be
// loaded under its given identifier.
type FallbackConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Repo   string `mapstructure:"repo" yaml:"repo"`
}

// HubConfig configures Hugging Face hub access. Token may reference an
// environment variable as ${NAME}.
type HubConfig struct {
	Token    string `mapstructure:"token" yaml:"token"`
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
	Retries  uint   `mapstructure:"retries" yaml:"retries"`
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Tokenizer: TokenizerConfig{
			Model:     "google-bert/bert-base-uncased",
			Lowercase: true,
		},
		MaxLength: 128,
		BatchSize: 1000,
		NumProc:   runtime.NumCPU(),
		Fallback: FallbackConfig{
			Prefix: "glue/",
			Repo:   "nyu-mll/glue",
		},
		Hub: HubConfig{
			Token:   "${HF_TOKEN}",
			Retries: 3,
		},
		LogLevel: "info",
	}
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"dataset":    "dataset",
	"tokenizer":  "tokenizer.model",
	"vocab":      "tokenizer.vocab",
	"lowercase":  "tokenizer.lowercase",
	"max-length": "max_length",
	"batch-size": "batch_size",
	"num-proc":   "num_proc",
	"cache-dir":  "hub.cache_dir",
	"offline":    "hub.disabled",
	"log-level":  "log_level",
}

// Manager loads the configuration into its own viper instance.
type Manager struct {
	v      *viper.Viper
	config *Config
}

// NewManager reads cfgFile, or taskprep.yaml from the working directory or
// $HOME/.taskprep when cfgFile is empty. A missing default file is not an
// error. flags, when non-nil, override every other source for the flags the
// user set.
func NewManager(cfgFile string, flags *pflag.FlagSet) (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.initViper(cfgFile, flags); err != nil {
		return nil, err
	}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

func (m *Manager) initViper(cfgFile string, flags *pflag.FlagSet) error {
	v := m.v
	d := DefaultConfig()
	v.SetDefault("dataset", d.Dataset)
	v.SetDefault("tokenizer.model", d.Tokenizer.Model)
	v.SetDefault("tokenizer.vocab", d.Tokenizer.Vocab)
	v.SetDefault("tokenizer.lowercase", d.Tokenizer.Lowercase)
	v.SetDefault("max_length", d.MaxLength)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("num_proc", d.NumProc)
	v.SetDefault("fallback.prefix", d.Fallback.Prefix)
	v.SetDefault("fallback.repo", d.Fallback.Repo)
	v.SetDefault("hub.token", d.Hub.Token)
	v.SetDefault("hub.cache_dir", d.Hub.CacheDir)
	v.SetDefault("hub.retries", d.Hub.Retries)
	v.SetDefault("hub.disabled", d.Hub.Disabled)
	v.SetDefault("log_level", d.LogLevel)

	// TASKPREP_MAX_LENGTH, TASKPREP_HUB_TOKEN, ...
	v.SetEnvPrefix("TASKPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("taskprep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.taskprep")
	}
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}
	return nil
}

func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the loaded configuration.
func (m *Manager) Get() *Config {
	return m.config
}

// ConfigFileUsed returns the config file that was read, if any.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxLength < 1 {
		return fmt.Errorf("max_length must be positive, got %d", c.MaxLength)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.NumProc < 1 {
		return fmt.Errorf("num_proc must be positive, got %d", c.NumProc)
	}
	if c.Tokenizer.Model == "" && c.Tokenizer.Vocab == "" {
		return errors.New("either tokenizer.model or tokenizer.vocab must be set")
	}
	return nil
}

// HubToken returns the hub token with environment references resolved.
func (c *Config) HubToken() string {
	return ResolveEnvVars(c.Hub.Token)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte(`# taskprep configuration
# hub.token uses ${ENV_VAR} syntax to reference an environment variable.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
