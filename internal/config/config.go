// Package config loads odbctl settings from defaults, an optional YAML file,
// ODBCTL_* environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parr0tr1ver/gitoxide/internal/store"
	"github.com/parr0tr1ver/gitoxide/internal/watch"
)

const (
	// FileName is the config file looked up in the working directory when no
	// explicit path is given.
	FileName = "odbctl"
	// EnvPrefix prefixes every environment variable, e.g. ODBCTL_OBJECTS_DIR.
	EnvPrefix = "ODBCTL"
)

type (
	// Config is the complete odbctl configuration.
	Config struct {
		ObjectsDir  string        `mapstructure:"objects_dir"`
		RefreshMode string        `mapstructure:"refresh_mode"`
		Watch       WatchConfig   `mapstructure:"watch"`
		Log         LogConfig     `mapstructure:"log"`
		Metrics     MetricsConfig `mapstructure:"metrics"`
	}

	WatchConfig struct {
		Debounce time.Duration `mapstructure:"debounce"`
	}

	LogConfig struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	}

	MetricsConfig struct {
		// Addr is where `odbctl watch` serves /metrics. Empty disables it.
		Addr string `mapstructure:"addr"`
	}

	// LoadOptions tells Load where to look besides the defaults.
	LoadOptions struct {
		// ConfigFilePath is used exclusively when set and must exist.
		ConfigFilePath string
		// Flags are bound by name: the key watch.debounce binds --watch-debounce.
		Flags *pflag.FlagSet
	}
)

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() *Config {
	return &Config{
		ObjectsDir:  ".git/objects",
		RefreshMode: store.RefreshAfterAllIndicesLoaded.String(),
		Watch:       WatchConfig{Debounce: watch.DefaultDebounce},
		Log:         LogConfig{Level: "info"},
		Metrics:     MetricsConfig{Addr: ":9090"},
	}
}

// Load builds a Config and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("objects_dir", defaults.ObjectsDir)
	v.SetDefault("refresh_mode", defaults.RefreshMode)
	v.SetDefault("watch.debounce", defaults.Watch.Debounce)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.development", defaults.Log.Development)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFilePath != "" {
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", opts.ConfigFilePath)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	if opts.Flags != nil {
		flagName := strings.NewReplacer(".", "-", "_", "-")
		for _, key := range v.AllKeys() {
			if f := opts.Flags.Lookup(flagName.Replace(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag --%s", f.Name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that viper cannot type-check.
func (c *Config) Validate() error {
	if c.ObjectsDir == "" {
		return errors.New("objects_dir must not be empty")
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Watch.Debounce < 0 {
		return errors.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce)
	}
	return nil
}

// Mode parses RefreshMode.
func (c *Config) Mode() (store.RefreshMode, error) {
	return store.ParseRefreshMode(c.RefreshMode)
}

// Logger builds a production logger, or a development one if requested.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
