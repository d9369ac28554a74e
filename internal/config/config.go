// Package config provides configuration management for meread using Viper
// for loading from files, environment variables, and command-line flags.
//
// Values are read from .meread.yml (or the file given by --config /
// MEREAD_CONFIG_FILE), overridden by MEREAD_<SECTION>_<OPTION> environment
// variables, and finally by flags bound in the cmd package.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/renderer"
	"github.com/spf13/viper"
)

// ReadmeName is the document served when the path argument is a directory.
const ReadmeName = "README.md"

type Config struct {
	Path    string        `mapstructure:"path" yaml:"path"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Reload  ReloadConfig  `mapstructure:"reload" yaml:"reload"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address" yaml:"address"`
	Open           bool   `mapstructure:"open" yaml:"open"`
	MaxInjectBytes int64  `mapstructure:"max_inject_bytes" yaml:"max_inject_bytes"`
}

type RenderConfig struct {
	Theme     string `mapstructure:"theme" yaml:"theme"`
	Title     string `mapstructure:"title" yaml:"title"`
	Highlight bool   `mapstructure:"highlight" yaml:"highlight"`
	Sanitize  bool   `mapstructure:"sanitize" yaml:"sanitize"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type ReloadConfig struct {
	Retry     time.Duration `mapstructure:"retry" yaml:"retry"`
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	Backlog   int           `mapstructure:"backlog" yaml:"backlog"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type ExportConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Force bool   `mapstructure:"force" yaml:"force"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("path", ".")
	v.SetDefault("server.address", "localhost:3000")
	v.SetDefault("server.open", false)
	v.SetDefault("server.max_inject_bytes", int64(32<<20))
	v.SetDefault("render.theme", string(renderer.ThemeDark))
	v.SetDefault("render.highlight", true)
	v.SetDefault("render.sanitize", false)
	v.SetDefault("watch.debounce", 250*time.Millisecond)
	v.SetDefault("reload.retry", 250*time.Millisecond)
	v.SetDefault("reload.keep_alive", time.Second)
	v.SetDefault("reload.backlog", 100)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError("failed to decode configuration", err)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}

	return &config, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path must not be empty")
	}

	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("server address %q: %w", c.Server.Address, err)
	}

	if c.Server.MaxInjectBytes <= 0 {
		return fmt.Errorf("server max_inject_bytes must be positive, got %d", c.Server.MaxInjectBytes)
	}

	if _, err := renderer.ParseTheme(c.Render.Theme); err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch debounce must be positive, got %s", c.Watch.Debounce)
	}

	if c.Reload.Retry <= 0 || c.Reload.KeepAlive <= 0 {
		return fmt.Errorf("reload retry and keep_alive must be positive")
	}

	if c.Reload.Backlog < 1 {
		return fmt.Errorf("reload backlog must be at least 1, got %d", c.Reload.Backlog)
	}

	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// Theme returns the parsed render theme.
func (c *Config) Theme() renderer.Theme {
	theme, err := renderer.ParseTheme(c.Render.Theme)
	if err != nil {
		return renderer.ThemeDark
	}
	return theme
}

// WatchRoot is the directory observed for changes.
func (c *Config) WatchRoot() string {
	if info, err := os.Stat(c.Path); err == nil && info.IsDir() {
		return c.Path
	}
	return filepath.Dir(c.Path)
}

// DocumentPath resolves the markdown file to serve: the path itself, or its
// README.md when the path is a directory.
func (c *Config) DocumentPath() string {
	if info, err := os.Stat(c.Path); err == nil && info.IsDir() {
		return filepath.Join(c.Path, ReadmeName)
	}
	return c.Path
}
