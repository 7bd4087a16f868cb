package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/optimizer"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Directory   string          `mapstructure:"directory"`
	Format      string          `mapstructure:"format"`
	TargetSize  int64           `mapstructure:"target_size"`
	DeleteAfter bool            `mapstructure:"delete_after"`
	Discovery   DiscoveryConfig `mapstructure:"discovery"`
	Web         WebConfig       `mapstructure:"web"`
	Logging     LoggingConfig   `mapstructure:"logging"`

	// formatSet records whether Format came from a config file, the
	// environment or a flag, so that an empty value is not prompted for.
	formatSet bool
}

// DiscoveryConfig controls which files a run picks up
type DiscoveryConfig struct {
	Extensions    []string `mapstructure:"extensions"`
	ExcludeDirs   []string `mapstructure:"exclude_dirs"`
	SkipOptimized bool     `mapstructure:"skip_optimized"`
}

// WebConfig contains web server settings
type WebConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		TargetSize:  optimizer.DefaultTargetSize,
		DeleteAfter: false,
		Discovery: DiscoveryConfig{
			Extensions:    []string{".jpg", ".jpeg", ".png", ".gif"},
			ExcludeDirs:   []string{"node_modules"},
			SkipOptimized: false,
		},
		Web: WebConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-optimizer.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Console:    false,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-optimizer")
		v.AddConfigPath("/etc/image-optimizer")
	}

	v.SetEnvPrefix("IMAGE_OPTIMIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{"directory", "format", "target_size", "delete_after", "discovery.skip_optimized", "web.port", "logging.level", "logging.file_path", "logging.console"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.formatSet = v.IsSet("format")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	if _, err := codec.ParseTarget(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}

	if c.TargetSize == 0 {
		c.TargetSize = optimizer.DefaultTargetSize
	}
	if c.TargetSize < 0 {
		return fmt.Errorf("target_size must be positive, got %d", c.TargetSize)
	}

	c.Discovery.Extensions = normalizeExtensions(c.Discovery.Extensions)
	if len(c.Discovery.Extensions) == 0 {
		return fmt.Errorf("discovery.extensions must not be empty")
	}
	for _, ext := range c.Discovery.Extensions {
		if _, err := codec.ParseFormat(ext); err != nil {
			return fmt.Errorf("invalid discovery extension: %w", err)
		}
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web.port: %d", c.Web.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// SetFormat overrides the desired format, marking it as explicitly chosen
// even when empty.
func (c *Config) SetFormat(format string) {
	c.Format = format
	c.formatSet = true
}

// FormatSet reports whether the desired format was chosen explicitly.
func (c *Config) FormatSet() bool {
	return c.formatSet
}

// Target returns the desired output format.
func (c *Config) Target() (codec.Target, error) {
	return codec.ParseTarget(c.Format)
}

// ResolveDirectory expands and absolutizes Directory in place.
func (c *Config) ResolveDirectory() error {
	if c.Directory == "" {
		return fmt.Errorf("directory is required")
	}
	abs, err := filepath.Abs(expandPath(c.Directory))
	if err != nil {
		return fmt.Errorf("resolve directory %s: %w", c.Directory, err)
	}
	c.Directory = abs
	return nil
}

// Helper functions

func expandPath(path string) string {
	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expandedPath = filepath.Join(home, expandedPath[1:])
		}
	}
	return expandedPath
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}
