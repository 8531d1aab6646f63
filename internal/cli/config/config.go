// Package config loads statlake CLI configuration.
//
// Values are layered with koanf. Precedence (highest to lowest):
// flags > STATLAKE_* environment variables > statlake.yaml > defaults.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/lineage"
	"github.com/leapstack-labs/statlake/internal/lock"
	"github.com/leapstack-labs/statlake/internal/state"
)

// EnvPrefix is the prefix of environment overrides (STATLAKE_MAX_WORKERS).
const EnvPrefix = "STATLAKE_"

// Default configuration values.
const (
	DefaultMaxWorkers       = 2
	DefaultLogsDir          = "logs"
	DefaultRetryAttempts    = 3
	DefaultRetryBaseSeconds = 5
	DefaultOutput           = "auto" // Auto-detect: TTY=text, non-TTY=json
	DefaultLogFormat        = "auto"
)

// configFiles are searched in the working directory when no file is given.
var configFiles = []string{"statlake.yaml", "statlake.yml"}

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"catalog": "catalog_path",
	"lineage": "lineage_path",
	"state":   "state_path",
	"lock":    "lock_path",
}

// Config holds all CLI configuration options.
type Config struct {
	CatalogPath      string        `koanf:"catalog_path"`
	LineagePath      string        `koanf:"lineage_path"`
	StatePath        string        `koanf:"state_path"`
	LockPath         string        `koanf:"lock_path"` // empty means <root>/.lake.lock
	LockTimeout      time.Duration `koanf:"lock_timeout"`
	MaxWorkers       int           `koanf:"max_workers"`
	LogsDir          string        `koanf:"logs_dir"`
	MetricsPath      string        `koanf:"metrics_path"`
	MaterializeDir   string        `koanf:"materialize_dir"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	RetryBaseSeconds float64       `koanf:"retry_base_seconds"`
	Verbose          bool          `koanf:"verbose"`
	LogFormat        string        `koanf:"log_format"`
	OutputFormat     string        `koanf:"output"`

	// ConfigFile is the file that was loaded, empty when none was found.
	ConfigFile string `koanf:"-"`
}

// Defaults returns the default configuration as a flat map.
func Defaults() map[string]any {
	return map[string]any{
		"catalog_path":       catalog.DefaultPath,
		"lineage_path":       lineage.DefaultPath,
		"state_path":         state.DefaultPath,
		"lock_path":          "",
		"lock_timeout":       lock.DefaultTimeout.String(),
		"max_workers":        DefaultMaxWorkers,
		"logs_dir":           DefaultLogsDir,
		"metrics_path":       "",
		"materialize_dir":    "",
		"retry_attempts":     DefaultRetryAttempts,
		"retry_base_seconds": DefaultRetryBaseSeconds,
		"verbose":            false,
		"log_format":         DefaultLogFormat,
		"output":             DefaultOutput,
	}
}

// findConfigFile returns the explicit file or the first default file present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads configuration from defaults, the config file, the environment
// and explicitly set flags. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// STATLAKE_MAX_WORKERS -> max_workers
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[f.Name]; ok {
				key = mapped
			}
			if _, known := Defaults()[key]; !known {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = used

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.MaxWorkers < 1 {
		problems = append(problems, "max_workers must be at least 1")
	}
	if c.RetryAttempts < 1 {
		problems = append(problems, "retry_attempts must be at least 1")
	}
	if c.RetryBaseSeconds < 0 {
		problems = append(problems, "retry_base_seconds must not be negative")
	}
	if c.LockTimeout <= 0 {
		problems = append(problems, "lock_timeout must be positive")
	}
	switch c.OutputFormat {
	case "", "auto", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown output format %q (want auto, text or json)", c.OutputFormat))
	}
	switch c.LogFormat {
	case "", "auto", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q (want auto, text or json)", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RetryBase returns the retry base delay as a duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds * float64(time.Second))
}

// LogLevelEnvVar overrides the log level (debug, info, warn, error).
const LogLevelEnvVar = "LOG_LEVEL"

// NewLogger builds the process logger. Text is used on a terminal and JSON
// otherwise, unless format forces one. Verbose selects debug level; the
// LOG_LEVEL environment variable wins over both.
func NewLogger(w io.Writer, format string, verbose, isTTY bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if v := os.Getenv(LogLevelEnvVar); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err == nil {
			level = l
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" || (format != "text" && !isTTY) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loggerKey and configKey store values in a command context.
type (
	loggerKey struct{}
	configKey struct{}
)

// WithLogger returns ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context, loading
// defaults when none was stored.
func GetConfig(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	cfg, err := Load("", nil)
	if err != nil {
		cfg = &Config{}
	}
	return cfg
}
