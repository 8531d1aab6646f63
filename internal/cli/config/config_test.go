package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray statlake.yaml is found.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "statlake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "catalog/datasets.yml", cfg.CatalogPath)
	assert.Equal(t, "catalog/lineage.json", cfg.LineagePath)
	assert.Equal(t, ".statlake/state.db", cfg.StatePath)
	assert.Equal(t, 10*time.Minute, cfg.LockTimeout)
	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, "logs", cfg.LogsDir)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.RetryBase())
	assert.Equal(t, "auto", cfg.OutputFormat)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoad_DiscoversFileInWorkingDir(t *testing.T) {
	dir := chdir(t)
	writeConfig(t, dir, "max_workers: 6\nmetrics_path: metrics/statlake.prom\n")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxWorkers)
	assert.Equal(t, "metrics/statlake.prom", cfg.MetricsPath)
	assert.Equal(t, "statlake.yaml", cfg.ConfigFile)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	chdir(t)
	_, err := Load("nope.yaml", nil)
	assert.ErrorContains(t, err, "nope.yaml")
}

func TestLoad_Precedence(t *testing.T) {
	dir := chdir(t)
	cfgPath := writeConfig(t, dir, "max_workers: 3\nlogs_dir: from_file\nlock_timeout: 1m\n")

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("STATLAKE_MAX_WORKERS", "5")
		t.Setenv("STATLAKE_LOCK_TIMEOUT", "30s")

		cfg, err := Load(cfgPath, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.MaxWorkers)
		assert.Equal(t, 30*time.Second, cfg.LockTimeout)
		assert.Equal(t, "from_file", cfg.LogsDir)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("STATLAKE_MAX_WORKERS", "5")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.Int("max-workers", 0, "")
		flags.String("state", "", "")
		flags.String("logs-dir", "", "")
		require.NoError(t, flags.Set("max-workers", "8"))
		require.NoError(t, flags.Set("state", "custom/state.db"))

		cfg, err := Load(cfgPath, flags)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.MaxWorkers)
		assert.Equal(t, "custom/state.db", cfg.StatePath)
		// Unset flags fall through to lower layers.
		assert.Equal(t, "from_file", cfg.LogsDir)
	})

	t.Run("unrelated flags are ignored", func(t *testing.T) {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("years", "", "")
		require.NoError(t, flags.Set("years", "2020-2021"))

		_, err := Load(cfgPath, flags)
		require.NoError(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{MaxWorkers: 1, RetryAttempts: 1, LockTimeout: time.Second, OutputFormat: "json", LogFormat: "text"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"workers", func(c *Config) { c.MaxWorkers = 0 }, "max_workers"},
		{"attempts", func(c *Config) { c.RetryAttempts = 0 }, "retry_attempts"},
		{"base", func(c *Config) { c.RetryBaseSeconds = -1 }, "retry_base_seconds"},
		{"timeout", func(c *Config) { c.LockTimeout = 0 }, "lock_timeout"},
		{"output", func(c *Config) { c.OutputFormat = "markdown" }, "output format"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	var buf bytes.Buffer
	NewLogger(&buf, "auto", false, false).Info("hello", "dataset", "weekly")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger := NewLogger(&buf, "auto", false, true)
	logger.Debug("hidden")
	logger.Info("shown", "dataset", "weekly")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "dataset=weekly")

	buf.Reset()
	NewLogger(&buf, "text", true, false).Debug("debugging")
	assert.Contains(t, buf.String(), "debugging")

	t.Setenv(LogLevelEnvVar, "error")
	buf.Reset()
	NewLogger(&buf, "json", true, false).Warn("quiet")
	assert.Empty(t, buf.String())
}

func TestContextHelpers(t *testing.T) {
	chdir(t)
	ctx := context.Background()
	assert.NotNil(t, GetLogger(ctx))

	cfg := &Config{MaxWorkers: 9}
	assert.Same(t, cfg, GetConfig(WithConfig(ctx, cfg)))
	assert.Equal(t, DefaultMaxWorkers, GetConfig(ctx).MaxWorkers)
}
