package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads; viper treats empty values as unset
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATA_DIR", "SOURCE", "REMOTE_URL", "SIM_MIN_DELAY", "SIM_MAX_DELAY",
		"PUBLIC_BASE_URL", "ALLOWED_ORIGIN", "CACHE", "CACHE_FILE_DIR", "CACHE_NAMESPACE",
		"CACHE_MEMORY_MB", "FETCH_WORKERS", "FETCH_TIMEOUT", "RENDERER", "VIPS_MAX_CACHE_MB",
		"VIPS_CONCURRENCY", "WARMUP_WIDTH", "WARMUP_HEIGHT", "WARMUP_SCALE", "WARMUP_WORKERS",
		"MEMORY_PRESSURE_PERCENT", "MEMORY_PRESSURE_INTERVAL", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	a := assert.New(t)
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	a.Equal(8080, cfg.Port)
	a.Equal("/data", cfg.DataDir)
	a.Equal(SourceLocal, cfg.Source)
	a.Equal("file", cfg.CacheType)
	a.Equal(filepath.Join("/data", "cache"), cfg.CacheFileDir)
	a.Equal(256.0, cfg.CacheMemoryMB)
	a.Equal(4, cfg.FetchWorkers)
	a.Equal(30*time.Second, cfg.FetchTimeout)
	a.Equal(RendererImaging, cfg.Renderer)
	a.Equal("info", cfg.LogLevel)
	a.False(cfg.WarmupEnabled())
	a.NoError(cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	a := assert.New(t)
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/images")
	t.Setenv("SOURCE", "Simulated")
	t.Setenv("SIM_MIN_DELAY", "10ms")
	t.Setenv("SIM_MAX_DELAY", "250ms")
	t.Setenv("CACHE_MEMORY_MB", "64.5")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("WARMUP_WIDTH", "120")
	t.Setenv("PUBLIC_BASE_URL", "https://pics.example.com/")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	a.Equal("/srv/images", cfg.DataDir)
	a.Equal(filepath.Join("/srv/images", "cache"), cfg.CacheFileDir)
	a.Equal(SourceSimulated, cfg.Source)
	a.Equal(10*time.Millisecond, cfg.SimMinDelay)
	a.Equal(250*time.Millisecond, cfg.SimMaxDelay)
	a.Equal(64.5, cfg.CacheMemoryMB)
	a.Equal(5*time.Second, cfg.FetchTimeout)
	a.Equal("https://pics.example.com", cfg.PublicBaseURL)
	a.True(cfg.WarmupEnabled())
	a.NoError(cfg.Validate())
}

func TestLoad_ConfigFileAndFlags(t *testing.T) {
	a := assert.New(t)
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "picdeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\ndata_dir: /from/file\ncache: disabled\n"), 0644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("data-dir", "", "")
	flags.Bool("unrelated", false, "")
	require.NoError(t, flags.Parse([]string{"--data-dir", "/from/flag"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	a.Equal(9000, cfg.Port, "unchanged flag must not override the file")
	a.Equal("/from/flag", cfg.DataDir)
	a.Equal("disabled", cfg.CacheType)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	valid := func() *Config {
		cfg, err := Load("", nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"BadPort", func(c *Config) { c.Port = 0 }},
		{"UnknownSource", func(c *Config) { c.Source = "ftp" }},
		{"RemoteWithoutURL", func(c *Config) { c.Source = SourceRemote }},
		{"UnknownRenderer", func(c *Config) { c.Renderer = "magick" }},
		{"InvertedDelays", func(c *Config) { c.SimMinDelay = time.Second }},
		{"NegativeBudget", func(c *Config) { c.CacheMemoryMB = -1 }},
		{"PressureOver100", func(c *Config) { c.MemoryPressurePercent = 150 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	cfg.Source = SourceRemote
	cfg.RemoteURL = "http://upstream:8080"
	cfg.Renderer = RendererVips
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesVips())
}
