package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SourceLocal     = "local"
	SourceRemote    = "remote"
	SourceSimulated = "simulated"

	RendererImaging = "imaging"
	RendererVips    = "vips"
)

type Config struct {
	Port          int
	DataDir       string
	Source        string
	RemoteURL     string
	SimMinDelay   time.Duration
	SimMaxDelay   time.Duration
	PublicBaseURL string
	AllowedOrigin string

	CacheType      string
	CacheFileDir   string
	CacheNamespace string
	CacheMemoryMB  float64

	FetchWorkers int
	FetchTimeout time.Duration

	Renderer        string
	VipsMaxCacheMB  int
	VipsConcurrency int

	WarmupWidth   int
	WarmupHeight  int
	WarmupScale   float64
	WarmupWorkers int

	MemoryPressurePercent  float64
	MemoryPressureInterval time.Duration

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "/data")
	v.SetDefault("source", SourceLocal)
	v.SetDefault("remote_url", "")
	v.SetDefault("sim_min_delay", "0s")
	v.SetDefault("sim_max_delay", "0s")
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("allowed_origin", "")

	v.SetDefault("cache", "file")
	v.SetDefault("cache_file_dir", "")
	v.SetDefault("cache_namespace", "images")
	v.SetDefault("cache_memory_mb", 256)

	v.SetDefault("fetch_workers", 4)
	v.SetDefault("fetch_timeout", "30s")

	v.SetDefault("renderer", RendererImaging)
	v.SetDefault("vips_max_cache_mb", 256)
	v.SetDefault("vips_concurrency", 1)

	v.SetDefault("warmup_width", 0)
	v.SetDefault("warmup_height", 0)
	v.SetDefault("warmup_scale", 1.0)
	v.SetDefault("warmup_workers", 1)

	v.SetDefault("memory_pressure_percent", 0)
	v.SetDefault("memory_pressure_interval", "10s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load resolves the configuration from, in decreasing priority, changed
// flags, environment variables (DATA_DIR, CACHE, ...), the optional config
// file and the defaults. Flag names use dashes where keys use underscores.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		known := make(map[string]bool)
		for _, k := range v.AllKeys() {
			known[k] = true
		}

		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !known[key] {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	dataDir := v.GetString("data_dir")
	cacheFileDir := v.GetString("cache_file_dir")
	if cacheFileDir == "" {
		cacheFileDir = filepath.Join(dataDir, "cache")
	}

	cfg := &Config{
		Port:          v.GetInt("port"),
		DataDir:       dataDir,
		Source:        strings.ToLower(v.GetString("source")),
		RemoteURL:     v.GetString("remote_url"),
		SimMinDelay:   v.GetDuration("sim_min_delay"),
		SimMaxDelay:   v.GetDuration("sim_max_delay"),
		PublicBaseURL: strings.TrimRight(v.GetString("public_base_url"), "/"),
		AllowedOrigin: v.GetString("allowed_origin"),

		CacheType:      v.GetString("cache"),
		CacheFileDir:   cacheFileDir,
		CacheNamespace: v.GetString("cache_namespace"),
		CacheMemoryMB:  v.GetFloat64("cache_memory_mb"),

		FetchWorkers: v.GetInt("fetch_workers"),
		FetchTimeout: v.GetDuration("fetch_timeout"),

		Renderer:        strings.ToLower(v.GetString("renderer")),
		VipsMaxCacheMB:  v.GetInt("vips_max_cache_mb"),
		VipsConcurrency: v.GetInt("vips_concurrency"),

		WarmupWidth:   v.GetInt("warmup_width"),
		WarmupHeight:  v.GetInt("warmup_height"),
		WarmupScale:   v.GetFloat64("warmup_scale"),
		WarmupWorkers: v.GetInt("warmup_workers"),

		MemoryPressurePercent:  v.GetFloat64("memory_pressure_percent"),
		MemoryPressureInterval: v.GetDuration("memory_pressure_interval"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch c.Source {
	case SourceLocal, SourceSimulated:
		if c.DataDir == "" {
			return fmt.Errorf("source %s requires DATA_DIR", c.Source)
		}
	case SourceRemote:
		if c.RemoteURL == "" {
			return fmt.Errorf("source remote requires REMOTE_URL")
		}
	default:
		return fmt.Errorf("unknown source: %s (supported: local, remote, simulated)", c.Source)
	}

	switch c.Renderer {
	case RendererImaging, RendererVips:
	default:
		return fmt.Errorf("unknown renderer: %s (supported: imaging, vips)", c.Renderer)
	}

	if c.SimMinDelay < 0 || c.SimMaxDelay < c.SimMinDelay {
		return fmt.Errorf("simulated delay bounds must satisfy 0 <= SIM_MIN_DELAY <= SIM_MAX_DELAY")
	}
	if c.CacheMemoryMB < 0 {
		return fmt.Errorf("CACHE_MEMORY_MB must not be negative")
	}
	if c.MemoryPressurePercent < 0 || c.MemoryPressurePercent > 100 {
		return fmt.Errorf("MEMORY_PRESSURE_PERCENT must be between 0 and 100")
	}
	return nil
}

// WarmupEnabled reports whether a warmup size is configured
func (c *Config) WarmupEnabled() bool {
	return c.WarmupWidth > 0 || c.WarmupHeight > 0
}

// UsesVips reports whether local rendering goes through libvips
func (c *Config) UsesVips() bool {
	return c.Renderer == RendererVips && c.Source != SourceRemote
}
