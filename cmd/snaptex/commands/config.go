package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snaptexdev/snaptex/internal/render"
)

const (
	DefaultPort       = 7480
	DefaultDaemonHost = "http://localhost"
	Version           = "1.0.0"
)

// Config holds the snaptex configuration.
type Config struct {
	Port     int    `json:"port"`
	BaseDir  string `json:"base_dir"`
	APIToken string `json:"api_token"`
	Host     string `json:"host"`

	// Soft resource ceilings for one render job. Clamped down to the
	// host's hard rlimits at execution time, never widened.
	CPULimitSeconds  int   `json:"cpu_limit_seconds"`
	MemoryLimitBytes int64 `json:"memory_limit_bytes"`

	// AllowUnsandboxed enables the degraded in-process mode on hosts
	// without OS resource limits. Off by default.
	AllowUnsandboxed bool `json:"allow_unsandboxed"`

	// PoolSize bounds concurrent in-process render jobs (degraded mode).
	PoolSize int64 `json:"pool_size"`

	// RateLimitPerMin caps render admissions per tenant scope. 0 = off.
	RateLimitPerMin float64 `json:"rate_limit_per_min"`

	// Cache eviction policy for `snaptex cache purge`. Zero disables
	// the respective bound.
	CacheMaxAgeHours int   `json:"cache_max_age_hours"`
	CacheMaxBytes    int64 `json:"cache_max_bytes"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Port:             DefaultPort,
		BaseDir:          filepath.Join(home, ".snaptex"),
		Host:             DefaultDaemonHost,
		CPULimitSeconds:  render.DefaultCPUSeconds,
		MemoryLimitBytes: render.DefaultMemoryBytes,
	}
}

func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".snaptex", "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(ConfigPath()), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0600)
}

func DaemonURL(cfg *Config) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

func PIDFile(cfg *Config) string {
	return filepath.Join(cfg.BaseDir, "daemon.pid")
}

// serviceConfig maps the CLI configuration onto the render service.
func serviceConfig(cfg *Config) render.Config {
	return render.Config{
		BaseDir:          cfg.BaseDir,
		CPUSeconds:       cfg.CPULimitSeconds,
		MemoryBytes:      cfg.MemoryLimitBytes,
		AllowUnsandboxed: cfg.AllowUnsandboxed,
		PoolSize:         cfg.PoolSize,
		RatePerMinute:    cfg.RateLimitPerMin,
	}
}
