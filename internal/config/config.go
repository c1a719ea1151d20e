package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rohankatakam/crisk-verify/internal/recovery"
	"github.com/rohankatakam/crisk-verify/internal/verification"
)

// EnvPrefix prefixes every environment override, e.g. CRISK_ORCHESTRATOR_MAX_CONCURRENCY
const EnvPrefix = "CRISK"

// Config holds all configuration settings
type Config struct {
	Orchestrator OrchestratorConfig      `yaml:"orchestrator" mapstructure:"orchestrator"`
	Cache        CacheConfig             `yaml:"cache" mapstructure:"cache"`
	Verification verification.StepLimits `yaml:"verification" mapstructure:"verification"`
	Recovery     RecoveryConfig          `yaml:"recovery" mapstructure:"recovery"`
	Logging      LoggingConfig           `yaml:"logging" mapstructure:"logging"`
}

type OrchestratorConfig struct {
	MaxConcurrency       int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	CacheTTL             time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	ShutdownPollInterval time.Duration `yaml:"shutdown_poll_interval" mapstructure:"shutdown_poll_interval"`
	SweepInterval        time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	WorkflowRetention    time.Duration `yaml:"workflow_retention" mapstructure:"workflow_retention"`
	LatencyTarget        time.Duration `yaml:"latency_target" mapstructure:"latency_target"`
}

// CacheConfig configures the optional Redis tier; an empty RedisAddr keeps
// the cache process-local
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	KeyPrefix     string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

type RecoveryConfig struct {
	recovery.EngineConfig `yaml:",inline" mapstructure:",squash"`
	ArchivePath           string `yaml:"archive_path" mapstructure:"archive_path"` // empty disables the archive
	ArchiveMaxRetries     int    `yaml:"archive_max_retries" mapstructure:"archive_max_retries"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrency:       3,
			CacheTTL:             15 * time.Minute,
			ShutdownTimeout:      30 * time.Second,
			ShutdownPollInterval: 100 * time.Millisecond,
			SweepInterval:        60 * time.Second,
			WorkflowRetention:    24 * time.Hour,
			LatencyTarget:        time.Second,
		},
		Cache: CacheConfig{
			KeyPrefix: "crisk:verify",
		},
		Verification: verification.DefaultStepLimits(),
		Recovery: RecoveryConfig{
			EngineConfig:      recovery.DefaultEngineConfig(),
			ArchiveMaxRetries: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// settings flattens c into dotted viper keys. Durations are written as
// strings so saved files stay readable.
func (c *Config) settings() map[string]interface{} {
	o, r := c.Orchestrator, c.Recovery
	return map[string]interface{}{
		"orchestrator.max_concurrency":        o.MaxConcurrency,
		"orchestrator.cache_ttl":              o.CacheTTL.String(),
		"orchestrator.shutdown_timeout":       o.ShutdownTimeout.String(),
		"orchestrator.shutdown_poll_interval": o.ShutdownPollInterval.String(),
		"orchestrator.sweep_interval":         o.SweepInterval.String(),
		"orchestrator.workflow_retention":     o.WorkflowRetention.String(),
		"orchestrator.latency_target":         o.LatencyTarget.String(),

		"cache.redis_addr":     c.Cache.RedisAddr,
		"cache.redis_password": c.Cache.RedisPassword,
		"cache.key_prefix":     c.Cache.KeyPrefix,

		"verification.critical": c.Verification.Critical,
		"verification.high":     c.Verification.High,
		"verification.medium":   c.Verification.Medium,
		"verification.low":      c.Verification.Low,

		"recovery.backoff_base":          r.BackoffBase.String(),
		"recovery.backoff_max":           r.BackoffMax.String(),
		"recovery.max_retries":           r.MaxRetries,
		"recovery.retry_window":          r.RetryWindow.String(),
		"recovery.attempts_per_second":   r.AttemptsPerSecond,
		"recovery.attempt_burst":         r.AttemptBurst,
		"recovery.alternative_providers": r.AlternativeProviders,
		"recovery.archive_path":          r.ArchivePath,
		"recovery.archive_max_retries":   r.ArchiveMaxRetries,

		"logging.level": c.Logging.Level,
		"logging.file":  c.Logging.File,
		"logging.json":  c.Logging.JSON,
	}
}

// Load loads configuration from path, or from the standard locations when
// path is empty. Precedence: CRISK_* env > config file > defaults.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	for key, value := range cfg.settings() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".crisk")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".crisk"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Recovery.ArchivePath = expandPath(cfg.Recovery.ArchivePath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overwrites variables that are already set, so earlier files win.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		homeEnvFile := filepath.Join(homeDir, ".crisk", ".env")
		if _, err := os.Stat(homeEnvFile); err == nil {
			godotenv.Load(homeEnvFile)
		}
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range c.settings() {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
