package config

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/logging"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}
	return sb.String()
}

// Err converts a failed result into a CONFIG_ERROR carrying each problem as
// an issue; a passing result returns nil
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	e := errors.ConfigErrorf("configuration has %d error(s)", len(vr.Errors))
	return e.WithContext("issues", append([]string(nil), vr.Errors...))
}

// Validate checks every section and collects all problems
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}
	c.validateOrchestrator(result)
	c.validateCache(result)
	c.validateVerification(result)
	c.validateRecovery(result)
	c.validateLogging(result)
	return result
}

func (c *Config) validateOrchestrator(result *ValidationResult) {
	o := c.Orchestrator
	if o.MaxConcurrency < 1 {
		result.AddError("orchestrator.max_concurrency must be at least 1 (got %d)", o.MaxConcurrency)
	} else if o.MaxConcurrency > 64 {
		result.AddWarning("orchestrator.max_concurrency %d is unusually high", o.MaxConcurrency)
	}

	durations := []struct {
		name  string
		value interface{ Seconds() float64 }
	}{
		{"orchestrator.cache_ttl", o.CacheTTL},
		{"orchestrator.shutdown_timeout", o.ShutdownTimeout},
		{"orchestrator.shutdown_poll_interval", o.ShutdownPollInterval},
		{"orchestrator.sweep_interval", o.SweepInterval},
		{"orchestrator.workflow_retention", o.WorkflowRetention},
		{"orchestrator.latency_target", o.LatencyTarget},
	}
	for _, d := range durations {
		if d.value.Seconds() <= 0 {
			result.AddError("%s must be positive", d.name)
		}
	}

	if o.ShutdownPollInterval > 0 && o.ShutdownPollInterval >= o.ShutdownTimeout {
		result.AddWarning("orchestrator.shutdown_poll_interval is not shorter than shutdown_timeout; shutdown polls once")
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	if c.Cache.RedisAddr == "" {
		return
	}
	if !strings.Contains(c.Cache.RedisAddr, ":") {
		result.AddError("cache.redis_addr must be host:port (got %q)", c.Cache.RedisAddr)
	}
	if c.Cache.KeyPrefix == "" {
		result.AddWarning("cache.key_prefix is empty; verification results share the Redis keyspace")
	}
}

func (c *Config) validateVerification(result *ValidationResult) {
	l := c.Verification
	caps := []struct {
		name  string
		value int
	}{
		{"critical", l.Critical},
		{"high", l.High},
		{"medium", l.Medium},
		{"low", l.Low},
	}
	for _, cp := range caps {
		if cp.value < 1 {
			result.AddError("verification.%s step cap must be at least 1 (got %d)", cp.name, cp.value)
		}
	}
	if l.Critical < l.High || l.High < l.Medium || l.Medium < l.Low {
		result.AddWarning("verification step caps shrink as risk rises; riskier changes get fewer checks")
	}
}

func (c *Config) validateRecovery(result *ValidationResult) {
	r := c.Recovery
	if r.BackoffBase <= 0 {
		result.AddError("recovery.backoff_base must be positive")
	}
	if r.RetryWindow <= 0 {
		result.AddError("recovery.retry_window must be positive")
	}
	if r.BackoffMax < r.BackoffBase {
		result.AddError("recovery.backoff_max must not be shorter than backoff_base")
	}
	if r.MaxRetries < 0 {
		result.AddError("recovery.max_retries must not be negative")
	}
	if r.AttemptsPerSecond <= 0 {
		result.AddError("recovery.attempts_per_second must be positive")
	}
	if r.AttemptBurst < 1 {
		result.AddError("recovery.attempt_burst must be at least 1")
	}
	if r.ArchivePath != "" && r.ArchiveMaxRetries < 1 {
		result.AddError("recovery.archive_max_retries must be at least 1 when the archive is enabled")
	}
	if len(r.AlternativeProviders) == 0 {
		result.AddWarning("recovery.alternative_providers is empty; ALTERNATIVE_PROVIDER recovery always fails")
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		result.AddError("logging.level: %v", err)
	}
}
