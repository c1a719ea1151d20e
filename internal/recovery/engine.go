package recovery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/crisk-verify/internal/dlq"
	"github.com/rohankatakam/crisk-verify/internal/errors"
)

// strategyChain is the fixed fallback order. MANUAL_INTERVENTION is terminal.
var strategyChain = map[StrategyType]StrategyType{
	StrategyRetryWithBackoff:    StrategyFallbackToCache,
	StrategyFallbackToCache:     StrategyAlternativeProvider,
	StrategyAlternativeProvider: StrategyGracefulDegradation,
	StrategyGracefulDegradation: StrategyManualIntervention,
	StrategyCircuitBreaker:      StrategyGracefulDegradation,
	StrategyReduceComplexity:    StrategyRetryWithBackoff,
	StrategyQueueForRetry:       StrategyFallbackToCache,
}

// NextStrategy returns the successor of t in the fallback chain
func NextStrategy(t StrategyType) (StrategyType, bool) {
	next, ok := strategyChain[t]
	return next, ok
}

// EngineConfig tunes recovery side effects
type EngineConfig struct {
	BackoffBase          time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax           time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	MaxRetries           int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryWindow          time.Duration `mapstructure:"retry_window" yaml:"retry_window"`
	AttemptsPerSecond    float64       `mapstructure:"attempts_per_second" yaml:"attempts_per_second"`
	AttemptBurst         int           `mapstructure:"attempt_burst" yaml:"attempt_burst"`
	AlternativeProviders []string      `mapstructure:"alternative_providers" yaml:"alternative_providers"`
}

// DefaultEngineConfig returns production defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BackoffBase:       time.Second,
		BackoffMax:        time.Minute,
		MaxRetries:        3,
		RetryWindow:       5 * time.Minute,
		AttemptsPerSecond: 10,
		AttemptBurst:      5,
	}
}

// CacheLookup reports whether a cached result can stand in for the failed operation
type CacheLookup func(ctx context.Context, analysis *ErrorAnalysis) bool

// Archiver durably queues failures for a later retry
type Archiver interface {
	Enqueue(ctx context.Context, e dlq.Entry) (*dlq.Entry, error)
}

// Engine executes recovery strategies and records the attempts
type Engine struct {
	config      EngineConfig
	limiter     *rate.Limiter
	logger      *logrus.Logger
	cacheLookup CacheLookup
	archive     Archiver

	mu        sync.Mutex
	retries   map[string]retryBudget
	circuits  map[string]time.Time
	degraded  bool
	providerN int

	now func() time.Time
}

// retryBudget counts retries of one failure class. It renews once RetryWindow
// passes without a retry.
type retryBudget struct {
	count int
	last  time.Time
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithCacheLookup enables FALLBACK_TO_CACHE
func WithCacheLookup(fn CacheLookup) EngineOption {
	return func(e *Engine) { e.cacheLookup = fn }
}

// WithArchive enables QUEUE_FOR_RETRY
func WithArchive(a Archiver) EngineOption {
	return func(e *Engine) { e.archive = a }
}

// NewEngine creates a recovery engine. Zero config fields take defaults.
func NewEngine(logger *logrus.Logger, config EngineConfig, opts ...EngineOption) *Engine {
	defaults := DefaultEngineConfig()
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryWindow <= 0 {
		config.RetryWindow = defaults.RetryWindow
	}
	if config.AttemptsPerSecond <= 0 {
		config.AttemptsPerSecond = defaults.AttemptsPerSecond
	}
	if config.AttemptBurst <= 0 {
		config.AttemptBurst = defaults.AttemptBurst
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	e := &Engine{
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.AttemptsPerSecond), config.AttemptBurst),
		logger:   logger,
		retries:  make(map[string]retryBudget),
		circuits: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one recovery strategy and records the attempt. A failed attempt
// carries the next strategy from the chain; the engine never advances it
// itself. Unknown strategy types fail with STRATEGY_ERROR and no attempt.
func (e *Engine) Execute(ctx context.Context, strategy StrategyType, analysis *ErrorAnalysis) (*RecoveryAttempt, error) {
	if _, known := strategyChain[strategy]; !known && strategy != StrategyManualIntervention {
		return nil, errors.StrategyErrorf("unsupported recovery strategy %q", strategy)
	}
	if analysis == nil {
		analysis = &ErrorAnalysis{Category: CategoryInternal}
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("recovery attempt throttled: %w", err)
	}

	attempt := &RecoveryAttempt{
		ID:        uuid.New().String(),
		Strategy:  strategy,
		StartedAt: e.now(),
	}

	var success bool
	var details string
	switch strategy {
	case StrategyRetryWithBackoff:
		success, details = e.retry(ctx, analysis)
	case StrategyCircuitBreaker:
		success, details = e.openCircuit(analysis)
	case StrategyFallbackToCache:
		success, details = e.fallbackToCache(ctx, analysis)
	case StrategyAlternativeProvider:
		success, details = e.alternativeProvider()
	case StrategyGracefulDegradation:
		success, details = e.degrade()
	case StrategyReduceComplexity:
		success, details = true, "retry with reduced request complexity"
	case StrategyQueueForRetry:
		success, details = e.queue(ctx, analysis)
	case StrategyManualIntervention:
		success, details = false, "manual intervention required: "+analysis.Cause
	}

	attempt.Success = success
	attempt.Details = details
	attempt.CompletedAt = e.now()
	if !success {
		if next, ok := NextStrategy(strategy); ok {
			attempt.NextStrategy = next
		}
	}

	e.logger.WithFields(logrus.Fields{
		"attempt":  attempt.ID,
		"strategy": strategy,
		"category": analysis.Category,
		"service":  analysis.Service,
		"success":  success,
		"next":     attempt.NextStrategy,
	}).Info("Recovery attempt completed")

	return attempt, nil
}

// CircuitOpen reports whether the circuit for service is currently open
func (e *Engine) CircuitOpen(service string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.circuits[service]
	if !ok {
		return false
	}
	if !e.now().Before(until) {
		delete(e.circuits, service)
		return false
	}
	return true
}

// Degraded reports whether graceful degradation has been engaged
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Reset closes all circuits and clears retry counters and degradation
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries = make(map[string]retryBudget)
	e.circuits = make(map[string]time.Time)
	e.degraded = false
}

func (e *Engine) retry(ctx context.Context, analysis *ErrorAnalysis) (bool, string) {
	key := analysis.Service + "\x00" + string(analysis.Category)
	now := e.now()

	e.mu.Lock()
	budget := e.retries[key]
	if !budget.last.IsZero() && now.Sub(budget.last) >= e.config.RetryWindow {
		budget = retryBudget{}
	}
	n := budget.count
	if n >= e.config.MaxRetries {
		e.mu.Unlock()
		return false, fmt.Sprintf("retry budget of %d exhausted", e.config.MaxRetries)
	}
	e.retries[key] = retryBudget{count: n + 1, last: now}
	e.mu.Unlock()

	delay := e.config.BackoffBase << n
	if delay > e.config.BackoffMax || delay <= 0 {
		delay = e.config.BackoffMax
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, fmt.Sprintf("backed off %s before retry %d", delay, n+1)
	case <-ctx.Done():
		return false, fmt.Sprintf("backoff interrupted: %v", ctx.Err())
	}
}

func (e *Engine) openCircuit(analysis *ErrorAnalysis) (bool, string) {
	window := time.Duration(analysis.Strategy.EstimatedRecoverySeconds) * time.Second
	if window <= 0 {
		window = time.Duration(circuitStrategy.EstimatedRecoverySeconds) * time.Second
	}
	e.mu.Lock()
	e.circuits[analysis.Service] = e.now().Add(window)
	e.mu.Unlock()
	return true, fmt.Sprintf("circuit opened for %q for %s", analysis.Service, window)
}

func (e *Engine) fallbackToCache(ctx context.Context, analysis *ErrorAnalysis) (bool, string) {
	if e.cacheLookup == nil {
		return false, "no cache configured"
	}
	if e.cacheLookup(ctx, analysis) {
		return true, "served from cache"
	}
	return false, "no cached result available"
}

func (e *Engine) alternativeProvider() (bool, string) {
	if len(e.config.AlternativeProviders) == 0 {
		return false, "no alternative provider configured"
	}
	e.mu.Lock()
	provider := e.config.AlternativeProviders[e.providerN%len(e.config.AlternativeProviders)]
	e.providerN++
	e.mu.Unlock()
	return true, "switched to provider " + provider
}

func (e *Engine) degrade() (bool, string) {
	e.mu.Lock()
	e.degraded = true
	e.mu.Unlock()
	return true, "graceful degradation engaged"
}

func (e *Engine) queue(ctx context.Context, analysis *ErrorAnalysis) (bool, string) {
	if e.archive == nil {
		return false, "no retry queue configured"
	}
	entry, err := e.archive.Enqueue(ctx, dlq.Entry{
		Service:      analysis.Service,
		Category:     string(analysis.Category),
		Severity:     string(analysis.Severity),
		ErrorMessage: analysis.Cause,
	})
	if err != nil {
		return false, fmt.Sprintf("failed to queue for retry: %v", err)
	}
	return true, "queued for retry as " + entry.Fingerprint
}
