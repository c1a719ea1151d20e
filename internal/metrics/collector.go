package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rohankatakam/crisk-verify/internal/errors"
)

const (
	metricsNamespace = "crisk"

	// DefaultLatencyTarget is the average response time that earns a full
	// latency score
	DefaultLatencyTarget = time.Second

	successWeight = 0.7
	latencyWeight = 0.3
)

// HealthStatus classifies the performance score
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// StatusForScore maps a 0-100 performance score onto a health status
func StatusForScore(score float64) HealthStatus {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 50:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// OperationStats aggregates one named operation
type OperationStats struct {
	Count               int64         `json:"count"`
	Failures            int64         `json:"failures"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}

// Snapshot is a point-in-time view of the collector
type Snapshot struct {
	TotalOperations      int64                     `json:"total_operations"`
	SuccessfulOperations int64                     `json:"successful_operations"`
	FailedOperations     int64                     `json:"failed_operations"`
	SuccessRate          float64                   `json:"success_rate"`
	AverageResponseTime  time.Duration             `json:"average_response_time"`
	PerformanceScore     float64                   `json:"performance_score"`
	Operations           map[string]OperationStats `json:"operations"`
}

type opAggregate struct {
	count    int64
	failures int64
	total    time.Duration
}

// Collector aggregates operation counters and durations for health scoring
// and exports them to Prometheus.
type Collector struct {
	mu            sync.Mutex
	total         int64
	failures      int64
	totalDuration time.Duration
	ops           map[string]*opAggregate
	latencyTarget time.Duration

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewCollector registers the collector's metrics on reg. A nil reg gets a
// private registry.
func NewCollector(reg prometheus.Registerer, latencyTarget time.Duration) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if latencyTarget <= 0 {
		latencyTarget = DefaultLatencyTarget
	}
	factory := promauto.With(reg)

	return &Collector{
		ops:           make(map[string]*opAggregate),
		latencyTarget: latencyTarget,
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Total orchestrated operations by name and result",
		}, []string{"operation", "result"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Orchestrated operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
	}
}

// RecordOperation records one finished operation
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) error {
	if duration < 0 {
		return errors.OrchestrationErrorf(errors.CodeMetricsInvalid,
			"negative duration %s for operation %s", duration, operation)
	}

	c.mu.Lock()
	agg, ok := c.ops[operation]
	if !ok {
		agg = &opAggregate{}
		c.ops[operation] = agg
	}
	agg.count++
	agg.total += duration
	c.total++
	c.totalDuration += duration
	if !success {
		agg.failures++
		c.failures++
	}
	c.mu.Unlock()

	result := "success"
	if !success {
		result = "error"
	}
	c.operationsTotal.WithLabelValues(operation, result).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	return nil
}

// Snapshot returns aggregates and the derived performance score
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalOperations:      c.total,
		SuccessfulOperations: c.total - c.failures,
		FailedOperations:     c.failures,
		SuccessRate:          1.0,
		PerformanceScore:     100,
		Operations:           make(map[string]OperationStats, len(c.ops)),
	}
	for name, agg := range c.ops {
		s.Operations[name] = OperationStats{
			Count:               agg.count,
			Failures:            agg.failures,
			AverageResponseTime: agg.total / time.Duration(agg.count),
		}
	}
	if c.total == 0 {
		return s
	}

	s.SuccessRate = float64(c.total-c.failures) / float64(c.total)
	s.AverageResponseTime = c.totalDuration / time.Duration(c.total)

	latencyScore := 1.0
	if s.AverageResponseTime > 0 {
		latencyScore = math.Min(1, float64(c.latencyTarget)/float64(s.AverageResponseTime))
	}
	s.PerformanceScore = math.Round(100*(successWeight*s.SuccessRate+latencyWeight*latencyScore)*10) / 10
	return s
}

// OperationNames lists recorded operations in sorted order
func (c *Collector) OperationNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all aggregates and exported series
func (c *Collector) Reset() {
	c.mu.Lock()
	c.total, c.failures, c.totalDuration = 0, 0, 0
	c.ops = make(map[string]*opAggregate)
	c.mu.Unlock()

	c.operationsTotal.Reset()
	c.operationDuration.Reset()
}
