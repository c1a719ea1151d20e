package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/crisk-verify/internal/errors"
)

func TestCollector_EmptySnapshotIsHealthy(t *testing.T) {
	s := NewCollector(nil, 0).Snapshot()

	assert.Equal(t, int64(0), s.TotalOperations)
	assert.Equal(t, 1.0, s.SuccessRate)
	assert.Equal(t, 100.0, s.PerformanceScore)
	assert.Equal(t, StatusHealthy, StatusForScore(s.PerformanceScore))
}

func TestCollector_PerformanceScore(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		duration  time.Duration
		want      float64
	}{
		{"all fast successes", 4, 0, 100 * time.Millisecond, 100},
		{"half failing", 2, 2, 100 * time.Millisecond, 65},
		{"slow successes", 4, 0, 2 * time.Second, 85},
		{"all failing and slow", 0, 4, 4 * time.Second, 7.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(nil, time.Second)
			for i := 0; i < tt.successes; i++ {
				require.NoError(t, c.RecordOperation("verify", tt.duration, true))
			}
			for i := 0; i < tt.failures; i++ {
				require.NoError(t, c.RecordOperation("verify", tt.duration, false))
			}
			assert.InDelta(t, tt.want, c.Snapshot().PerformanceScore, 1e-9)
		})
	}
}

func TestStatusForScore(t *testing.T) {
	assert.Equal(t, StatusHealthy, StatusForScore(80))
	assert.Equal(t, StatusDegraded, StatusForScore(79.9))
	assert.Equal(t, StatusDegraded, StatusForScore(50))
	assert.Equal(t, StatusUnhealthy, StatusForScore(49.9))
}

func TestCollector_PrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, 0)

	require.NoError(t, c.RecordOperation("verify", 10*time.Millisecond, true))
	require.NoError(t, c.RecordOperation("verify", 10*time.Millisecond, false))
	require.NoError(t, c.RecordOperation("batch", 10*time.Millisecond, true))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("verify", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("verify", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.operationDuration))

	c.Reset()
	assert.Equal(t, 0, testutil.CollectAndCount(c.operationsTotal))
	assert.Equal(t, int64(0), c.Snapshot().TotalOperations)
	assert.Empty(t, c.OperationNames())
}

func TestCollector_RejectsNegativeDuration(t *testing.T) {
	c := NewCollector(nil, 0)
	err := c.RecordOperation("verify", -time.Second, true)

	assert.True(t, errors.HasCode(err, errors.CodeMetricsInvalid))
	assert.Equal(t, int64(0), c.Snapshot().TotalOperations)
}

func TestCollector_PerOperationStats(t *testing.T) {
	c := NewCollector(nil, 0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RecordOperation("verify", time.Duration(i+1)*time.Millisecond, i%5 != 0)
		}(i)
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, int64(10), s.TotalOperations)
	assert.Equal(t, int64(2), s.FailedOperations)
	assert.InDelta(t, 0.8, s.SuccessRate, 1e-9)
	assert.Equal(t, 5500*time.Microsecond, s.Operations["verify"].AverageResponseTime)
	assert.Equal(t, []string{"verify"}, c.OperationNames())
}
