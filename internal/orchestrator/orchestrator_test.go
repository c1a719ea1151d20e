package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/crisk-verify/internal/config"
	"github.com/rohankatakam/crisk-verify/internal/dlq"
	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/metrics"
	"github.com/rohankatakam/crisk-verify/internal/models"
	"github.com/rohankatakam/crisk-verify/internal/recovery"
	"github.com/rohankatakam/crisk-verify/internal/workflow"
)

type stubAssessor struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	entered  chan struct{}
	release  chan struct{}
	err      error
}

func (s *stubAssessor) Assess(ctx context.Context, in *models.AssessmentInput) (*models.RiskAssessmentResult, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.RiskAssessmentResult{
		FilePath:             in.FilePath,
		Score:                40,
		Level:                models.RiskLevelMedium,
		CascadeType:          models.CascadeTypeInference,
		CascadeEffects:       []models.CascadeEffect{},
		BusinessDomain:       models.DomainGeneral,
		Confidence:           0.9,
		RequiresVerification: true,
	}, nil
}

type stubPlanner struct {
	err error
}

func (p stubPlanner) Generate(ctx context.Context, a *models.RiskAssessmentResult) (*models.VerificationPlan, error) {
	return nil, p.err
}

func fastRecovery() *recovery.Handler {
	engine := recovery.NewEngine(nil, recovery.EngineConfig{
		BackoffBase:       time.Millisecond,
		BackoffMax:        time.Millisecond,
		MaxRetries:        3,
		AttemptsPerSecond: 1000,
		AttemptBurst:      100,
	})
	return recovery.NewHandler(nil, engine, nil)
}

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Orchestrator.ShutdownPollInterval = 5 * time.Millisecond
	opts = append([]Option{WithRecoveryHandler(fastRecovery())}, opts...)
	o := New(nil, cfg, opts...)
	t.Cleanup(func() { o.Shutdown(context.Background()) })
	return o
}

func request(path string) *VerificationRequest {
	return &VerificationRequest{
		FilePath:        path,
		Content:         "export const total = (a: number, b: number) => a + b",
		Transformations: []models.Transformation{},
	}
}

func TestExecuteVerification_Validation(t *testing.T) {
	criticality := 2.0
	tests := []struct {
		name   string
		req    *VerificationRequest
		issues []string
	}{
		{"nil request", nil, []string{"request is required"}},
		{"everything missing", &VerificationRequest{}, []string{
			"file_path is required", "content is required", "transformations is required",
		}},
		{"transformation without type", &VerificationRequest{
			FilePath: "a.ts", Content: "x", Transformations: []models.Transformation{{Count: 1}},
		}, []string{"transformations[0].type is required"}},
		{"criticality out of range", &VerificationRequest{
			FilePath: "a.ts", Content: "x", Transformations: []models.Transformation{},
			BusinessContext: &models.BusinessContext{Criticality: &criticality},
		}, []string{"business_context.criticality must satisfy lte=1"}},
		{"unknown environment", &VerificationRequest{
			FilePath: "a.ts", Content: "x", Transformations: []models.Transformation{},
			BusinessContext: &models.BusinessContext{Environment: "QA"},
		}, []string{"business_context.environment must be one of [DEVELOPMENT STAGING PRODUCTION]"}},
	}

	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := o.ExecuteVerification(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, errors.HasCode(err, errors.CodeValidation))
			assert.Equal(t, tt.issues, errors.Issues(err))
		})
	}

	assert.Equal(t, int64(0), o.metrics.Snapshot().TotalOperations, "rejected input is not an operation")
	assert.Equal(t, 0, o.workflows.Counts().Active+o.workflows.Counts().Completed)
}

func TestExecuteVerification_EmptyTransformationsAllowed(t *testing.T) {
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}))
	resp, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "src/a.ts", resp.RiskAssessment.FilePath)
}

func TestExecuteVerification_DefaultPipeline(t *testing.T) {
	o := newTestOrchestrator(t)

	resp, err := o.ExecuteVerification(context.Background(), &VerificationRequest{
		FilePath:        "src/util/helpers.ts",
		Content:         "export function parse(raw: any) { return raw as any }",
		Transformations: []models.Transformation{{Type: "type-annotations", Count: 2}},
	})
	require.NoError(t, err)

	a := resp.RiskAssessment
	assert.Equal(t, models.CascadeTypeInference, a.CascadeType)
	assert.Equal(t, expectedLevel(a.Score), a.Level)
	require.NotEmpty(t, resp.VerificationPlan.Steps)
	assert.Equal(t, "compile-check", resp.VerificationPlan.Steps[0].ID)
	assert.Same(t, a, resp.VerificationPlan.Assessment)
	assert.NotEmpty(t, resp.Recommendations)

	_, err = uuid.Parse(resp.Metadata.CorrelationID)
	assert.NoError(t, err)
	assert.False(t, resp.Metadata.CacheHit)
	assert.Equal(t, 1, o.workflows.Counts().Completed)
}

func expectedLevel(score float64) models.RiskLevel {
	switch {
	case score >= 85:
		return models.RiskLevelCritical
	case score >= 60:
		return models.RiskLevelHigh
	case score >= 35:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func TestExecuteVerification_ServesRepeatsFromCache(t *testing.T) {
	assessor := &stubAssessor{}
	var mu sync.Mutex
	var events []EventType
	o := newTestOrchestrator(t, WithAssessor(assessor), WithListener(ListenerFunc(func(e Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})))

	first, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	require.NoError(t, err)
	second, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	require.NoError(t, err)

	assert.False(t, first.Metadata.CacheHit)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, int32(1), assessor.calls.Load())
	assert.NotEqual(t, first.Metadata.CorrelationID, second.Metadata.CorrelationID)
	assert.Same(t, first.RiskAssessment, second.RiskAssessment)
	assert.Same(t, second.RiskAssessment, second.VerificationPlan.Assessment)
	assert.Equal(t, first.Recommendations, second.Recommendations)

	health, err := o.GetSystemHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, health.Cache.HitRate)
	assert.Equal(t, 1, health.Cache.Size)
	assert.Equal(t, 2, health.Workflows.Completed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventVerificationStarted, EventVerificationCompleted,
		EventVerificationStarted, EventCacheHit, EventVerificationCompleted,
	}, events)
}

func TestExecuteVerification_GenerationErrorSurfacesVerbatim(t *testing.T) {
	genErr := errors.GenerationError(stderrors.New("template missing"), "steps")
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}), WithPlanner(stubPlanner{err: genErr}))

	resp, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	assert.Nil(t, resp)
	assert.Same(t, genErr, err)

	counts := o.workflows.Counts()
	assert.Equal(t, 1, counts.Failed)
	assert.Len(t, o.Recovery().GetErrorReports(recovery.ReportFilter{Operation: "verification"}), 1)
	assert.Equal(t, 0, o.cache.Stats().Size, "failures are not cached")
}

func TestExecuteVerification_UnexpectedErrorIsVerificationError(t *testing.T) {
	cause := stderrors.New("assessor exploded")
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{err: cause}))

	_, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeVerification))
	assert.ErrorIs(t, err, cause)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.NotEmpty(t, e.Context["error_report"])
}

func TestExecuteBatchVerification_ChunksAndProgress(t *testing.T) {
	assessor := &stubAssessor{delay: 10 * time.Millisecond}
	o := newTestOrchestrator(t, WithAssessor(assessor))

	requests := make([]*VerificationRequest, 7)
	for i := range requests {
		requests[i] = request(fmt.Sprintf("src/file%d.ts", i))
	}
	requests[4].Content = ""

	var progress []BatchProgress
	results, err := o.ExecuteBatchVerification(context.Background(), requests, BatchOptions{
		MaxConcurrency: 3,
		Progress:       func(p BatchProgress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	require.Len(t, progress, 3)
	assert.Equal(t, []int{3, 6, 7}, []int{progress[0].Completed, progress[1].Completed, progress[2].Completed})
	assert.Equal(t, BatchProgress{Completed: 7, Total: 7, Succeeded: 6, Failed: 1}, progress[2])

	require.Len(t, results, 7)
	for i, r := range results {
		if i == 4 {
			assert.Equal(t, []string{"content is required"}, r.Errors)
			assert.Nil(t, r.Response)
			continue
		}
		require.True(t, r.OK(), "request %d: %v", i, r.Errors)
		assert.Equal(t, requests[i].FilePath, r.Response.RiskAssessment.FilePath)
	}
	assert.LessOrEqual(t, assessor.maxSeen.Load(), int32(3))
}

func TestExecuteBatchVerification_Rejects(t *testing.T) {
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}))

	_, err := o.ExecuteBatchVerification(context.Background(), nil, BatchOptions{})
	assert.True(t, errors.HasCode(err, errors.CodeBatchValidation))

	_, err = o.ExecuteBatchVerification(context.Background(), []*VerificationRequest{}, BatchOptions{})
	assert.True(t, errors.HasCode(err, errors.CodeBatchValidation))
}

func TestExecuteBatchVerification_CancelledKeepsSlots(t *testing.T) {
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := o.ExecuteBatchVerification(ctx, []*VerificationRequest{request("a.ts"), request("b.ts")}, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.OK())
	}
}

func TestGetSystemHealth(t *testing.T) {
	t.Run("fresh system is healthy", func(t *testing.T) {
		o := newTestOrchestrator(t)
		h, err := o.GetSystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, metrics.StatusHealthy, h.Status)
		assert.Equal(t, 100.0, h.Metrics.PerformanceScore)
		assert.Equal(t, int64(0), h.Metrics.TotalOperations)
		assert.Empty(t, h.Cache.Remote)
	})

	t.Run("failures make it unhealthy", func(t *testing.T) {
		o := newTestOrchestrator(t, WithAssessor(&stubAssessor{err: stderrors.New("boom")}))
		for i := 0; i < 2; i++ {
			_, err := o.ExecuteVerification(context.Background(), request(fmt.Sprintf("f%d.ts", i)))
			require.Error(t, err)
		}
		h, err := o.GetSystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), h.Metrics.TotalOperations)
		assert.Equal(t, 0.0, h.Metrics.SuccessRate)
		assert.Equal(t, metrics.StatusUnhealthy, h.Status)
		assert.Equal(t, 2, h.Workflows.Failed)
	})

	t.Run("unreachable remote cache degrades", func(t *testing.T) {
		o := newTestOrchestrator(t, WithRemoteCache(&brokenRemote{}))
		h, err := o.GetSystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, metrics.StatusDegraded, h.Status)
		assert.Equal(t, "connection refused", h.Cache.Remote)
	})
}

type brokenRemote struct{}

func (brokenRemote) Get(context.Context, string, interface{}) (bool, error) {
	return false, stderrors.New("connection refused")
}
func (brokenRemote) SetWithTTL(context.Context, string, interface{}, time.Duration) error {
	return stderrors.New("connection refused")
}
func (brokenRemote) Delete(context.Context, string) error { return nil }
func (brokenRemote) Clear(context.Context) (int64, error) { return 0, nil }
func (brokenRemote) HealthCheck(context.Context) error {
	return stderrors.New("connection refused")
}

func TestExecuteVerification_RemoteFaultsDoNotAbort(t *testing.T) {
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}), WithRemoteCache(&brokenRemote{}))
	resp, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	require.NoError(t, err)
	assert.NotNil(t, resp.VerificationPlan)
	assert.Equal(t, int64(2), o.cache.Stats().RemoteErrors)
}

func TestShutdown_WaitsForRunningWorkflows(t *testing.T) {
	assessor := &stubAssessor{entered: make(chan struct{}), delay: 50 * time.Millisecond}
	var shutdownEvents atomic.Int32
	o := newTestOrchestrator(t, WithAssessor(assessor), WithListener(ListenerFunc(func(e Event) {
		if e.Type == EventSystemShutdown {
			shutdownEvents.Add(1)
		}
	})))

	done := make(chan error, 1)
	go func() {
		_, err := o.ExecuteVerification(context.Background(), request("src/slow.ts"))
		done <- err
	}()
	<-assessor.entered

	require.NoError(t, o.Shutdown(context.Background()))
	assert.NoError(t, <-done, "in-flight work finishes")

	assert.Equal(t, 0, o.cache.Stats().Size)
	assert.Equal(t, workflow.Counts{}, o.workflows.Counts())
	assert.Equal(t, int64(0), o.metrics.Snapshot().TotalOperations)

	require.NoError(t, o.Shutdown(context.Background()), "second call is a no-op")
	assert.Equal(t, int32(1), shutdownEvents.Load())

	_, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	assert.True(t, errors.HasCode(err, errors.CodeSystemShutdown))
	_, err = o.ExecuteBatchVerification(context.Background(), []*VerificationRequest{request("a.ts")}, BatchOptions{})
	assert.True(t, errors.HasCode(err, errors.CodeSystemShutdown))
	_, err = o.GetSystemHealth(context.Background())
	assert.True(t, errors.HasCode(err, errors.CodeSystemShutdown))
}

func TestShutdown_WaitIsBounded(t *testing.T) {
	assessor := &stubAssessor{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := config.Default()
	cfg.Orchestrator.ShutdownTimeout = 30 * time.Millisecond
	cfg.Orchestrator.ShutdownPollInterval = 5 * time.Millisecond
	o := New(nil, cfg, WithAssessor(assessor), WithRecoveryHandler(fastRecovery()))

	done := make(chan struct{})
	go func() {
		o.ExecuteVerification(context.Background(), request("src/stuck.ts"))
		close(done)
	}()
	<-assessor.entered

	start := time.Now()
	require.NoError(t, o.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, o.workflows.Counts().Active, "running workflows survive the purge")

	close(assessor.release)
	<-done
}

func TestListenerPanicIsContained(t *testing.T) {
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}), WithListener(ListenerFunc(func(Event) {
		panic("listener bug")
	})))
	_, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	assert.NoError(t, err)
}

type recordingArchive struct {
	mu      sync.Mutex
	entries []dlq.Entry
}

func (a *recordingArchive) Enqueue(_ context.Context, e dlq.Entry) (*dlq.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return &e, nil
}

func TestExecuteVerification_UnresolvedFailureIsArchived(t *testing.T) {
	archive := &recordingArchive{}
	cfg := config.Default()
	cfg.Orchestrator.ShutdownPollInterval = 5 * time.Millisecond
	o := New(nil, cfg,
		WithArchive(archive),
		WithAssessor(&stubAssessor{err: stderrors.New("401 unauthorized")}))
	t.Cleanup(func() { o.Shutdown(context.Background()) })

	_, err := o.ExecuteVerification(context.Background(), request("src/auth/session.ts"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeVerification))

	reports := o.Recovery().GetErrorReports(recovery.ReportFilter{})
	require.Len(t, reports, 1)
	assert.Equal(t, recovery.CategoryAuthentication, reports[0].Analysis.Category)
	assert.False(t, reports[0].Resolved)
	assert.Empty(t, reports[0].Attempts, "manual intervention is never auto-run")

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.entries, 1)
	assert.Equal(t, reports[0].ID, archive.entries[0].ReportID)
	assert.Equal(t, "verification", archive.entries[0].Operation)
	assert.Equal(t, "src/auth/session.ts", archive.entries[0].Metadata["file_path"])
}

func TestExecuteVerification_TrivialChangeNeedsOnlyCompilation(t *testing.T) {
	o := New(nil, config.Default())
	t.Cleanup(func() { o.Shutdown(context.Background()) })

	resp, err := o.ExecuteVerification(context.Background(), &VerificationRequest{
		FilePath:        "src/x.ts",
		Content:         "const x = 1",
		Transformations: []models.Transformation{},
	})
	require.NoError(t, err)

	a := resp.RiskAssessment
	assert.Equal(t, models.RiskLevelLow, a.Level)
	assert.Empty(t, a.CascadeEffects)
	assert.False(t, a.RequiresVerification)
	assert.False(t, a.RequiresHumanReview)

	plan := resp.VerificationPlan
	assert.False(t, plan.Review.Required)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "compile-check", plan.Steps[0].ID)
	assert.Equal(t, models.StepCategoryCompilation, plan.Steps[0].Category)
}

func TestExecuteVerification_GenerationErrorSkipsBackoff(t *testing.T) {
	genErr := errors.GenerationError(stderrors.New("template missing"), "verification steps")
	o := New(nil, config.Default(), WithPlanner(stubPlanner{err: genErr}))
	t.Cleanup(func() { o.Shutdown(context.Background()) })

	for i := 0; i < 3; i++ {
		start := time.Now()
		_, err := o.ExecuteVerification(context.Background(), request(fmt.Sprintf("src/f%d.ts", i)))
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.True(t, errors.HasCode(err, errors.CodeGeneration))
	}

	reports := o.Recovery().GetErrorReports(recovery.ReportFilter{Operation: "verification"})
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.Empty(t, r.Attempts)
		assert.False(t, r.Resolved)
	}
}

func TestExecuteVerification_MissingPlanIsInternalError(t *testing.T) {
	o := newTestOrchestrator(t, WithAssessor(&stubAssessor{}), WithPlanner(stubPlanner{}))

	resp, err := o.ExecuteVerification(context.Background(), request("src/a.ts"))
	assert.Nil(t, resp)
	assert.True(t, errors.HasCode(err, errors.CodeInternal))
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 1, o.workflows.Counts().Failed)
}

func TestExecuteVerification_ShutdownAfterAdmission(t *testing.T) {
	assessor := &stubAssessor{}
	o := newTestOrchestrator(t, WithAssessor(assessor))

	// the flag flips between the entry check and workflow registration
	var once sync.Once
	o.now = func() time.Time {
		once.Do(func() { o.shutdown.Store(true) })
		return time.Now()
	}

	resp, err := o.ExecuteVerification(context.Background(), request("src/late.ts"))
	assert.Nil(t, resp)
	assert.True(t, errors.HasCode(err, errors.CodeSystemShutdown))
	assert.Equal(t, int32(0), assessor.calls.Load())

	counts := o.workflows.Counts()
	assert.Equal(t, 0, counts.Active)
	assert.Equal(t, 1, counts.Failed)

	// let the cleanup run a real shutdown so the sweeper stops
	o.shutdown.Store(false)
}
