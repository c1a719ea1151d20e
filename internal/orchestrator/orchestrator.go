package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/crisk-verify/internal/cache"
	"github.com/rohankatakam/crisk-verify/internal/config"
	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/logging"
	"github.com/rohankatakam/crisk-verify/internal/metrics"
	"github.com/rohankatakam/crisk-verify/internal/models"
	"github.com/rohankatakam/crisk-verify/internal/recovery"
	"github.com/rohankatakam/crisk-verify/internal/risk"
	"github.com/rohankatakam/crisk-verify/internal/verification"
	"github.com/rohankatakam/crisk-verify/internal/workflow"
)

const (
	operationVerification = "verification"
	operationBatch        = "batch_verification"
	serviceName           = "orchestrator"

	stepCacheLookup    = "cache-lookup"
	stepRiskAssessment = "risk-assessment"
	stepPlanGeneration = "plan-generation"
	stepCacheStore     = "cache-store"
)

// RiskAssessor produces the risk verdict for one change
type RiskAssessor interface {
	Assess(ctx context.Context, in *models.AssessmentInput) (*models.RiskAssessmentResult, error)
}

// PlanGenerator turns a verdict into a verification plan
type PlanGenerator interface {
	Generate(ctx context.Context, assessment *models.RiskAssessmentResult) (*models.VerificationPlan, error)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Orchestrator validates requests, serves repeated requests from cache, runs
// assessment and planning, and tracks every request as a workflow
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	assessor  RiskAssessor
	planner   PlanGenerator
	cache     *cache.Cache[cachedVerification]
	remote    cache.Remote
	workflows *workflow.Coordinator
	metrics   *metrics.Collector
	recovery  *recovery.Handler
	archive   recovery.Archiver
	listeners []Listener
	reg       prometheus.Registerer
	logger    *logrus.Logger
	now       func() time.Time

	shutdown    atomic.Bool
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithAssessor replaces the default risk assessor
func WithAssessor(a RiskAssessor) Option {
	return func(o *Orchestrator) { o.assessor = a }
}

// WithPlanner replaces the default plan generator
func WithPlanner(p PlanGenerator) Option {
	return func(o *Orchestrator) { o.planner = p }
}

// WithRemoteCache adds a shared second cache tier such as *cache.RedisClient
func WithRemoteCache(r cache.Remote) Option {
	return func(o *Orchestrator) { o.remote = r }
}

// WithRecoveryHandler replaces the default error handler
func WithRecoveryHandler(h *recovery.Handler) Option {
	return func(o *Orchestrator) { o.recovery = h }
}

// WithArchive archives unresolved error reports and enables QUEUE_FOR_RETRY
// on the default error handler
func WithArchive(a recovery.Archiver) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithListener registers an event listener
func WithListener(l Listener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l) }
}

// WithRegisterer exports metrics on reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.reg = reg }
}

// New creates an orchestrator and starts its workflow sweeper. Call Shutdown
// to stop it.
func New(logger *logrus.Logger, cfg *config.Config, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.DiscardLogrus()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	o := &Orchestrator{
		cfg:    cfg.Orchestrator,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.cfg.MaxConcurrency < 1 {
		o.cfg.MaxConcurrency = 1
	}
	if o.cfg.ShutdownTimeout <= 0 {
		o.cfg.ShutdownTimeout = config.Default().Orchestrator.ShutdownTimeout
	}
	if o.assessor == nil {
		o.assessor = risk.NewAssessor(logger, risk.DefaultConfig())
	}
	if o.planner == nil {
		o.planner = verification.NewPlanner(logger, cfg.Verification)
	}

	cacheOpts := []cache.Option[cachedVerification]{cache.WithLogger[cachedVerification](logger)}
	if o.remote != nil {
		cacheOpts = append(cacheOpts, cache.WithRemote[cachedVerification](o.remote))
	}
	o.cache = cache.New[cachedVerification](o.cfg.CacheTTL, cacheOpts...)
	o.workflows = workflow.NewCoordinator(logger, o.cfg.WorkflowRetention)
	o.metrics = metrics.NewCollector(o.reg, o.cfg.LatencyTarget)

	if o.recovery == nil {
		engineOpts := []recovery.EngineOption{recovery.WithCacheLookup(o.cachedResultsAvailable)}
		if o.archive != nil {
			engineOpts = append(engineOpts, recovery.WithArchive(o.archive))
		}
		engine := recovery.NewEngine(logger, cfg.Recovery.EngineConfig, engineOpts...)
		o.recovery = recovery.NewHandler(logger, engine, o.archive)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	o.stopSweeper = cancel
	o.sweeperDone = make(chan struct{})
	go func() {
		defer close(o.sweeperDone)
		o.workflows.RunSweeper(sweepCtx, o.cfg.SweepInterval)
	}()

	return o
}

// Recovery returns the error handler holding the error report log
func (o *Orchestrator) Recovery() *recovery.Handler {
	return o.recovery
}

// cachedResultsAvailable lets FALLBACK_TO_CACHE succeed while earlier
// verdicts can still be served
func (o *Orchestrator) cachedResultsAvailable(_ context.Context, _ *recovery.ErrorAnalysis) bool {
	return o.cache.Stats().Size > 0
}

// ExecuteVerification assesses one change and plans its verification
func (o *Orchestrator) ExecuteVerification(ctx context.Context, req *VerificationRequest) (*VerificationResponse, error) {
	if o.shutdown.Load() {
		return nil, errors.ShutdownError("verification")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	start := o.now()
	id := uuid.New().String()
	logger := o.logger.WithFields(logrus.Fields{
		"correlation_id": id,
		"file":           req.FilePath,
	})

	if err := o.workflows.Start(id, stepCacheLookup); err != nil {
		return nil, errors.OrchestrationError(err, "failed to start verification workflow")
	}
	// Shutdown flips the flag before waiting on active workflows, so a
	// request that slipped past the first check is either seen by that wait
	// or sees the flag here.
	if o.shutdown.Load() {
		shutdownErr := errors.ShutdownError("verification")
		if wfErr := o.workflows.Fail(id, shutdownErr); wfErr != nil {
			logger.WithError(wfErr).Warn("Failed to mark workflow failed")
		}
		return nil, shutdownErr
	}
	o.emit(Event{Type: EventVerificationStarted, CorrelationID: id, FilePath: req.FilePath})

	resp, hit, err := o.verify(ctx, id, req)
	elapsed := o.now().Sub(start)
	if recErr := o.metrics.RecordOperation(operationVerification, elapsed, err == nil); recErr != nil {
		logger.WithError(recErr).Warn("Failed to record verification metrics")
	}

	if err != nil {
		if wfErr := o.workflows.Fail(id, err); wfErr != nil {
			logger.WithError(wfErr).Warn("Failed to mark workflow failed")
		}
		err = o.failure(ctx, id, req, err)
		o.emit(Event{Type: EventVerificationFailed, CorrelationID: id, FilePath: req.FilePath, Err: err})
		entry := logger.WithError(err).WithField("code", errors.CodeOf(err))
		switch {
		case errors.IsFatal(err):
			entry.Error("Verification failed")
		case errors.GetSeverity(err) >= errors.SeverityHigh:
			entry.Warn("Verification failed")
		default:
			entry.Info("Verification failed")
		}
		return nil, err
	}

	if wfErr := o.workflows.Complete(id); wfErr != nil {
		logger.WithError(wfErr).Warn("Failed to complete workflow")
	}
	resp.Metadata = ResponseMetadata{
		CorrelationID:  id,
		Timestamp:      start,
		CacheHit:       hit,
		ProcessingTime: elapsed,
	}
	o.emit(Event{Type: EventVerificationCompleted, CorrelationID: id, FilePath: req.FilePath})

	logger.WithFields(logrus.Fields{
		"level":     resp.RiskAssessment.Level,
		"score":     resp.RiskAssessment.Score,
		"steps":     len(resp.VerificationPlan.Steps),
		"cache_hit": hit,
		"elapsed":   elapsed,
	}).Info("Verification completed")
	return resp, nil
}

func (o *Orchestrator) verify(ctx context.Context, id string, req *VerificationRequest) (*VerificationResponse, bool, error) {
	key, err := cache.Key(req)
	if err != nil {
		return nil, false, err
	}

	if cached, ok := o.cache.Get(ctx, key); ok && cached.Assessment != nil && cached.Plan != nil {
		plan := *cached.Plan
		plan.Assessment = cached.Assessment
		o.emit(Event{Type: EventCacheHit, CorrelationID: id, FilePath: req.FilePath})
		return &VerificationResponse{
			RiskAssessment:   cached.Assessment,
			VerificationPlan: &plan,
			Recommendations:  append([]string(nil), cached.Recommendations...),
		}, true, nil
	}

	o.step(id, stepRiskAssessment)
	assessment, err := o.assessor.Assess(ctx, req.assessmentInput())
	if err != nil {
		return nil, false, fmt.Errorf("risk assessment failed: %w", err)
	}

	o.step(id, stepPlanGeneration)
	plan, err := o.planner.Generate(ctx, assessment)
	if err != nil {
		return nil, false, err
	}
	if plan == nil {
		return nil, false, errors.InternalErrorf("planner returned no plan for %s", req.FilePath)
	}
	recs := recommendations(assessment, plan)

	o.step(id, stepCacheStore)
	o.cache.Set(ctx, key, cachedVerification{
		Assessment:      assessment,
		Plan:            plan,
		Recommendations: recs,
	}, o.cfg.CacheTTL)

	return &VerificationResponse{
		RiskAssessment:   assessment,
		VerificationPlan: plan,
		Recommendations:  append([]string(nil), recs...),
	}, false, nil
}

// step records progress; a failed update is an orchestration fault off the
// critical path and only logged
func (o *Orchestrator) step(id, name string) {
	if err := o.workflows.UpdateStep(id, name); err != nil {
		o.logger.WithError(err).WithField("correlation_id", id).Warn("Failed to update workflow step")
	}
}

// failure routes an internal failure through the recovery handler and shapes
// the error returned to the caller. Typed errors surface verbatim.
func (o *Orchestrator) failure(ctx context.Context, id string, req *VerificationRequest, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && stderrors.Is(err, ctxErr) {
		return errors.VerificationError(err, "verification cancelled")
	}

	report := o.recovery.HandleError(ctx, err, recovery.ErrorContext{
		Operation:     operationVerification,
		Service:       serviceName,
		CorrelationID: id,
		Extra:         map[string]string{"file_path": req.FilePath},
	})

	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.VerificationError(err, "verification failed unexpectedly").
		WithContext("error_report", report.ID)
}

// ExecuteBatchVerification verifies requests in chunks of MaxConcurrency,
// waiting for each chunk before starting the next. The result slice always
// has one entry per request in input order. A cancelled ctx stops further
// chunks; their slots carry the cancellation and the error is returned
// alongside the results.
func (o *Orchestrator) ExecuteBatchVerification(ctx context.Context, requests []*VerificationRequest, opts BatchOptions) ([]BatchResult, error) {
	if o.shutdown.Load() {
		return nil, errors.ShutdownError("batch verification")
	}
	if len(requests) == 0 {
		return nil, errors.BatchValidationError("requests must be a non-empty list")
	}

	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = o.cfg.MaxConcurrency
	}

	start := o.now()
	total := len(requests)
	results := make([]BatchResult, total)
	progress := BatchProgress{Total: total}

	o.logger.WithFields(logrus.Fields{
		"requests":    total,
		"concurrency": concurrency,
	}).Info("Starting batch verification")
	o.emit(Event{Type: EventBatchStarted, Progress: &BatchProgress{Total: total}})

	var batchErr error
	for chunk := 0; chunk < total; chunk += concurrency {
		if err := ctx.Err(); err != nil {
			for i := chunk; i < total; i++ {
				results[i] = BatchResult{Errors: []string{err.Error()}}
			}
			batchErr = errors.VerificationError(err, "batch verification cancelled")
			break
		}

		end := min(chunk+concurrency, total)
		var g errgroup.Group
		for i := chunk; i < end; i++ {
			g.Go(func() error {
				resp, err := o.ExecuteVerification(ctx, requests[i])
				results[i] = batchResult(resp, err)
				return nil
			})
		}
		g.Wait()

		for i := chunk; i < end; i++ {
			if results[i].OK() {
				progress.Succeeded++
			} else {
				progress.Failed++
			}
		}
		progress.Completed = end

		snapshot := progress
		if opts.Progress != nil {
			o.reportProgress(opts.Progress, snapshot)
		}
		o.emit(Event{Type: EventBatchProgress, Progress: &snapshot})
	}

	if err := o.metrics.RecordOperation(operationBatch, o.now().Sub(start), batchErr == nil); err != nil {
		o.logger.WithError(err).Warn("Failed to record batch metrics")
	}
	final := progress
	o.emit(Event{Type: EventBatchCompleted, Progress: &final, Err: batchErr})
	o.logger.WithFields(logrus.Fields{
		"succeeded": progress.Succeeded,
		"failed":    progress.Failed,
	}).Info("Batch verification finished")

	return results, batchErr
}

func (o *Orchestrator) reportProgress(fn func(BatchProgress), p BatchProgress) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("Batch progress callback panicked: %v", r)
		}
	}()
	fn(p)
}

func batchResult(resp *VerificationResponse, err error) BatchResult {
	if err == nil {
		return BatchResult{Errors: []string{}, Response: resp}
	}
	if errors.HasCode(err, errors.CodeValidation) {
		if issues := errors.Issues(err); len(issues) > 0 {
			return BatchResult{Errors: issues}
		}
	}
	return BatchResult{Errors: []string{err.Error()}}
}

// GetSystemHealth summarizes metrics, cache, workflows and recovery state
func (o *Orchestrator) GetSystemHealth(ctx context.Context) (*SystemHealth, error) {
	if o.shutdown.Load() {
		return nil, errors.ShutdownError("health check")
	}

	snap := o.metrics.Snapshot()
	cs := o.cache.Stats()
	wc := o.workflows.Counts()
	unresolved := false

	h := &SystemHealth{
		Status: metrics.StatusForScore(snap.PerformanceScore),
		Metrics: MetricsHealth{
			PerformanceScore:    snap.PerformanceScore,
			TotalOperations:     snap.TotalOperations,
			SuccessRate:         snap.SuccessRate,
			AverageResponseTime: snap.AverageResponseTime,
		},
		Cache:     CacheHealth{HitRate: cs.HitRate, Size: cs.Size},
		Workflows: WorkflowHealth{Active: wc.Active, Completed: wc.Completed, Failed: wc.Failed},
		Recovery: RecoveryHealth{
			Degraded:         o.recovery.Engine().Degraded(),
			UnresolvedErrors: len(o.recovery.GetErrorReports(recovery.ReportFilter{Resolved: &unresolved})),
		},
		CheckedAt: o.now(),
	}

	if checker, ok := o.remote.(healthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			h.Cache.Remote = err.Error()
			h.Status = atLeastDegraded(h.Status)
		} else {
			h.Cache.Remote = "ok"
		}
	}
	if h.Recovery.Degraded {
		h.Status = atLeastDegraded(h.Status)
	}
	return h, nil
}

func atLeastDegraded(s metrics.HealthStatus) metrics.HealthStatus {
	if s == metrics.StatusHealthy {
		return metrics.StatusDegraded
	}
	return s
}

// Shutdown stops accepting work, waits for running workflows up to the
// configured timeout, then clears the local cache, purges terminal workflows and
// resets metrics. Later calls are no-ops.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	o.emit(Event{Type: EventSystemShutdown})
	o.logger.Info("Shutting down orchestrator")

	o.stopSweeper()
	<-o.sweeperDone

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownTimeout)
	defer cancel()
	if !o.workflows.WaitIdle(waitCtx, o.cfg.ShutdownPollInterval) {
		o.logger.WithField("active", o.workflows.Counts().Active).
			Warn("Shutdown wait expired with workflows still running")
	}

	o.cache.ClearLocal()
	purged := o.workflows.PurgeTerminal()
	o.metrics.Reset()

	o.logger.WithField("purged_workflows", purged).Info("Orchestrator shut down")
	return nil
}
