package recovery

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/dlq"
	"github.com/rohankatakam/crisk-verify/internal/errors"
)

// ReportFilter selects error reports. Zero fields match everything.
type ReportFilter struct {
	Category  Category
	Severity  Severity
	Operation string
	Resolved  *bool
	Since     time.Time
}

func (f ReportFilter) matches(r *ErrorReport) bool {
	if f.Category != "" && r.Analysis.Category != f.Category {
		return false
	}
	if f.Severity != "" && r.Analysis.Severity != f.Severity {
		return false
	}
	if f.Operation != "" && r.Context.Operation != f.Operation {
		return false
	}
	if f.Resolved != nil && r.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && r.ReportedAt.Before(f.Since) {
		return false
	}
	return true
}

// Handler classifies failures, runs at most one recovery attempt per failure
// and keeps the error report log.
type Handler struct {
	classifier *Classifier
	engine     *Engine
	archive    Archiver
	logger     *logrus.Logger

	mu      sync.Mutex
	reports []*ErrorReport

	now func() time.Time
}

// NewHandler creates a handler. archive may be nil.
func NewHandler(logger *logrus.Logger, engine *Engine, archive Archiver) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if engine == nil {
		engine = NewEngine(logger, DefaultEngineConfig())
	}
	return &Handler{
		classifier: NewClassifier(),
		engine:     engine,
		archive:    archive,
		logger:     logger,
		now:        time.Now,
	}
}

// Engine returns the recovery engine used by the handler
func (h *Handler) Engine() *Engine {
	return h.engine
}

// HandleError classifies err, attempts recovery once for auto-recoverable
// service failures and appends the report to the log. Everything else is
// recorded without recovery.
func (h *Handler) HandleError(ctx context.Context, err error, ectx ErrorContext) *ErrorReport {
	if ectx.Timestamp.IsZero() {
		ectx.Timestamp = h.now()
	}
	analysis := h.classifier.Analyze(err, ectx)

	report := &ErrorReport{
		ID:         uuid.New().String(),
		Err:        err,
		Message:    analysis.Cause,
		Context:    ectx,
		Analysis:   *analysis,
		Attempts:   []*RecoveryAttempt{},
		ReportedAt: h.now(),
	}

	if recoverable(err, analysis) {
		attempt, execErr := h.engine.Execute(ctx, analysis.Strategy.Type, analysis)
		if execErr != nil {
			h.logger.WithError(execErr).WithField("report", report.ID).Warn("Recovery could not run")
		} else {
			report.Attempts = append(report.Attempts, attempt)
			report.Resolved = attempt.Success
		}
	}

	h.mu.Lock()
	h.reports = append(h.reports, report)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"report":    report.ID,
		"operation": ectx.Operation,
		"service":   ectx.Service,
		"category":  analysis.Category,
		"severity":  analysis.Severity,
		"strategy":  analysis.Strategy.Type,
		"resolved":  report.Resolved,
	}).Warn("Error handled")

	if !report.Resolved && h.archive != nil {
		_, archiveErr := h.archive.Enqueue(ctx, dlq.Entry{
			ReportID:     report.ID,
			Operation:    ectx.Operation,
			Service:      ectx.Service,
			Category:     string(analysis.Category),
			Severity:     string(analysis.Severity),
			ErrorMessage: report.Message,
			Metadata:     ectx.Extra,
		})
		if archiveErr != nil {
			h.logger.WithError(archiveErr).Warn("Failed to archive error report")
		}
	}

	return report
}

// recoverable limits the engine to failures of external AI and service
// dependencies. Typed failures raised inside the system and unclassified
// internal errors surface immediately.
func recoverable(err error, analysis *ErrorAnalysis) bool {
	if !analysis.Strategy.AutoRecoverable {
		return false
	}
	switch analysis.Category {
	case CategoryValidation, CategoryInternal:
		return false
	}
	if e, ok := errors.As(err); ok && e.Type != errors.ErrorTypeExternal {
		return false
	}
	return true
}

// GetRecoveryStrategy classifies err without recording or recovering
func (h *Handler) GetRecoveryStrategy(err error, ectx ErrorContext) RecoveryStrategy {
	return h.classifier.Analyze(err, ectx).Strategy
}

// GetErrorReports returns the reports matching filter in report order
func (h *Handler) GetErrorReports(filter ReportFilter) []*ErrorReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*ErrorReport, 0, len(h.reports))
	for _, r := range h.reports {
		if filter.matches(r) {
			cp := *r
			cp.Attempts = append([]*RecoveryAttempt(nil), r.Attempts...)
			out = append(out, &cp)
		}
	}
	return out
}

// PurgeErrorReports removes reports matching filter and returns how many were removed
func (h *Handler) PurgeErrorReports(filter ReportFilter) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.reports[:0]
	removed := 0
	for _, r := range h.reports {
		if filter.matches(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(h.reports); i++ {
		h.reports[i] = nil
	}
	h.reports = kept
	return removed
}

// ClearResolvedErrors removes resolved reports and returns the count removed
func (h *Handler) ClearResolvedErrors() int {
	resolved := true
	return h.PurgeErrorReports(ReportFilter{Resolved: &resolved})
}
