package workflow

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/errors"
)

// Status of a workflow. COMPLETED and FAILED are terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	// DefaultRetention is how long terminal records are kept
	DefaultRetention = 24 * time.Hour
	// DefaultSweepInterval is the background sweep period
	DefaultSweepInterval = 60 * time.Second
)

// Record is a snapshot of one workflow
type Record struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	CurrentStep string    `json:"current_step"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Failure     string    `json:"failure,omitempty"`
}

// Counts summarizes workflows by status
type Counts struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Coordinator tracks running -> completed|failed per operation id. Records are
// only mutated through its methods.
type Coordinator struct {
	mu        sync.RWMutex
	records   map[string]*Record
	retention time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator keeping terminal records for retention
func NewCoordinator(logger *logrus.Logger, retention time.Duration) *Coordinator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Coordinator{
		records:   make(map[string]*Record),
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers a running workflow
func (c *Coordinator) Start(id, step string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[id]; exists {
		return errors.OrchestrationErrorf(errors.CodeWorkflowExists, "workflow %s already exists", id)
	}
	now := c.now()
	c.records[id] = &Record{
		ID:          id,
		Status:      StatusRunning,
		CurrentStep: step,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// UpdateStep overwrites the current step of a running workflow
func (c *Coordinator) UpdateStep(id, step string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.running(id, "update")
	if err != nil {
		return err
	}
	r.CurrentStep = step
	r.UpdatedAt = c.now()
	return nil
}

// Complete moves a running workflow to completed
func (c *Coordinator) Complete(id string) error {
	return c.finish(id, StatusCompleted, "")
}

// Fail moves a running workflow to failed
func (c *Coordinator) Fail(id string, reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	return c.finish(id, StatusFailed, msg)
}

func (c *Coordinator) finish(id string, status Status, failure string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.running(id, string(status))
	if err != nil {
		return err
	}
	now := c.now()
	r.Status = status
	r.Failure = failure
	r.UpdatedAt = now
	r.FinishedAt = now
	return nil
}

// running returns the record for id if it exists and is still running.
// Callers hold c.mu.
func (c *Coordinator) running(id, op string) (*Record, error) {
	r, ok := c.records[id]
	if !ok {
		return nil, errors.OrchestrationErrorf(errors.CodeWorkflowNotFound, "workflow %s not found", id)
	}
	if r.Status.Terminal() {
		return nil, errors.OrchestrationErrorf(errors.CodeWorkflowTransition,
			"cannot %s workflow %s: already %s", op, id, r.Status)
	}
	return r, nil
}

// Get returns a copy of the record for id
func (c *Coordinator) Get(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Counts returns the number of workflows per status
func (c *Coordinator) Counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var counts Counts
	for _, r := range c.records {
		switch r.Status {
		case StatusRunning:
			counts.Active++
		case StatusCompleted:
			counts.Completed++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// Sweep removes terminal records finished more than the retention ago
func (c *Coordinator) Sweep() int {
	cutoff := c.now().Add(-c.retention)
	return c.remove(func(r *Record) bool {
		return r.Status.Terminal() && r.FinishedAt.Before(cutoff)
	})
}

// PurgeTerminal removes every terminal record regardless of age
func (c *Coordinator) PurgeTerminal() int {
	return c.remove(func(r *Record) bool { return r.Status.Terminal() })
}

func (c *Coordinator) remove(match func(*Record) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, r := range c.records {
		if match(r) {
			delete(c.records, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done. Sweep failures are
// logged and swallowed.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeSweep()
		}
	}
}

func (c *Coordinator) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", fmt.Sprint(r)).Warn("Workflow sweep failed")
		}
	}()
	if n := c.Sweep(); n > 0 {
		c.logger.WithField("removed", n).Debug("Swept terminal workflows")
	}
}

// WaitIdle polls until no workflow is running or ctx is done. It reports
// whether the coordinator drained.
func (c *Coordinator) WaitIdle(ctx context.Context, poll time.Duration) bool {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if c.Counts().Active == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return c.Counts().Active == 0
		case <-ticker.C:
		}
	}
}
