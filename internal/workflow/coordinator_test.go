package workflow

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/crisk-verify/internal/errors"
)

func TestCoordinator_Lifecycle(t *testing.T) {
	c := NewCoordinator(nil, 0)

	require.NoError(t, c.Start("op-1", "validate"))
	require.NoError(t, c.UpdateStep("op-1", "assess"))
	require.NoError(t, c.UpdateStep("op-1", "assess"), "step updates are idempotent")

	r, ok := c.Get("op-1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, "assess", r.CurrentStep)

	require.NoError(t, c.Complete("op-1"))
	r, _ = c.Get("op-1")
	assert.Equal(t, StatusCompleted, r.Status)
	assert.False(t, r.FinishedAt.IsZero())
}

func TestCoordinator_Errors(t *testing.T) {
	c := NewCoordinator(nil, 0)
	require.NoError(t, c.Start("done", "x"))
	require.NoError(t, c.Fail("done", stderrors.New("boom")))

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"update missing", func() error { return c.UpdateStep("missing", "x") }, errors.CodeWorkflowNotFound},
		{"complete missing", func() error { return c.Complete("missing") }, errors.CodeWorkflowNotFound},
		{"fail missing", func() error { return c.Fail("missing", nil) }, errors.CodeWorkflowNotFound},
		{"duplicate start", func() error { return c.Start("done", "x") }, errors.CodeWorkflowExists},
		{"complete after fail", func() error { return c.Complete("done") }, errors.CodeWorkflowTransition},
		{"update after fail", func() error { return c.UpdateStep("done", "y") }, errors.CodeWorkflowTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}

	r, _ := c.Get("done")
	assert.Equal(t, StatusFailed, r.Status, "terminal states are final")
	assert.Equal(t, "boom", r.Failure)
}

func TestCoordinator_CountsSweepAndPurge(t *testing.T) {
	c := NewCoordinator(nil, 24*time.Hour)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	require.NoError(t, c.Start("old", "x"))
	require.NoError(t, c.Complete("old"))
	clock = clock.Add(23 * time.Hour)
	require.NoError(t, c.Start("recent", "x"))
	require.NoError(t, c.Fail("recent", nil))
	require.NoError(t, c.Start("running", "x"))

	assert.Equal(t, Counts{Active: 1, Completed: 1, Failed: 1}, c.Counts())

	clock = clock.Add(2 * time.Hour)
	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Get("old")
	assert.False(t, ok)

	assert.Equal(t, 1, c.PurgeTerminal())
	assert.Equal(t, Counts{Active: 1}, c.Counts())
}

func TestCoordinator_WaitIdle(t *testing.T) {
	c := NewCoordinator(nil, 0)
	require.NoError(t, c.Start("op", "x"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Complete("op")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, c.WaitIdle(ctx, 5*time.Millisecond))

	require.NoError(t, c.Start("stuck", "x"))
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.False(t, c.WaitIdle(short, 5*time.Millisecond))
}

func TestCoordinator_RunSweeperStopsWithContext(t *testing.T) {
	c := NewCoordinator(nil, time.Nanosecond)
	require.NoError(t, c.Start("op", "x"))
	require.NoError(t, c.Complete("op"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Counts().Completed == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestCoordinator_ConcurrentWorkflows(t *testing.T) {
	c := NewCoordinator(nil, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A'+i%26)) + string(rune('a'+i/26))
			if err := c.Start(id, "start"); err != nil {
				return
			}
			c.UpdateStep(id, "work")
			c.Complete(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, Counts{Completed: 50}, c.Counts())
}
