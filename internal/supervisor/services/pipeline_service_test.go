// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockPipelineRunner implements PipelineRunner for testing.
type mockPipelineRunner struct {
	runErr     error
	runBlocks  bool
	runCount   atomic.Int32
	runStarted chan struct{}
	stopCh     chan struct{}
}

func newMockPipelineRunner() *mockPipelineRunner {
	return &mockPipelineRunner{
		runStarted: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

func (m *mockPipelineRunner) RunWithContext(ctx context.Context) error {
	m.runCount.Add(1)

	// Signal that we've started
	select {
	case m.runStarted <- struct{}{}:
	default:
	}

	// Return error immediately if set
	if m.runErr != nil {
		return m.runErr
	}

	// If blocking, wait until context canceled or stopped
	if m.runBlocks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		}
	}

	return nil
}

func (m *mockPipelineRunner) RunCallCount() int {
	return int(m.runCount.Load())
}

func (m *mockPipelineRunner) Stop() {
	select {
	case m.stopCh <- struct{}{}:
	default:
	}
}

// --- Test: PipelineService implements suture.Service ---

func TestPipelineService_Interface(t *testing.T) {
	t.Parallel()

	// Verify PipelineService implements suture.Service
	var _ suture.Service = (*PipelineService)(nil)
}

// --- Test: NewPipelineService ---

func TestNewPipelineService(t *testing.T) {
	t.Parallel()

	engine := newMockPipelineRunner()
	svc := NewPipelineService(engine)

	if svc == nil {
		t.Fatal("NewPipelineService() = nil, want non-nil")
	}

	if svc.runner != engine {
		t.Error("engine not assigned correctly")
	}

	if svc.name != "pipeline-consumer" {
		t.Errorf("expected name 'pipeline-consumer', got %q", svc.name)
	}
}

// --- Test: PipelineService.Serve ---

func TestPipelineService_Serve(t *testing.T) {
	t.Parallel()

	t.Run("calls engine RunWithContext", func(t *testing.T) {
		t.Parallel()

		engine := newMockPipelineRunner()
		engine.runBlocks = true
		svc := NewPipelineService(engine)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)

		go func() {
			errCh <- svc.Serve(ctx)
		}()

		// Wait for engine to start
		select {
		case <-engine.runStarted:
		case <-time.After(time.Second):
			t.Fatal("engine did not start")
		}

		// Cancel context
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve() error = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Error("Serve() did not return after context cancellation")
		}

		if engine.RunCallCount() != 1 {
			t.Errorf("RunWithContext called %d times, want 1", engine.RunCallCount())
		}
	})

	t.Run("propagates engine error", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("pipeline consumer error")
		engine := newMockPipelineRunner()
		engine.runErr = expectedErr
		svc := NewPipelineService(engine)

		err := svc.Serve(context.Background())

		if !errors.Is(err, expectedErr) {
			t.Errorf("Serve() error = %v, want %v", err, expectedErr)
		}
	})

	t.Run("returns immediately when engine returns", func(t *testing.T) {
		t.Parallel()

		engine := newMockPipelineRunner()
		engine.runBlocks = false // Returns immediately
		svc := NewPipelineService(engine)

		done := make(chan struct{})
		go func() {
			_ = svc.Serve(context.Background())
			close(done)
		}()

		select {
		case <-done:
			// Expected
		case <-time.After(time.Second):
			t.Error("Serve() did not return when engine returned")
		}
	})
}

// --- Test: PipelineService.String ---

func TestPipelineService_String(t *testing.T) {
	t.Parallel()

	engine := newMockPipelineRunner()
	svc := NewPipelineService(engine)

	if got := svc.String(); got != "pipeline-consumer" {
		t.Errorf("String() = %q, want 'pipeline-consumer'", got)
	}
}

// --- Test: Integration with Suture supervisor ---

func TestPipelineService_WithSupervisor(t *testing.T) {
	t.Parallel()

	engine := newMockPipelineRunner()
	engine.runBlocks = true
	svc := NewPipelineService(engine)

	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 3,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          2 * time.Second,
	})
	sup.Add(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := sup.ServeBackground(ctx)

	// Wait for engine to start
	select {
	case <-engine.runStarted:
	case <-time.After(time.Second):
		t.Fatal("engine did not start under supervisor")
	}

	if engine.RunCallCount() < 1 {
		t.Error("RunWithContext was not called")
	}

	cancel()
	<-errCh
}

func TestPipelineService_RestartOnError(t *testing.T) {
	t.Parallel()

	engine := newMockPipelineRunner()
	engine.runErr = errors.New("transient error")
	svc := NewPipelineService(engine)

	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   5 * time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := sup.ServeBackground(ctx)
	<-errCh

	// Should have been restarted multiple times due to error
	if engine.RunCallCount() < 2 {
		t.Errorf("expected multiple restarts, got %d runs", engine.RunCallCount())
	}
}
