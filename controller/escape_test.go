package controller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyh01/deepflow/defaults"
)

func TestEscapeTimerExitsAfterTimeout(t *testing.T) {
	var exitCode atomic.Int64
	exitCode.Store(-1)

	timer := NewEscapeTimer(func(code int) { exitCode.Store(int64(code)) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		timer.Run(ctx)
		close(done)
	}()

	timer.Reset(20 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("escape timer never returned after expiring")
	}

	if exitCode.Load() != int64(defaults.NormalExitWithRestart) {
		t.Fatalf("expected exit code %d, got %d", defaults.NormalExitWithRestart, exitCode.Load())
	}
}

func TestEscapeTimerResetPreventsExit(t *testing.T) {
	var exited atomic.Bool

	timer := NewEscapeTimer(func(int) { exited.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		timer.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		timer.Reset(40 * time.Millisecond)
		time.Sleep(15 * time.Millisecond)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("escape timer never returned after ctx cancellation")
	}

	if exited.Load() {
		t.Fatalf("expected the repeatedly-reset timer to never fire exit")
	}
}
