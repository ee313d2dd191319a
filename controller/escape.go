package controller

import (
	"context"
	"os"
	"time"

	"github.com/cyh01/deepflow/defaults"
)

// EscapeTimer restarts the agent if it goes too long without a
// successful controller sync, grounded on synchronizer.rs's
// run_escape_timer: a disconnected agent keeps running with stale
// configuration otherwise, which either leaks memory it can't reclaim
// or persists a controller address a DNS change has since invalidated.
type EscapeTimer struct {
	reset chan time.Duration

	// exit is called with defaults.NormalExitWithRestart once the timer
	// expires; overridable in tests, defaults to os.Exit.
	exit func(code int)
}

// NewEscapeTimer returns an EscapeTimer. exit defaults to os.Exit when nil.
func NewEscapeTimer(exit func(code int)) *EscapeTimer {
	if exit == nil {
		exit = os.Exit
	}

	return &EscapeTimer{
		reset: make(chan time.Duration),
		exit:  exit,
	}
}

// Reset restarts the timer so it expires d from now, matching the escape_tx.send(duration)
// call each successful sync makes in the Rust original.
func (t *EscapeTimer) Reset(d time.Duration) {
	t.reset <- d
}

// Run blocks until ctx is cancelled, restarting the process via exit
// if the timer ever elapses without a Reset.
func (t *EscapeTimer) Run(ctx context.Context) {
	escapeTime := defaults.DefaultEscapeTime
	timer := time.NewTimer(escapeTime)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-t.reset:
			if !timer.Stop() {
				<-timer.C
			}
			escapeTime = d
			timer.Reset(escapeTime)
		case <-timer.C:
			controllerLog.Warn("deepflow-agent restart, as max escape time expired")
			t.exit(defaults.NormalExitWithRestart)

			return
		}
	}
}
