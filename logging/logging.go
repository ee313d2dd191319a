// Package logging constructs the named zap loggers shared across
// packages, matching the teacher's one-logger-per-package convention
// (decoder/stream/tcpConnection.go's streamLog/reassemblyLog).
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.Mutex
	loggers = make(map[string]*zap.Logger)
	base    *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}

	base = l
}

// SetLevel swaps the base logger for one with a different core, used by
// cmd/agent to wire in the configured log level/encoding at startup.
func SetLevel(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()

	base = l
	loggers = make(map[string]*zap.Logger)
}

// Named returns the package-scoped logger for name, constructing it on
// first use and caching it thereafter.
func Named(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}

	l := base.Named(name)
	loggers[name] = l

	return l
}
