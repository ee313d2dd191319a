// Package config implements RCU-style immutable configuration
// distribution: readers Load() a pointer once per iteration, writers
// build a fresh Snapshot and Store it, generalized from the teacher's
// package-level `var conf *Config` pattern (every decoder reads the same
// global, set once at startup) into an atomically swappable pointer a
// running sync loop can update.
package config

import (
	"sync/atomic"
	"time"
)

// Snapshot is one immutable configuration generation. Every field a
// running component reads at runtime belongs here so a single atomic
// swap changes all of them together.
type Snapshot struct {
	Version uint64

	// L4LogCollectNPS is the target flow-log throttle: at most this
	// many flow logs are sent per second, matching flow_aggr.rs's
	// l4_log_collect_nps_threshold.
	L4LogCollectNPS uint64

	// ConnTimeout is the L7 sniffer's session-pairing TTL: how long an
	// unpaired request/response half is held before it is flushed.
	ConnTimeout time.Duration

	// SyncInterval is the controller sync loop's steady-state poll
	// interval.
	SyncInterval time.Duration

	// NTPEnabled toggles the periodic NTP clock-offset correction.
	NTPEnabled bool

	// EscapeTime bounds how long the agent will run disconnected from
	// its controller before restarting, matching synchronizer.rs's
	// escape timer.
	EscapeTime time.Duration

	// ExportMetrics toggles prometheus export of per-record counters.
	ExportMetrics bool
}

var current atomic.Pointer[Snapshot]

// Default returns a Snapshot populated with the agent's built-in
// defaults (see the defaults package for the individual constants).
func Default() *Snapshot {
	return &Snapshot{
		Version:         1,
		L4LogCollectNPS: 100,
		ConnTimeout:     90 * time.Second,
		SyncInterval:    60 * time.Second,
		NTPEnabled:      true,
		EscapeTime:      time.Hour,
		ExportMetrics:   true,
	}
}

func init() {
	current.Store(Default())
}

// Load returns the currently active Snapshot. Callers should call this
// once per unit of work (per packet, per sync iteration) rather than
// holding onto it, so configuration changes take effect promptly.
func Load() *Snapshot {
	return current.Load()
}

// Store atomically publishes snap as the active configuration.
func Store(snap *Snapshot) {
	current.Store(snap)
}
