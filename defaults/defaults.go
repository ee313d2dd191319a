// Package defaults collects the agent's tunable constant defaults in
// one place, matching the teacher's defaults package layout.
package defaults

import "time"

const (
	// MinuteSlots is the number of concurrent one-minute buckets the
	// flow aggregator keeps open, grounded on flow_aggr.rs's
	// MINUTE_SLOTS.
	MinuteSlots = 2

	// FlushTimeout is how long the aggregator waits without a flush
	// before forcing one, grounded on flow_aggr.rs's FLUSH_TIMEOUT.
	FlushTimeout = 120 * time.Second

	// ThrottleBucketSeconds is the throttling queue's reservoir-sampling
	// window width, grounded on flow_aggr.rs's THROTTLE_BUCKET (1 << 2).
	ThrottleBucketSeconds = 4

	// MinL4LogCollectNPSThreshold is the lowest accepted configured
	// throttle rate, grounded on flow_aggr.rs's
	// MIN_L4_LOG_COLLECT_NPS_THRESHOLD.
	MinL4LogCollectNPSThreshold = 100

	// MaxL4LogCollectNPSThreshold is the highest accepted configured
	// throttle rate, grounded on flow_aggr.rs's MAX.
	MaxL4LogCollectNPSThreshold = 1_000_000

	// DefaultSyncInterval is the controller sync loop's steady-state
	// poll interval, grounded on synchronizer.rs's DEFAULT_SYNC_INTERVAL.
	DefaultSyncInterval = 60 * time.Second

	// RPCRetryInterval is how long the sync loop waits after an RPC
	// failure before retrying, grounded on synchronizer.rs's
	// RPC_RETRY_INTERVAL.
	RPCRetryInterval = 60 * time.Second

	// DefaultEscapeTime is how long the agent tolerates being
	// disconnected from its controller before restarting, grounded on
	// synchronizer.rs's run_escape_timer default of 1h.
	DefaultEscapeTime = time.Hour

	// NormalExitWithRestart is the process exit code used to request a
	// supervisor-driven restart, grounded on synchronizer.rs's
	// NORMAL_EXIT_WITH_RESTART.
	NormalExitWithRestart = 3

	// SessionPairTTL bounds how long an L7 session aggregator holds an
	// unpaired request/response half before flushing it alone.
	SessionPairTTL = 30 * time.Second
)
