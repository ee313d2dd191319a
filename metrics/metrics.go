// Package metrics registers the prometheus counters and gauges shared
// across pipeline components, grounded on types/vrrpv2.go's
// prometheus.NewCounterVec per-audit-record convention, generalized
// from per-record-type counters into pipeline-stage counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ParseErrors counts recoverable L7 parse failures, labeled by
	// protocol.
	ParseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepflow_l7_parse_errors_total",
		Help: "Recoverable L7 protocol parse failures, by protocol.",
	}, []string{"protocol"})

	// DropBeforeWindow counts flows dropped by the aggregator because
	// they arrived before the current aggregation window's start.
	DropBeforeWindow = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deepflow_flow_aggr_drop_before_window_total",
		Help: "Flows dropped because they arrived before the aggregator's current window.",
	})

	// DropInThrottle counts flows dropped by the throttling queue's
	// reservoir sampler.
	DropInThrottle = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deepflow_flow_aggr_drop_in_throttle_total",
		Help: "Flows dropped by the throttling queue's reservoir sampler.",
	})

	// FlowsOut counts flows the aggregator hands to its throttling queue,
	// including those the queue's sampler then drops.
	FlowsOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deepflow_flow_aggr_out_total",
		Help: "Flows successfully handed off by the aggregator.",
	})

	// Exception is a 0/1 gauge vector recording the agent's current
	// exception flags (controller socket error, NTP failure, ...).
	Exception = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deepflow_exception",
		Help: "Current exception state, by exception kind (1 = active).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(ParseErrors, DropBeforeWindow, DropInThrottle, FlowsOut, Exception)
}
