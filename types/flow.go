package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterFlowIDMask isolates the low 24 bits of a flow id, used as the
// rolling per-minute counter component of UniqFlowIDInOneMinute.
const counterFlowIDMask uint64 = 0x00ffffff

// Flow is the top-level aggregated record emitted by the flow aggregator.
// Field numbers are stable for wire compatibility; never renumber.
type Flow struct {
	FlowKey           FlowKey            `protobuf:"bytes,1,opt" json:"flow_key"`
	MetricsPeerSrc    FlowMetricsPeer    `protobuf:"bytes,2,opt" json:"metrics_peer_src"`
	MetricsPeerDst    FlowMetricsPeer    `protobuf:"bytes,3,opt" json:"metrics_peer_dst"`
	Tunnel            TunnelField        `protobuf:"bytes,4,opt" json:"tunnel"`
	FlowID            uint64             `protobuf:"varint,5,opt" json:"flow_id"`
	SynSeq            uint32             `protobuf:"varint,6,opt" json:"syn_seq"`
	SynAckSeq         uint32             `protobuf:"varint,7,opt" json:"synack_seq"`
	LastKeepaliveSeq  uint32             `protobuf:"varint,8,opt" json:"last_keepalive_seq"`
	LastKeepaliveAck  uint32             `protobuf:"varint,9,opt" json:"last_keepalive_ack"`
	StartTime         time.Duration      `protobuf:"varint,10,opt" json:"start_time"`
	EndTime           time.Duration      `protobuf:"varint,11,opt" json:"end_time"`
	Duration          time.Duration      `protobuf:"varint,12,opt" json:"duration"`
	FlowStatTime      time.Duration      `protobuf:"varint,13,opt" json:"flow_stat_time"`
	Vlan              uint16             `protobuf:"varint,14,opt" json:"vlan"`
	EthType           uint16             `protobuf:"varint,15,opt" json:"eth_type"`
	PerfStats         *FlowPerfStats     `protobuf:"bytes,16,opt" json:"perf_stats,omitempty"`
	CloseType         CloseType          `protobuf:"varint,17,opt" json:"close_type"`
	FlowSource        FlowSource         `protobuf:"varint,18,opt" json:"flow_source"`
	IsActiveService   bool               `protobuf:"varint,19,opt" json:"is_active_service"`
	QueueHash         uint8              `protobuf:"varint,20,opt" json:"queue_hash"`
	IsNewFlow         bool               `protobuf:"varint,21,opt" json:"is_new_flow"`
	Reversed          bool               `protobuf:"varint,22,opt" json:"reversed"`
	TapSide           TapSide            `protobuf:"varint,23,opt" json:"tap_side"`
}

var flowFields = []string{
	"FlowID", "CloseType", "StartTime", "EndTime", "Duration", "FlowStatTime",
	"SrcIP", "DstIP", "SrcPort", "DstPort", "Proto", "Vlan", "TapSide",
}

// CSVHeaderFlow returns the column names for Flow.CSVRecord, matching the
// teacher's per-audit-record CSVHeader/CSVRecord convention.
func CSVHeaderFlow() []string {
	return flowFields
}

// CSVRecord renders the flow as a flat row for CSV export.
func (f *Flow) CSVRecord() []string {
	return []string{
		strconv.FormatUint(f.FlowID, 10),
		strconv.Itoa(int(f.CloseType)),
		strconv.FormatInt(f.StartTime.Milliseconds(), 10),
		strconv.FormatInt(f.EndTime.Milliseconds(), 10),
		strconv.FormatInt(f.Duration.Milliseconds(), 10),
		strconv.FormatInt(f.FlowStatTime.Milliseconds(), 10),
		f.FlowKey.IPSrc.String(),
		f.FlowKey.IPDst.String(),
		strconv.Itoa(int(f.FlowKey.PortSrc)),
		strconv.Itoa(int(f.FlowKey.PortDst)),
		f.FlowKey.Proto.String(),
		strconv.Itoa(int(f.Vlan)),
		strconv.Itoa(int(f.TapSide)),
	}
}

// Time returns the flow's end timestamp, satisfying the teacher's
// per-record Time() accessor used for write ordering.
func (f *Flow) Time() time.Time {
	return time.Unix(0, int64(f.EndTime))
}

// JSON renders the flow for JSON-based sinks, converting durations to
// milliseconds the way the teacher's types do for elastic/JSON export.
func (f *Flow) JSON() (string, error) {
	type jsonFlow struct {
		FlowID       uint64 `json:"flow_id"`
		CloseType    uint8  `json:"close_type"`
		StartTimeMs  int64  `json:"start_time_ms"`
		EndTimeMs    int64  `json:"end_time_ms"`
		DurationMs   int64  `json:"duration_ms"`
		SrcIP        string `json:"src_ip"`
		DstIP        string `json:"dst_ip"`
		SrcPort      uint16 `json:"src_port"`
		DstPort      uint16 `json:"dst_port"`
	}

	b, err := json.Marshal(jsonFlow{
		FlowID:      f.FlowID,
		CloseType:   uint8(f.CloseType),
		StartTimeMs: f.StartTime.Milliseconds(),
		EndTimeMs:   f.EndTime.Milliseconds(),
		DurationMs:  f.Duration.Milliseconds(),
		SrcIP:       f.FlowKey.IPSrc.String(),
		DstIP:       f.FlowKey.IPDst.String(),
		SrcPort:     f.FlowKey.PortSrc,
		DstPort:     f.FlowKey.PortDst,
	})

	return string(b), err
}

var flowsOut = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "deepflow_flow_total",
	Help: "Number of Flow audit records emitted, labeled by close type.",
}, []string{"close_type"})

func init() {
	prometheus.MustRegister(flowsOut)
}

// Inc exports the flow to prometheus, mirroring the teacher's per-record
// Inc() convention (types/vrrpv2.go).
func (f *Flow) Inc() {
	flowsOut.WithLabelValues(strconv.Itoa(int(f.CloseType))).Inc()
}

func (f *Flow) String() string {
	return fmt.Sprintf("Flow{id=%d %s close=%d}", f.FlowID, f.FlowKey.String(), f.CloseType)
}

// SequentialMerge folds a later partial observation of the same flow
// into this one, grounded on flow.rs's Flow::sequential_merge.
func (f *Flow) SequentialMerge(other *Flow) {
	f.MetricsPeerSrc.SequentialMerge(&other.MetricsPeerSrc)
	f.MetricsPeerDst.SequentialMerge(&other.MetricsPeerDst)

	f.EndTime = other.EndTime
	f.Duration = other.Duration

	if f.PerfStats == nil {
		f.PerfStats = other.PerfStats
	} else if other.PerfStats != nil {
		f.PerfStats.SequentialMerge(other.PerfStats)
	}

	f.CloseType = other.CloseType
	f.IsActiveService = other.IsActiveService
	f.Reversed = other.Reversed

	if other.Vlan > 0 {
		f.Vlan = other.Vlan
	}
	if other.LastKeepaliveSeq != 0 {
		f.LastKeepaliveSeq = other.LastKeepaliveSeq
	}
	if other.LastKeepaliveAck != 0 {
		f.LastKeepaliveAck = other.LastKeepaliveAck
	}
}

// Reverse flips the client/server orientation of the flow. noStats
// suppresses the Reversed flag flip for callers that already accounted
// for direction elsewhere. TcpPerfStats is deliberately left untouched:
// the aggregator only has perf stats once the flow's direction has
// already been fixed, so there is nothing meaningful left to reverse.
func (f *Flow) Reverse(noStats bool) {
	if !noStats {
		f.Reversed = !f.Reversed
	}

	f.TapSide = TapSideRest
	f.Tunnel.Reverse()
	f.FlowKey.Reverse()
	f.MetricsPeerSrc, f.MetricsPeerDst = f.MetricsPeerDst, f.MetricsPeerSrc
}

// UniqFlowIDInOneMinute derives the aggregator's per-minute-bucket
// dedup key from a raw 64-bit flow id.
//
// Bit layout (resolved against the Rust source, whose expression
// `flow_id >> 32 & 0xff << 24` relies on `<<` binding tighter than `&`):
// bits 56-63 of flow_id (a thread/cpu identifier byte) are placed into
// bits 24-31 of the 32-bit result, OR'd with the low 24 bits of flow_id
// used as a rolling per-minute counter.
func UniqFlowIDInOneMinute(flowID uint64) uint32 {
	return uint32((flowID>>32)&0xff000000) | uint32(flowID&counterFlowIDMask)
}
