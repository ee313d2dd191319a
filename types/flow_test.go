package types

import "testing"

func TestUniqFlowIDInOneMinute(t *testing.T) {
	// thread/cpu byte = 0x7f in bits 56-63, counter = 0x000123 in the low 24 bits.
	flowID := uint64(0x7f)<<56 | uint64(0x000123)

	got := UniqFlowIDInOneMinute(flowID)
	want := uint32(0x7f000000) | uint32(0x000123)

	if got != want {
		t.Fatalf("UniqFlowIDInOneMinute(%#x) = %#x, want %#x", flowID, got, want)
	}
}

func TestUniqFlowIDInOneMinuteIgnoresMiddleBits(t *testing.T) {
	base := uint64(0xab)<<56 | uint64(0x00ffff)<<24 | uint64(0x000456)

	got := UniqFlowIDInOneMinute(base)
	want := uint32(0xab000000) | uint32(0x000456)

	if got != want {
		t.Fatalf("middle bits leaked into result: got %#x want %#x", got, want)
	}
}

func TestFlowMetricsPeerSequentialMergeSumsCountersAndOverwritesFlags(t *testing.T) {
	p := &FlowMetricsPeer{ByteCount: 10, PacketCount: 1, L3EpcID: 5, IsVIP: false, TcpFlags: 0x02}
	other := &FlowMetricsPeer{ByteCount: 20, PacketCount: 2, L3EpcID: 9, IsVIP: true, TcpFlags: 0x10}

	p.SequentialMerge(other)

	if p.ByteCount != 30 || p.PacketCount != 3 {
		t.Fatalf("counters not summed: %+v", p)
	}
	if p.L3EpcID != 9 || !p.IsVIP {
		t.Fatalf("latest-wins fields not overwritten: %+v", p)
	}
	if p.TcpFlags != 0x12 {
		t.Fatalf("tcp flags not OR'd: %#x", p.TcpFlags)
	}
}

func TestL7PerfStatsSequentialMergeMaxesRRTMax(t *testing.T) {
	s := &L7PerfStats{RequestCount: 1, RRTMax: 100}
	other := &L7PerfStats{RequestCount: 2, RRTMax: 50}

	s.SequentialMerge(other)

	if s.RequestCount != 3 {
		t.Fatalf("request count not summed: %d", s.RequestCount)
	}
	if s.RRTMax != 100 {
		t.Fatalf("RRTMax should keep the larger value, got %d", s.RRTMax)
	}
}

func TestFlowReverseDoesNotTouchPerfStats(t *testing.T) {
	f := &Flow{}
	f.PerfStats = &FlowPerfStats{TCP: TcpPerfStats{SRT: 42}}
	f.MetricsPeerSrc.ByteCount = 1
	f.MetricsPeerDst.ByteCount = 2

	f.Reverse(false)

	if f.PerfStats.TCP.SRT != 42 {
		t.Fatalf("Reverse must not mutate TcpPerfStats")
	}
	if f.MetricsPeerSrc.ByteCount != 2 || f.MetricsPeerDst.ByteCount != 1 {
		t.Fatalf("Reverse must swap the metrics peers")
	}
	if !f.Reversed {
		t.Fatalf("Reversed flag should flip when noStats is false")
	}
}

func TestFlowReverseNoStatsSkipsReversedFlag(t *testing.T) {
	f := &Flow{}

	f.Reverse(true)

	if f.Reversed {
		t.Fatalf("Reversed flag must not flip when noStats is true")
	}
}
