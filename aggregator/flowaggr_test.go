package aggregator

import (
	"testing"
	"time"

	"github.com/cyh01/deepflow/queue"
	"github.com/cyh01/deepflow/types"
)

func newTestAggr(now time.Time) (*FlowAggr, *ThrottlingQueue, *queue.Chan[*types.Flow]) {
	sink := queue.NewChan[*types.Flow](1024)
	throttle := NewThrottlingQueue(sink, now)
	throttle.throttle = 1_000_000 // effectively unthrottled for these tests

	return NewFlowAggr(now, throttle), throttle, sink
}

func TestFlowAggrNonForcedReportSentDirectlyOnFirstObservation(t *testing.T) {
	now := time.Unix(1000, 0)
	a, throttle, sink := newTestAggr(now)

	f := &types.Flow{
		FlowID:       1,
		CloseType:    types.CloseTypeTCPFIN,
		FlowStatTime: time.Duration(now.UnixNano()),
	}

	a.Merge(f)
	throttle.Flush()

	got, ok := sink.Recv(100 * time.Millisecond)
	if !ok {
		t.Fatalf("expected the non-forced-report flow to be sent immediately")
	}
	if got.FlowID != 1 {
		t.Fatalf("unexpected flow sent: %+v", got)
	}
	if a.Counter.Out != 1 {
		t.Fatalf("expected Out counter to be 1, got %d", a.Counter.Out)
	}
}

func TestFlowAggrForcedReportStashedThenMerged(t *testing.T) {
	now := time.Unix(2000, 0)
	a, throttle, sink := newTestAggr(now)

	first := &types.Flow{
		FlowID:         7,
		CloseType:      types.CloseTypeForcedReport,
		FlowStatTime:   time.Duration(now.UnixNano()),
		MetricsPeerSrc: types.FlowMetricsPeer{ByteCount: 10},
	}
	a.Merge(first)
	throttle.Flush()

	if _, ok := sink.Recv(50 * time.Millisecond); ok {
		t.Fatalf("forced-report flow should not be sent before its close type resolves")
	}

	second := &types.Flow{
		FlowID:         7,
		CloseType:      types.CloseTypeTCPFIN,
		FlowStatTime:   time.Duration(now.Add(time.Second).UnixNano()),
		MetricsPeerSrc: types.FlowMetricsPeer{ByteCount: 20},
	}
	a.Merge(second)
	throttle.Flush()

	got, ok := sink.Recv(100 * time.Millisecond)
	if !ok {
		t.Fatalf("expected the merged flow to be sent once close_type resolves")
	}
	if got.MetricsPeerSrc.ByteCount != 30 {
		t.Fatalf("expected merged byte counts, got %d", got.MetricsPeerSrc.ByteCount)
	}
	if got.CloseType != types.CloseTypeTCPFIN {
		t.Fatalf("expected final close type to win, got %v", got.CloseType)
	}
}

func TestFlowAggrDropsFlowBeforeWindow(t *testing.T) {
	now := time.Unix(3000, 0)
	a, _, _ := newTestAggr(now)

	stale := &types.Flow{
		FlowID:       3,
		CloseType:    types.CloseTypeForcedReport,
		FlowStatTime: time.Duration(now.Add(-time.Minute).UnixNano()),
	}
	a.Merge(stale)

	if a.Counter.DropBeforeWindow != 1 {
		t.Fatalf("expected DropBeforeWindow to be 1, got %d", a.Counter.DropBeforeWindow)
	}
}

func TestFlowAggrSlotRolloverFlushesOldSlot(t *testing.T) {
	now := time.Unix(4000, 0)
	a, throttle, sink := newTestAggr(now)

	stashed := &types.Flow{
		FlowID:       9,
		CloseType:    types.CloseTypeForcedReport,
		FlowStatTime: time.Duration(now.UnixNano()),
	}
	a.Merge(stashed)

	// Jump three minutes ahead: this exceeds minuteSlots (2), which
	// should flush+rotate enough to clear the earlier forced-report
	// entry even though no later merge arrives for flow 9.
	later := &types.Flow{
		FlowID:       99,
		CloseType:    types.CloseTypeForcedReport,
		FlowStatTime: time.Duration(now.Add(3 * time.Minute).UnixNano()),
	}
	a.Merge(later)
	throttle.Flush()

	var sawNine bool
	for i := 0; i < 2; i++ {
		got, ok := sink.Recv(50 * time.Millisecond)
		if !ok {
			break
		}
		if got.FlowID == 9 {
			sawNine = true
		}
	}

	if !sawNine {
		t.Fatalf("expected the stale forced-report flow to be flushed out on slot rollover")
	}
}
