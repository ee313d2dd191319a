package aggregator

import (
	"testing"
	"time"

	"github.com/cyh01/deepflow/queue"
	"github.com/cyh01/deepflow/types"
)

// primeThrottle consumes the bucket-rollover that NewThrottlingQueue's
// fake construction time inevitably triggers on the first real Send
// (since lastBucket starts out derived from the caller-supplied now,
// not wall-clock time), then pins the queue into a known state so the
// rest of a test isn't at the mercy of updateThrottle's config read.
func primeThrottle(q *ThrottlingQueue, sink *queue.Chan[*types.Flow], throttle int) {
	q.Send(&types.Flow{})

	for {
		if _, ok := sink.Recv(time.Millisecond); !ok {
			break
		}
	}

	q.mu.Lock()
	q.throttle = throttle
	q.stashs = nil
	q.periodCount = 0
	q.mu.Unlock()
}

func TestThrottlingQueueAcceptsUnderCap(t *testing.T) {
	now := time.Unix(10_000, 0)
	sink := queue.NewChan[*types.Flow](16)
	q := NewThrottlingQueue(sink, now)
	primeThrottle(q, sink, 5)

	for i := 0; i < 3; i++ {
		if !q.Send(&types.Flow{FlowID: uint64(i)}) {
			t.Fatalf("expected flow %d to be accepted under the cap", i)
		}
	}

	if len(q.stashs) != 3 {
		t.Fatalf("expected 3 stashed flows, got %d", len(q.stashs))
	}
}

func TestThrottlingQueueReservoirSamplesOverCap(t *testing.T) {
	now := time.Unix(20_000, 0)
	sink := queue.NewChan[*types.Flow](64)
	q := NewThrottlingQueue(sink, now)
	primeThrottle(q, sink, 2)

	var rejected int
	for i := 0; i < 20; i++ {
		if !q.Send(&types.Flow{FlowID: uint64(i)}) {
			rejected++
		}
	}

	if len(q.stashs) != 2 {
		t.Fatalf("expected the stash to stay capped at 2, got %d", len(q.stashs))
	}
	if rejected != 18 {
		t.Fatalf("expected 18 of 20 sends to report rejection, got %d", rejected)
	}
}

func TestThrottlingQueueRejectsEverythingWhenThrottleIsZero(t *testing.T) {
	now := time.Unix(30_000, 0)
	sink := queue.NewChan[*types.Flow](4)
	q := NewThrottlingQueue(sink, now)
	primeThrottle(q, sink, 0)

	if q.Send(&types.Flow{FlowID: 1}) {
		t.Fatalf("expected send to report rejection when throttle is zero")
	}
	if len(q.stashs) != 0 {
		t.Fatalf("expected nothing stashed when throttle is zero")
	}
}

func TestThrottlingQueueFlushDeliversStashedFlows(t *testing.T) {
	now := time.Unix(40_000, 0)
	sink := queue.NewChan[*types.Flow](16)
	q := NewThrottlingQueue(sink, now)
	primeThrottle(q, sink, 10)

	q.Send(&types.Flow{FlowID: 1})
	q.Send(&types.Flow{FlowID: 2})
	q.Flush()

	if len(q.stashs) != 0 {
		t.Fatalf("expected stash to be cleared after Flush, got %d entries", len(q.stashs))
	}
	if sink.Len() != 2 {
		t.Fatalf("expected 2 flows delivered to the sink, got %d", sink.Len())
	}
}

func TestThrottlingQueueBucketRolloverFlushesPreviousBucket(t *testing.T) {
	now := time.Unix(50_000, 0)
	sink := queue.NewChan[*types.Flow](16)
	q := NewThrottlingQueue(sink, now)
	primeThrottle(q, sink, 10)

	q.Send(&types.Flow{FlowID: 1})

	if sink.Len() != 0 {
		t.Fatalf("expected nothing delivered before a bucket rollover")
	}

	// Force the next Send to observe a stale lastBucket, simulating the
	// wall clock having moved into a new throttling bucket.
	q.mu.Lock()
	q.lastBucket--
	q.mu.Unlock()

	q.Send(&types.Flow{FlowID: 2})

	if sink.Len() != 1 {
		t.Fatalf("expected the rollover to flush the first stashed flow, sink has %d", sink.Len())
	}
}
