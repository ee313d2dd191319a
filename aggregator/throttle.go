package aggregator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cyh01/deepflow/config"
	"github.com/cyh01/deepflow/defaults"
	"github.com/cyh01/deepflow/queue"
	"github.com/cyh01/deepflow/types"
)

const throttleBucketBits = 2 // THROTTLE_BUCKET = 1 << 2, i.e. a 4-second window

// ThrottlingQueue reservoir-samples flows down to a configured
// per-second rate before handing them to the sender queue, grounded on
// flow_aggr.rs's ThrottlingQueue.
type ThrottlingQueue struct {
	mu sync.Mutex

	sink queue.Sender[*types.Flow]

	throttle    int // per-bucket cap, i.e. configured NPS * bucket width
	periodCount int
	lastBucket  int64
	stashs      []*types.Flow
	rng         *rand.Rand
}

// NewThrottlingQueue returns a ThrottlingQueue sending accepted flows to
// sink, seeded from the current configuration's L4LogCollectNPS.
func NewThrottlingQueue(sink queue.Sender[*types.Flow], now time.Time) *ThrottlingQueue {
	q := &ThrottlingQueue{
		sink:       sink,
		lastBucket: bucketOf(now),
		rng:        rand.New(rand.NewSource(now.UnixNano())),
	}

	q.updateThrottle()

	return q
}

func bucketOf(t time.Time) int64 {
	return t.Unix() >> throttleBucketBits
}

// Send reservoir-samples f into the current bucket, returning false if
// it was dropped (either because the bucket is already full and the
// sample was rejected, or because it displaced an existing stashed flow),
// grounded on
// ThrottlingQueue::send.
func (q *ThrottlingQueue) Send(f *types.Flow) bool {
	q.mu.Lock()

	now := bucketOf(time.Now())
	if now != q.lastBucket {
		q.updateThrottle()
		q.flushLocked()
		q.periodCount = 0
		q.lastBucket = now
	}

	q.periodCount++

	var accepted bool

	if len(q.stashs) < q.throttle {
		q.stashs = append(q.stashs, f)
		accepted = true
	} else if q.throttle > 0 {
		r := q.rng.Intn(q.periodCount)
		if r < q.throttle {
			q.stashs[r] = f
		}
		accepted = false
	} else {
		accepted = false
	}

	q.mu.Unlock()

	return accepted
}

// updateThrottle re-reads the live configuration's throttle rate,
// clamping it into the accepted range and converting it into a
// per-bucket cap, grounded on ThrottlingQueue::update_throttle.
func (q *ThrottlingQueue) updateThrottle() {
	nps := config.Load().L4LogCollectNPS

	if nps < defaults.MinL4LogCollectNPSThreshold {
		nps = defaults.MinL4LogCollectNPSThreshold
	}
	if nps > defaults.MaxL4LogCollectNPSThreshold {
		nps = defaults.MaxL4LogCollectNPSThreshold
	}

	q.throttle = int(nps) * defaults.ThrottleBucketSeconds
}

// flushLocked sends every stashed flow to the sink and clears the
// stash; callers must hold q.mu.
func (q *ThrottlingQueue) flushLocked() {
	for _, f := range q.stashs {
		q.sink.Send(f)
	}

	q.stashs = nil
}

// Flush forces out whatever is currently stashed, used at shutdown so
// the last partial bucket isn't silently discarded.
func (q *ThrottlingQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushLocked()
}
