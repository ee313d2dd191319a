// Package aggregator implements the two-slot minute-bucketed flow
// aggregator and its downstream throttling queue, grounded on
// collector/flow_aggr.rs.
package aggregator

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyh01/deepflow/logging"
	"github.com/cyh01/deepflow/metrics"
	"github.com/cyh01/deepflow/queue"
	"github.com/cyh01/deepflow/types"
)

const (
	minuteSlots      = 2
	flushTimeout     = 120 * time.Second
	queueReadTimeout = 2 * time.Second
	minute           = time.Minute
)

var aggrLog = logging.Named("aggregator")

// Counter tracks the aggregator's drop/output accounting, exported via
// metrics; all fields are updated atomically since Merge runs on the
// aggregator's single goroutine but the Counter fields may be read
// concurrently by a metrics scrape.
type Counter struct {
	DropBeforeWindow uint64
	Out              uint64
	DropInThrottle   uint64
}

func (c *Counter) addDropBeforeWindow() {
	atomic.AddUint64(&c.DropBeforeWindow, 1)
	metrics.DropBeforeWindow.Inc()
}

func (c *Counter) addOut() {
	atomic.AddUint64(&c.Out, 1)
	metrics.FlowsOut.Inc()
}

func (c *Counter) addDropInThrottle() {
	atomic.AddUint64(&c.DropInThrottle, 1)
	metrics.DropInThrottle.Inc()
}

// slot holds every flow currently aggregating within one minute bucket,
// keyed by types.UniqFlowIDInOneMinute(flow.FlowID).
type slot map[uint32]*types.Flow

// FlowAggr merges successive partial Flow observations that arrive
// within the same (or adjacent) minute bucket into a single record
// before handing it to the downstream throttling queue, grounded on
// collector/flow_aggr.rs's FlowAggr.
type FlowAggr struct {
	Counter Counter

	mu            sync.Mutex
	slots         *list.List // of slot, front = oldest
	slotStartTime time.Time
	lastFlushTime time.Time

	out *ThrottlingQueue
}

// NewFlowAggr constructs a FlowAggr whose slot clock starts at now and
// whose finalized flows are handed to out.
func NewFlowAggr(now time.Time, out *ThrottlingQueue) *FlowAggr {
	a := &FlowAggr{
		slots:         list.New(),
		slotStartTime: now,
		lastFlushTime: now,
		out:           out,
	}

	for i := 0; i < minuteSlots; i++ {
		a.slots.PushBack(make(slot))
	}

	return a
}

// Merge folds f into the aggregator, grounded on FlowAggr::merge.
func (a *FlowAggr) Merge(f *types.Flow) {
	a.mu.Lock()
	defer a.mu.Unlock()

	flowTime := time.Unix(0, int64(f.FlowStatTime))
	if flowTime.Before(a.slotStartTime) {
		a.Counter.addDropBeforeWindow()
		return
	}

	slotIdx := int(flowTime.Sub(a.slotStartTime) / minute)
	if slotIdx >= minuteSlots {
		a.flushSlots(slotIdx - minuteSlots + 1)
		slotIdx = minuteSlots - 1
	}

	s := a.slotAt(slotIdx)
	key := types.UniqFlowIDInOneMinute(f.FlowID)

	if existing, ok := s[key]; ok {
		if existing.Reversed != f.Reversed {
			f.Reverse(true)
		}

		existing.SequentialMerge(f)

		if existing.CloseType != types.CloseTypeForcedReport {
			delete(s, key)
			a.sendFlow(existing)
		}
	} else {
		if f.CloseType != types.CloseTypeForcedReport {
			a.sendFlow(f)
		} else {
			s[key] = f
		}
	}

	// A flow whose minute bucket rolled over mid-flight may already have
	// a stashed entry in the previous slot; flush it too so the two
	// halves of the same flow don't both linger.
	if slotIdx > 0 {
		prev := a.slotAt(slotIdx - 1)
		if stashed, ok := prev[key]; ok {
			delete(prev, key)
			a.sendFlow(stashed)
		}
	}
}

func (a *FlowAggr) slotAt(idx int) slot {
	e := a.slots.Front()
	for i := 0; i < idx; i++ {
		e = e.Next()
	}

	return e.Value.(slot)
}

// sendFlow finalizes f for the throttling queue, grounded on
// FlowAggr::send_flow: non-new flows have their reported start time
// rounded down to the minute boundary, and a ForcedReport's end time is
// set to the minute boundary that follows its stat time.
func (a *FlowAggr) sendFlow(f *types.Flow) {
	if !f.IsNewFlow {
		f.StartTime = roundDownToMinute(f.StartTime)
	}

	if f.CloseType == types.CloseTypeForcedReport {
		f.EndTime = roundDownToMinute(f.FlowStatTime + minute)
	}

	a.Counter.addOut()

	if !a.out.Send(f) {
		a.Counter.addDropInThrottle()
	}
}

func roundDownToMinute(d time.Duration) time.Duration {
	return d - d%minute
}

// flushSlots flushes min(count, minuteSlots) front slots,
// advancing slotStartTime by one minute each time; any excess beyond
// minuteSlots just advances the clock without anything to flush,
// grounded on FlowAggr::flush_slots.
func (a *FlowAggr) flushSlots(count int) {
	n := count
	if n > minuteSlots {
		n = minuteSlots
	}

	for i := 0; i < n; i++ {
		a.flushFrontSlotAndRotate()
	}

	if count > minuteSlots {
		a.slotStartTime = a.slotStartTime.Add(time.Duration(count-minuteSlots) * minute)
	}
}

// flushFrontSlotAndRotate drains and sends every flow in the oldest
// slot, then recycles it onto the back of the ring, grounded on
// FlowAggr::flush_front_slot_and_rotate.
func (a *FlowAggr) flushFrontSlotAndRotate() {
	front := a.slots.Front()
	s := front.Value.(slot)

	for _, f := range s {
		a.sendFlow(f)
	}

	a.slots.Remove(front)
	a.slots.PushBack(make(slot))

	a.lastFlushTime = a.slotStartTime.Add(minute)
	a.slotStartTime = a.lastFlushTime
}

// Run drains src until it reports done, merging every flow and flushing
// stale slots after flushTimeout of inactivity, grounded on
// FlowAggr::run.
func (a *FlowAggr) Run(src queue.Receiver[*types.Flow], done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		f, ok := src.Recv(queueReadTimeout)
		if !ok {
			a.mu.Lock()
			stale := time.Now().After(a.lastFlushTime.Add(flushTimeout))
			a.mu.Unlock()

			if stale {
				a.mu.Lock()
				a.flushFrontSlotAndRotate()
				a.mu.Unlock()
			}

			continue
		}

		a.Merge(f)
	}
}
