// Package session pairs the two halves of an application-layer
// transaction (request and response) observed on the same flow into a
// single AppProtoLogsData record, grounded on
// protocol_logs/mod.rs's ebpf_flow_session_id/session_merge.
package session

import (
	"sync"
	"time"

	"github.com/cyh01/deepflow/decoder/l7"
	"github.com/cyh01/deepflow/types"
)

// flowIDPart keeps the top byte of a 64-bit flow id in bits 56-63 and
// moves its low 24 bits up to bits 32-55, leaving the low 32 bits clear
// so the protocol code (bits 24-31) and a session id or cap-seq counter
// (bits 0-23) can be packed in without colliding with the flow id's own
// identifying bits. Grounded on mod.rs's
// `(flow_id >> 56 << 56) | (flow_id << 40 >> 8)`.
func flowIDPart(flowID uint64) uint64 {
	return (flowID >> 56 << 56) | (flowID << 40 >> 8)
}

// Key derives the session pairing key for one half-transaction,
// grounded on mod.rs's ebpf_flow_session_id.
func Key(flowID uint64, proto types.L7Protocol, msgType types.LogMessageType, info l7.Info, capSeq uint32) uint64 {
	base := flowIDPart(flowID) | uint64(proto)<<24

	if sessioned, ok := info.(interface{ SessionID() (uint32, bool) }); ok {
		if id, ok := sessioned.SessionID(); ok {
			return base | (uint64(id) & 0xffffff)
		}
	}

	if msgType == types.LogMessageTypeRequest {
		capSeq++
	}

	return base | (uint64(capSeq) & 0xffffff)
}

// half is one observed leg of a transaction awaiting its pair.
type half struct {
	info      l7.Info
	msgType   types.LogMessageType
	proto     types.L7Protocol
	observed  time.Time
}

// Aggregator pairs request/response halves sharing a session Key into a
// merged record, emitting the merged pair once both halves arrive or
// flushing an unpaired half once it has waited past ttl.
type Aggregator struct {
	mu      sync.Mutex
	pending map[uint64]half
	ttl     time.Duration
}

// NewAggregator returns an Aggregator that holds an unpaired half for
// up to ttl before flushing it alone.
func NewAggregator(ttl time.Duration) *Aggregator {
	return &Aggregator{
		pending: make(map[uint64]half),
		ttl:     ttl,
	}
}

// Observe records one half-transaction. If its pairing key matches a
// pending half, the two are merged and returned together with true; the
// pending entry is removed either way once matched.
func (a *Aggregator) Observe(key uint64, proto types.L7Protocol, msgType types.LogMessageType, info l7.Info, now time.Time) (l7.Info, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.pending[key]; ok {
		delete(a.pending, key)

		earlier, later := existing, half{info: info, msgType: msgType, proto: proto, observed: now}
		if earlier.msgType == types.LogMessageTypeResponse {
			earlier, later = later, earlier
		}

		earlier.info.Merge(later.info)

		return earlier.info, true
	}

	a.pending[key] = half{info: info, msgType: msgType, proto: proto, observed: now}

	return nil, false
}

// Evict flushes and returns every pending half older than ttl as of now,
// so a request that never saw a response still gets reported.
func (a *Aggregator) Evict(now time.Time) []l7.Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	var flushed []l7.Info

	for key, h := range a.pending {
		if now.Sub(h.observed) >= a.ttl {
			flushed = append(flushed, h.info)
			delete(a.pending, key)
		}
	}

	return flushed
}

// Len reports how many half-transactions are currently awaiting a pair.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending)
}
