package l7

import (
	"sync"
	"time"

	"github.com/cyh01/deepflow/decoder/l7/session"
	"github.com/cyh01/deepflow/metrics"
	"github.com/cyh01/deepflow/types"
)

// flowState is the live per-flow sniffing state: the shrinking
// candidate bitmap plus one ParserState per protocol still in play.
type flowState struct {
	bitmap Bitmap
	states map[types.L7Protocol]ParserState
	capSeq uint32
}

// Sniffer dispatches per-packet flow payloads to every still-candidate
// parser for that flow, narrowing the candidate set as parsers reject a
// payload, and pairs request/response halves via a session.Aggregator,
// grounded on the teacher's per-packet DPI loop (decoder/ipProfile.go)
// generalized to a per-flow live sniff bitmap plus the protocol dispatch
// table idiom of decoder/gopacketDecoder.go's GoPacketDecoder handlers.
type Sniffer struct {
	reg      *Registry
	sessions *session.Aggregator

	mu    sync.Mutex
	flows map[uint64]*flowState
}

// NewSniffer returns a Sniffer dispatching through reg, holding an
// unpaired request/response half for up to sessionTTL before EvictStale
// flushes it.
func NewSniffer(reg *Registry, sessionTTL time.Duration) *Sniffer {
	return &Sniffer{
		reg:      reg,
		sessions: session.NewAggregator(sessionTTL),
		flows:    make(map[uint64]*flowState),
	}
}

func (s *Sniffer) stateFor(flowID uint64) *flowState {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.flows[flowID]
	if !ok {
		fs = &flowState{
			bitmap: NewBitmap(s.reg),
			states: make(map[types.L7Protocol]ParserState),
		}
		s.flows[flowID] = fs
	}

	return fs
}

// Feed offers one direction's payload for flowID to the parsers still
// live candidates for that flow, in registry order, stopping at the
// first one that returns an Info. It returns the merged Info if that
// half completed a transaction (both halves observed), or nil if not.
func (s *Sniffer) Feed(flowID uint64, payload []byte, dir types.PacketDirection, now time.Time) Info {
	if len(payload) == 0 {
		return nil
	}

	fs := s.stateFor(flowID)

	for _, p := range s.reg.All() {
		proto := p.Protocol()

		if !fs.bitmap.Has(proto) {
			continue
		}

		state, ok := fs.states[proto]
		if !ok {
			state = p.NewState()
			fs.states[proto] = state
		}

		info, msgType, err := p.Parse(state, payload, dir)
		if err != nil {
			switch err {
			case ErrNotThisProtocol, ErrUnimplemented:
				// ErrUnimplemented demotes a stable-coded-but-stub
				// protocol (HTTP/Dubbo/Kafka) the same way a decisive
				// rejection does: it will never resolve, so stop
				// offering this flow's payload to it.
				s.mu.Lock()
				fs.bitmap = fs.bitmap.Clear(proto)
				s.mu.Unlock()
			default:
				metrics.ParseErrors.WithLabelValues(proto.String()).Inc()
			}

			continue
		}
		if info == nil {
			continue
		}

		key := session.Key(flowID, proto, msgType, info, fs.capSeq)
		fs.capSeq++

		if merged, paired := s.sessions.Observe(key, proto, msgType, info, now); paired {
			return merged
		}

		return nil
	}

	return nil
}

// EvictStale flushes every session half that has waited past its TTL
// without a pair, returning each as an unpaired Info so it can still be
// reported as a timed-out transaction.
func (s *Sniffer) EvictStale(now time.Time) []Info {
	return s.sessions.Evict(now)
}

// Forget drops a flow's sniffing state once the flow itself has been
// finalized, so the sniffer's memory doesn't grow unbounded across the
// agent's lifetime.
func (s *Sniffer) Forget(flowID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flows, flowID)
}
