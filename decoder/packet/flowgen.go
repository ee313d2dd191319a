package packet

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cyh01/deepflow/logging"
	"github.com/cyh01/deepflow/queue"
	"github.com/cyh01/deepflow/types"
)

var flowgenLog = logging.Named("flowgen")

// tcpState is a coarse per-flow TCP handshake/teardown state, grounded
// on flow.rs's FlowState/update_close_type but collapsed to the states
// this generator actually needs to distinguish for CloseType purposes.
type tcpState uint8

const (
	tcpStateOpening1 tcpState = iota
	tcpStateOpening2
	tcpStateEstablished
	tcpStateClosingHalf
	tcpStateClosed
	tcpStateReset
)

// reportInterval bounds how long an established flow is allowed to run
// without an intermediate report: a flow open longer than this is
// force-reported so long-lived connections don't wait until teardown
// (or process exit) to produce any audit record, grounded on flow.rs's
// periodic FlowState::Established reporting via CloseType::ForcedReport.
const reportInterval = time.Minute

// flowNode is one tracked flow's live accumulator state. It owns no
// independent copy of payload bytes, only the counters and flags a Flow
// record needs.
type flowNode struct {
	sync.Mutex

	flow *types.Flow

	state        tcpState
	finSide      int8 // side that sent the first FIN, -1 if none yet
	rstSide      int8 // side that sent RST, -1 if none
	lastReported time.Time
	lastSeen     time.Time
}

// FlowGenerator tracks live flows keyed by their canonical (direction
// insensitive) 5-tuple hash, folding MetaPackets into per-flow
// FlowMetricsPeer counters and emitting finalized or periodically
// forced-report *types.Flow records to out. It generalizes
// connection.go's atomicConnMap pattern (bidirectional flow-keyed state
// tracking, first/last timestamps, packet/byte accumulation) from the
// teacher's audit-record Connection model to the Flow model the
// aggregator consumes.
type FlowGenerator struct {
	mu    sync.Mutex
	items map[uint64]*flowNode

	out         queue.Sender[*types.Flow]
	idleTimeout time.Duration

	nextFlowID uint64

	VtapID  uint16
	TapType types.TapType
}

// NewFlowGenerator returns a FlowGenerator sending finalized flows to
// out; idleTimeout is how long a flow may go unobserved before FlushIdle
// finalizes it with the close type closeTypeForIdle picks for its state.
func NewFlowGenerator(out queue.Sender[*types.Flow], idleTimeout time.Duration) *FlowGenerator {
	return &FlowGenerator{
		items:       make(map[uint64]*flowNode),
		out:         out,
		idleTimeout: idleTimeout,
	}
}

// canonicalHash normalizes k to the lower-address-first orientation
// before hashing, so a->b and b->a packets of the same flow land on the
// same map entry regardless of capture order.
func canonicalHash(k *LookupKey) uint64 {
	if !k.Reversed() {
		return k.FastHash()
	}

	swapped := *k
	swapped.IPSrc, swapped.IPDst = k.IPDst, k.IPSrc
	swapped.PortSrc, swapped.PortDst = k.PortDst, k.PortSrc

	return swapped.FastHash()
}

// Feed folds one decoded packet into its flow's running state, creating
// a new entry on first observation and emitting a finalized Flow the
// moment the packet chain tells us the flow is done (TCP FIN/RST
// teardown complete). It returns the flow id mp belongs to and which
// canonical side sent it (0 or 1), so a caller can also offer mp's
// payload to the L7 sniffer under a stable per-flow key; ok is false for
// protocols this generator doesn't track (anything but TCP/UDP).
func (g *FlowGenerator) Feed(mp *MetaPacket) (flowID uint64, side int8, ok bool) {
	if mp.LookupKey.Proto != types.L4ProtocolTCP && mp.LookupKey.Proto != types.L4ProtocolUDP {
		return 0, 0, false
	}

	hash := canonicalHash(&mp.LookupKey)
	side = sideOf(&mp.LookupKey)

	if side == 0 {
		mp.Direction = types.DirectionClientToServer
	} else {
		mp.Direction = types.DirectionServerToClient
	}

	g.mu.Lock()
	node, exists := g.items[hash]
	if !exists {
		node = g.newNodeLocked(mp, side)
		g.items[hash] = node
	}
	g.mu.Unlock()

	node.Lock()
	flowID = node.flow.FlowID

	node.lastSeen = mp.Timestamp
	node.observe(mp, side)

	done, closeType := node.teardownComplete()
	forceNow := !done && node.state == tcpStateEstablished && mp.Timestamp.Sub(node.lastReported) >= reportInterval
	node.Unlock()

	if done {
		g.finalizeAndRemove(hash, node, closeType)
		return flowID, side, true
	}

	if forceNow {
		node.Lock()
		g.forceReport(node, mp.Timestamp)
		node.Unlock()
	}

	return flowID, side, true
}

// sideOf reports which canonical side (0 = lower address, 1 = higher
// address) sent the packet described by k.
func sideOf(k *LookupKey) int8 {
	if k.Reversed() {
		return 1
	}

	return 0
}

func (g *FlowGenerator) newNodeLocked(mp *MetaPacket, side int8) *flowNode {
	g.nextFlowID++

	key := types.FlowKey{
		VtapID:  g.VtapID,
		TapType: g.TapType,
		TapPort: mp.LookupKey.TapPort,
		Proto:   mp.LookupKey.Proto,
	}

	if side == 0 {
		key.MACSrc, key.MACDst = mp.LookupKey.MACSrc, mp.LookupKey.MACDst
		key.IPSrc, key.IPDst = mp.LookupKey.IPSrc, mp.LookupKey.IPDst
		key.PortSrc, key.PortDst = mp.LookupKey.PortSrc, mp.LookupKey.PortDst
	} else {
		key.MACSrc, key.MACDst = mp.LookupKey.MACDst, mp.LookupKey.MACSrc
		key.IPSrc, key.IPDst = mp.LookupKey.IPDst, mp.LookupKey.IPSrc
		key.PortSrc, key.PortDst = mp.LookupKey.PortDst, mp.LookupKey.PortSrc
	}

	f := &types.Flow{
		FlowKey:     key,
		FlowID:      g.nextFlowID,
		StartTime:   time.Duration(mp.Timestamp.UnixNano()),
		Vlan:        mp.LookupKey.Vlan,
		EthType:     mp.LookupKey.EthType,
		IsNewFlow:   true,
	}

	// UDP has no handshake to track; treat it as already established so
	// an idle UDP flow is flushed as CloseTypeTimeout rather than the
	// TCP-specific unanswered-SYN close types.
	initial := tcpStateOpening1
	if mp.LookupKey.Proto == types.L4ProtocolUDP {
		initial = tcpStateEstablished
	}

	return &flowNode{
		flow:         f,
		state:        initial,
		finSide:      -1,
		rstSide:      -1,
		lastReported: mp.Timestamp,
		lastSeen:     mp.Timestamp,
	}
}

// observe folds one packet's counters and TCP flags into n, updating
// n.state along the way; callers must hold n's lock.
func (n *flowNode) observe(mp *MetaPacket, side int8) {
	peer := &n.flow.MetricsPeerSrc
	if side == 1 {
		peer = &n.flow.MetricsPeerDst
	}

	peer.PacketCount++
	peer.TotalPacketCount++
	peer.ByteCount += uint64(mp.PacketLen)
	peer.L3ByteCount += uint64(mp.PacketLen)
	peer.TotalByteCount += uint64(mp.PacketLen)
	peer.Last = time.Duration(mp.Timestamp.UnixNano())
	if peer.First == 0 {
		peer.First = peer.Last
	}

	n.flow.EndTime = time.Duration(mp.Timestamp.UnixNano())
	n.flow.Duration = n.flow.EndTime - n.flow.StartTime
	n.flow.FlowStatTime = n.flow.EndTime

	if mp.LookupKey.Proto != types.L4ProtocolTCP {
		return
	}

	peer.TcpFlags |= types.TcpFlags(mp.TCP.Flags)

	const (
		flagFIN = 0x01
		flagSYN = 0x02
		flagRST = 0x04
		flagACK = 0x10
	)

	switch {
	case mp.TCP.Flags&flagRST != 0:
		n.state = tcpStateReset
		n.rstSide = side
	case mp.TCP.Flags&flagFIN != 0:
		if n.finSide < 0 {
			n.finSide = side
			n.state = tcpStateClosingHalf
		} else if n.finSide != side {
			n.state = tcpStateClosed
		}
	case mp.TCP.Flags&flagSYN != 0 && mp.TCP.Flags&flagACK != 0:
		if n.state == tcpStateOpening1 {
			n.state = tcpStateOpening2
		}
	case mp.TCP.Flags&flagSYN != 0:
		// repeated SYN from the same side that hasn't heard back yet;
		// state stays Opening1.
	default:
		if n.state == tcpStateOpening2 {
			n.state = tcpStateEstablished
		}
	}
}

// teardownComplete reports whether n has reached a terminal TCP state
// (clean double-FIN close, or RST) that should finalize the flow
// immediately rather than waiting for an idle timeout.
func (n *flowNode) teardownComplete() (bool, types.CloseType) {
	switch n.state {
	case tcpStateClosed:
		return true, types.CloseTypeTCPFIN
	case tcpStateReset:
		if n.rstSide == 1 {
			return true, types.CloseTypeTCPServerRst
		}

		return true, types.CloseTypeTCPClientRst
	default:
		return false, types.CloseTypeUnknown
	}
}

// closeTypeForIdle maps n's current (non-terminal) state to the
// CloseType used when it is flushed for inactivity rather than an
// observed teardown, grounded on flow.rs's update_close_type
// (Opening1->ClientSynRepeat, Opening2->ServerSynAckRepeat,
// Established->Timeout, ClosingTx1/ClosingRx1->Server/ClientHalfClose).
func (n *flowNode) closeTypeForIdle() types.CloseType {
	switch n.state {
	case tcpStateOpening1:
		return types.CloseTypeClientSYNRepeat
	case tcpStateOpening2:
		return types.CloseTypeServerSYNAckRepeat
	case tcpStateEstablished:
		return types.CloseTypeTimeout
	case tcpStateClosingHalf:
		if n.finSide == 1 {
			return types.CloseTypeServerHalfClose
		}

		return types.CloseTypeClientHalfClose
	default:
		return types.CloseTypeUnknown
	}
}

// finalizeAndRemove emits n's flow with closeType set, then deletes it
// from the live table; g.mu must NOT be held by the caller.
func (g *FlowGenerator) finalizeAndRemove(hash uint64, n *flowNode, closeType types.CloseType) {
	n.flow.CloseType = closeType

	g.mu.Lock()
	delete(g.items, hash)
	g.mu.Unlock()

	if !g.out.Send(n.flow) {
		flowgenLog.Debug("flow dropped, downstream queue full", zap.Uint64("flow_id", n.flow.FlowID))
	}
}

// forceReport sends a ForcedReport snapshot of n's flow so far and
// resets its counters for the next reporting window, grounded on
// flow_aggr.rs's CloseType::ForcedReport merge contract (the aggregator
// stashes it until a later observation of the same flow arrives).
func (g *FlowGenerator) forceReport(n *flowNode, now time.Time) {
	snapshot := *n.flow
	snapshot.CloseType = types.CloseTypeForcedReport
	snapshot.IsNewFlow = n.flow.IsNewFlow

	if !g.out.Send(&snapshot) {
		flowgenLog.Debug("forced report dropped, downstream queue full", zap.Uint64("flow_id", n.flow.FlowID))
	}

	n.flow.IsNewFlow = false
	n.flow.MetricsPeerSrc = types.FlowMetricsPeer{}
	n.flow.MetricsPeerDst = types.FlowMetricsPeer{}
	n.flow.StartTime = n.flow.EndTime
	n.lastReported = now
}

// FlushIdle walks every live flow and finalizes those that have been
// silent for at least g.idleTimeout, grounded on flow_map.rs's periodic
// timeout sweep. It takes g.mu itself, so it may run on its own
// goroutine alongside Feed; cmd/agent calls it from a ticker goroutine.
func (g *FlowGenerator) FlushIdle(now time.Time) {
	g.mu.Lock()
	var stale []struct {
		hash uint64
		node *flowNode
	}

	for hash, n := range g.items {
		n.Lock()
		idle := now.Sub(n.lastSeen) >= g.idleTimeout
		n.Unlock()

		if idle {
			stale = append(stale, struct {
				hash uint64
				node *flowNode
			}{hash, n})
		}
	}
	g.mu.Unlock()

	for _, s := range stale {
		s.node.Lock()
		closeType := s.node.closeTypeForIdle()
		s.node.Unlock()

		g.finalizeAndRemove(s.hash, s.node, closeType)
	}
}

// Close flushes every still-live flow with the close type
// closeTypeForIdle picks for its state, used at shutdown so in-flight
// flows aren't silently discarded.
func (g *FlowGenerator) Close() {
	g.mu.Lock()
	items := g.items
	g.items = make(map[uint64]*flowNode)
	g.mu.Unlock()

	for hash, n := range items {
		n.Lock()
		closeType := n.closeTypeForIdle()
		n.Unlock()

		g.finalizeAndRemove(hash, n, closeType)
	}
}

// Count reports the number of flows currently tracked.
func (g *FlowGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.items)
}
