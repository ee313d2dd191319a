package packet

import (
	"time"

	"github.com/cyh01/deepflow/types"
)

// HeaderType records which header chain the decoder successfully
// walked, so downstream stages (TCP reassembly, L7 sniffing) know what
// is actually present rather than re-deriving it from offsets.
type HeaderType uint8

const (
	HeaderTypeInvalid HeaderType = iota
	HeaderTypeEthernet
	HeaderTypeIPv4
	HeaderTypeIPv6
	HeaderTypeTCP
	HeaderTypeUDP
	HeaderTypeICMPv4
	HeaderTypeICMPv6
)

// TCPHeader carries the fields the flow pipeline needs out of a TCP
// segment without retaining the backing buffer past the decode call.
type TCPHeader struct {
	SeqNum      uint32
	AckNum      uint32
	DataOffset  uint8
	Flags       uint8
	WindowSize  uint16
	HasTimestamp bool
	TSVal, TSEcr uint32
}

// MetaPacket is the single reusable decode result for one packet: every
// field the pipeline downstream of the decoder needs, populated in one
// zero-copy pass over the packet bytes. Callers must treat MetaPacket as
// valid only until the next Decode call on the same decoder instance
// mutates it (it owns no independent copy of the payload).
type MetaPacket struct {
	LookupKey LookupKey

	Timestamp time.Time
	RawLen    int
	PacketLen int

	HeaderType HeaderType
	TTL        uint8

	TCP TCPHeader

	L4PayloadOffset int
	L4PayloadLen    int

	Direction    types.PacketDirection
	IsFragment   bool
	NPBIgnoreL4  bool

	payload []byte
}

// Payload returns the L4 payload slice captured by the last Decode call.
// The slice aliases the packet buffer passed to Decode and must not be
// retained past the caller's use of this MetaPacket.
func (m *MetaPacket) Payload() []byte {
	if m.L4PayloadOffset < 0 || m.L4PayloadOffset+m.L4PayloadLen > len(m.payload) {
		return nil
	}

	return m.payload[m.L4PayloadOffset : m.L4PayloadOffset+m.L4PayloadLen]
}

// Reset clears a MetaPacket for reuse by the next Decode call, avoiding
// a fresh allocation per packet on the hot path.
func (m *MetaPacket) Reset() {
	*m = MetaPacket{}
}
