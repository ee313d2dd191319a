package packet

import (
	"encoding/binary"
	"time"

	"github.com/dreadl0ck/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/cyh01/deepflow/logging"
	"github.com/cyh01/deepflow/types"
)

var decodeLog = logging.Named("packet")

// ErrTruncated indicates the captured bytes ended before a header that
// the outer length fields claimed should be present.
var ErrTruncated = errors.New("packet: truncated header")

const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	ipv4MinHeaderLen  = 20
	ipv6HeaderLen     = 40
	tcpMinHeaderLen   = 20
	udpHeaderLen      = 8
)

// Decoder walks a packet's header chain in a single zero-copy pass,
// filling a caller-owned MetaPacket. One Decoder is reused across an
// entire capture session; it holds no per-packet state of its own,
// mirroring the teacher's one-decoder-per-concern, reused-across-packets
// GoPacketDecoder idiom (decoder/gopacketDecoder.go) generalized from
// "one decoder per gopacket layer type" into "one decoder, full chain".
type Decoder struct {
	NumDecoded int64
	NumErrors  int64
}

// NewDecoder constructs a Decoder ready for repeated use.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode walks data's header chain, populating mp. ts is the capture
// timestamp reported by the capture source. Decode does not copy the
// payload: mp's payload aliases data, while the source and destination
// IP addresses are copied.
func (d *Decoder) Decode(data []byte, ts time.Time, mp *MetaPacket) error {
	mp.Reset()
	mp.Timestamp = ts
	mp.RawLen = len(data)
	mp.payload = data

	if len(data) < ethernetHeaderLen {
		d.NumErrors++
		return errors.Wrap(ErrTruncated, "ethernet header")
	}

	mp.LookupKey.MACDst = macToUint64(data[0:6])
	mp.LookupKey.MACSrc = macToUint64(data[6:12])
	mp.HeaderType = HeaderTypeEthernet

	offset := ethernetHeaderLen
	ethType := binary.BigEndian.Uint16(data[12:14])

	// Walk through 802.1Q tags (possibly stacked, QinQ).
	for ethType == uint16(layers.EthernetTypeDot1Q) || ethType == 0x9100 {
		if len(data) < offset+vlanTagLen {
			d.NumErrors++
			return errors.Wrap(ErrTruncated, "802.1q tag")
		}

		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		mp.LookupKey.Vlan = tci & 0x0fff
		ethType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanTagLen
	}

	mp.LookupKey.EthType = ethType

	var err error

	switch ethType {
	case uint16(layers.EthernetTypeIPv4):
		offset, err = d.decodeIPv4(data, offset, mp)
	case uint16(layers.EthernetTypeIPv6):
		offset, err = d.decodeIPv6(data, offset, mp)
	case uint16(layers.EthernetTypeARP):
		mp.PacketLen = len(data)
		d.NumDecoded++
		return nil
	default:
		mp.PacketLen = len(data)
		d.NumDecoded++
		return nil
	}

	if err != nil {
		d.NumErrors++
		return err
	}

	mp.PacketLen = len(data)
	d.NumDecoded++

	return nil
}

func (d *Decoder) decodeIPv4(data []byte, offset int, mp *MetaPacket) (int, error) {
	if len(data) < offset+ipv4MinHeaderLen {
		return offset, errors.Wrap(ErrTruncated, "ipv4 header")
	}

	ihl := int(data[offset]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || len(data) < offset+ihl {
		return offset, errors.Wrap(ErrTruncated, "ipv4 options")
	}

	totalLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
	flagsFrag := binary.BigEndian.Uint16(data[offset+6 : offset+8])
	mp.IsFragment = flagsFrag&0x1fff != 0 || flagsFrag&0x2000 != 0

	mp.TTL = data[offset+8]
	proto := data[offset+9]

	mp.LookupKey.IPSrc = append([]byte(nil), data[offset+12:offset+16]...)
	mp.LookupKey.IPDst = append([]byte(nil), data[offset+16:offset+20]...)
	mp.HeaderType = HeaderTypeIPv4

	l4Offset := offset + ihl
	l4Len := totalLen - ihl
	if l4Len < 0 || offset+totalLen > len(data) {
		l4Len = len(data) - l4Offset
	}

	return d.decodeL4(data, l4Offset, l4Len, proto, mp)
}

func (d *Decoder) decodeIPv6(data []byte, offset int, mp *MetaPacket) (int, error) {
	if len(data) < offset+ipv6HeaderLen {
		return offset, errors.Wrap(ErrTruncated, "ipv6 header")
	}

	payloadLen := int(binary.BigEndian.Uint16(data[offset+4 : offset+6]))
	nextHeader := data[offset+6]

	mp.LookupKey.IsIPv6 = true
	mp.LookupKey.IPSrc = append([]byte(nil), data[offset+8:offset+24]...)
	mp.LookupKey.IPDst = append([]byte(nil), data[offset+24:offset+40]...)
	mp.HeaderType = HeaderTypeIPv6

	l4Offset := offset + ipv6HeaderLen

	// Walk extension headers (hop-by-hop, routing, fragment, dest-opts)
	// until we reach a protocol we parse as L4.
	for {
		switch nextHeader {
		case byte(layers.IPProtocolIPv6HopByHop), byte(layers.IPProtocolIPv6Routing),
			byte(layers.IPProtocolIPv6Destination):
			if len(data) < l4Offset+2 {
				return l4Offset, errors.Wrap(ErrTruncated, "ipv6 extension header")
			}
			extLen := (int(data[l4Offset+1]) + 1) * 8
			nextHeader = data[l4Offset]
			l4Offset += extLen
			continue
		case byte(layers.IPProtocolIPv6Fragment):
			if len(data) < l4Offset+8 {
				return l4Offset, errors.Wrap(ErrTruncated, "ipv6 fragment header")
			}
			mp.IsFragment = true
			nextHeader = data[l4Offset]
			l4Offset += 8
			continue
		}

		break
	}

	l4Len := payloadLen - (l4Offset - offset - ipv6HeaderLen)
	if l4Len < 0 || l4Offset+l4Len > len(data) {
		l4Len = len(data) - l4Offset
	}

	return d.decodeL4(data, l4Offset, l4Len, nextHeader, mp)
}

func (d *Decoder) decodeL4(data []byte, offset, length int, proto byte, mp *MetaPacket) (int, error) {
	if length < 0 {
		length = 0
	}
	if offset > len(data) {
		offset = len(data)
	}
	if offset+length > len(data) {
		length = len(data) - offset
	}

	switch layers.IPProtocol(proto) {
	case layers.IPProtocolTCP:
		return d.decodeTCP(data, offset, length, mp)
	case layers.IPProtocolUDP:
		return d.decodeUDP(data, offset, length, mp)
	case layers.IPProtocolICMPv4:
		mp.HeaderType = HeaderTypeICMPv4
		mp.LookupKey.Proto = types.L4ProtocolUnknown
		mp.L4PayloadOffset, mp.L4PayloadLen = offset, length
		return offset, nil
	case layers.IPProtocolICMPv6:
		mp.HeaderType = HeaderTypeICMPv6
		mp.LookupKey.Proto = types.L4ProtocolUnknown
		mp.L4PayloadOffset, mp.L4PayloadLen = offset, length
		return offset, nil
	default:
		mp.NPBIgnoreL4 = true
		mp.L4PayloadOffset, mp.L4PayloadLen = offset, length
		return offset, nil
	}
}

func (d *Decoder) decodeTCP(data []byte, offset, length int, mp *MetaPacket) (int, error) {
	if length < tcpMinHeaderLen {
		return offset, errors.Wrap(ErrTruncated, "tcp header")
	}

	mp.LookupKey.PortSrc = binary.BigEndian.Uint16(data[offset : offset+2])
	mp.LookupKey.PortDst = binary.BigEndian.Uint16(data[offset+2 : offset+4])
	mp.LookupKey.Proto = types.L4ProtocolTCP
	mp.HeaderType = HeaderTypeTCP

	dataOffset := int(data[offset+12]>>4) * 4
	if dataOffset < tcpMinHeaderLen || dataOffset > length {
		return offset, errors.Wrap(ErrTruncated, "tcp data offset")
	}

	mp.TCP.SeqNum = binary.BigEndian.Uint32(data[offset+4 : offset+8])
	mp.TCP.AckNum = binary.BigEndian.Uint32(data[offset+8 : offset+12])
	mp.TCP.DataOffset = uint8(dataOffset)
	mp.TCP.Flags = data[offset+13]
	mp.TCP.WindowSize = binary.BigEndian.Uint16(data[offset+14 : offset+16])

	parseTCPOptions(data[offset+tcpMinHeaderLen:offset+dataOffset], &mp.TCP)

	mp.L4PayloadOffset = offset + dataOffset
	mp.L4PayloadLen = length - dataOffset
	if mp.L4PayloadLen < 0 {
		mp.L4PayloadLen = 0
	}

	return offset + dataOffset, nil
}

// parseTCPOptions walks the TCP options area looking only for the
// timestamp option (kind 8) and records it in h; every other option is
// skipped.
func parseTCPOptions(opts []byte, h *TCPHeader) {
	i := 0
	for i < len(opts) {
		kind := opts[i]
		switch kind {
		case 0: // end of options
			return
		case 1: // no-op
			i++
			continue
		}

		if i+1 >= len(opts) {
			return
		}

		optLen := int(opts[i+1])
		if optLen < 2 || i+optLen > len(opts) {
			return
		}

		if kind == 8 && optLen == 10 {
			h.HasTimestamp = true
			h.TSVal = binary.BigEndian.Uint32(opts[i+2 : i+6])
			h.TSEcr = binary.BigEndian.Uint32(opts[i+6 : i+10])
		}

		i += optLen
	}
}

func (d *Decoder) decodeUDP(data []byte, offset, length int, mp *MetaPacket) (int, error) {
	if length < udpHeaderLen {
		return offset, errors.Wrap(ErrTruncated, "udp header")
	}

	mp.LookupKey.PortSrc = binary.BigEndian.Uint16(data[offset : offset+2])
	mp.LookupKey.PortDst = binary.BigEndian.Uint16(data[offset+2 : offset+4])
	mp.LookupKey.Proto = types.L4ProtocolUDP
	mp.HeaderType = HeaderTypeUDP

	mp.L4PayloadOffset = offset + udpHeaderLen
	mp.L4PayloadLen = length - udpHeaderLen
	if mp.L4PayloadLen < 0 {
		mp.L4PayloadLen = 0
	}

	return offset + udpHeaderLen, nil
}

func macToUint64(mac []byte) uint64 {
	var v uint64
	for _, b := range mac {
		v = v<<8 | uint64(b)
	}

	return v
}
