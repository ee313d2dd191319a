package l7

import "github.com/cyh01/deepflow/types"

// Bitmap is a per-flow live candidate set of L7 protocols still worth
// attempting. It is seeded with every registered parser and narrows as
// parsers decisively reject a payload, grounded on the teacher's
// per-packet DPI result cache (decoder/ipProfile.go's
// dpi.GetProtocols(i.Packet) loop), generalized from "DPI tags candidate
// protocols per packet" into "each flow keeps a live, shrinking
// candidate set across its lifetime."
type Bitmap uint32

// NewBitmap returns a bitmap with every protocol registered in reg set.
func NewBitmap(reg *Registry) Bitmap {
	var b Bitmap
	for _, p := range reg.All() {
		b = b.Set(p.Protocol())
	}

	return b
}

// Set marks proto as still a candidate.
func (b Bitmap) Set(proto types.L7Protocol) Bitmap {
	return b | (1 << bitmapShift(proto))
}

// Clear permanently demotes proto for this flow.
func (b Bitmap) Clear(proto types.L7Protocol) Bitmap {
	return b &^ (1 << bitmapShift(proto))
}

// Has reports whether proto is still a live candidate.
func (b Bitmap) Has(proto types.L7Protocol) bool {
	return b&(1<<bitmapShift(proto)) != 0
}

// Empty reports whether every candidate has been eliminated, meaning
// the flow should stop being offered to any L7 parser.
func (b Bitmap) Empty() bool {
	return b == 0
}

// bitmapShift maps DNS, MQTT, MySQL and Redis to bits 0-3 and the
// HTTP1/HTTP2/Dubbo/Kafka stubs to bits 4-7; any other protocol shares
// bit 31, so Set/Clear/Has never panic.
func bitmapShift(proto types.L7Protocol) uint {
	switch proto {
	case types.L7ProtocolDNS:
		return 0
	case types.L7ProtocolMQTT:
		return 1
	case types.L7ProtocolMySQL:
		return 2
	case types.L7ProtocolRedis:
		return 3
	case types.L7ProtocolHTTP1:
		return 4
	case types.L7ProtocolHTTP2:
		return 5
	case types.L7ProtocolDubbo:
		return 6
	case types.L7ProtocolKafka:
		return 7
	default:
		return 31
	}
}
