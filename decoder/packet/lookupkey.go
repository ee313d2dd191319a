package packet

import (
	"net"

	"github.com/cyh01/deepflow/types"
)

// LookupKey is the minimal addressing tuple extracted from a packet's
// headers, used to find or create the flow table entry a packet belongs
// to before any protocol-specific parsing happens.
type LookupKey struct {
	MACSrc, MACDst uint64
	IPSrc, IPDst   net.IP
	IsIPv6         bool
	PortSrc        uint16
	PortDst        uint16
	Proto          types.L4Protocol
	Vlan           uint16
	EthType        uint16
	TapPort        uint64
}

// FastHash returns a cheap, order-sensitive identity for the 5-tuple,
// used as the flow table's map key before any direction normalization.
func (k *LookupKey) FastHash() uint64 {
	h := uint64(k.Proto)
	h = h*1099511628211 ^ uint64(k.PortSrc)<<16 ^ uint64(k.PortDst)
	for _, b := range k.IPSrc {
		h = h*1099511628211 ^ uint64(b)
	}
	for _, b := range k.IPDst {
		h = h*1099511628211 ^ uint64(b)
	}

	return h
}

// Reversed reports whether src/dst would need to be swapped for this key
// to match the canonical (lower-address-first) orientation used as the
// flow table's bucket key — so that a->b and b->a packets land in the
// same bucket regardless of capture order.
func (k *LookupKey) Reversed() bool {
	cmp := compareIP(k.IPSrc, k.IPDst)
	if cmp == 0 {
		return k.PortSrc > k.PortDst
	}

	return cmp > 0
}

func compareIP(a, b net.IP) int {
	a16, b16 := a.To16(), b.To16()
	for i := range a16 {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}

			return 1
		}
	}

	return 0
}
