package types

import "net"

// FlowKey is the five-tuple (plus tap metadata) that identifies a flow.
// Field numbers are stable for wire compatibility with existing audit
// record consumers; never renumber an existing field.
type FlowKey struct {
	VtapID     uint16 `protobuf:"varint,1,opt,name=vtap_id" json:"vtap_id"`
	TapType    TapType `protobuf:"varint,2,opt,name=tap_type" json:"tap_type"`
	TapPort    uint64 `protobuf:"fixed64,3,opt,name=tap_port" json:"tap_port"`
	MACSrc     uint64 `protobuf:"varint,4,opt,name=mac_src" json:"mac_src"`
	MACDst     uint64 `protobuf:"varint,5,opt,name=mac_dst" json:"mac_dst"`
	IPSrc      net.IP `protobuf:"bytes,6,opt,name=ip_src" json:"ip_src"`
	IPDst      net.IP `protobuf:"bytes,7,opt,name=ip_dst" json:"ip_dst"`
	PortSrc    uint16 `protobuf:"varint,8,opt,name=port_src" json:"port_src"`
	PortDst    uint16 `protobuf:"varint,9,opt,name=port_dst" json:"port_dst"`
	Proto      L4Protocol `protobuf:"varint,10,opt,name=proto" json:"proto"`
}

// Reverse swaps the source/destination view of the key, used when a
// flow's initial direction guess turns out to be wrong.
func (k *FlowKey) Reverse() {
	k.MACSrc, k.MACDst = k.MACDst, k.MACSrc
	k.IPSrc, k.IPDst = k.IPDst, k.IPSrc
	k.PortSrc, k.PortDst = k.PortDst, k.PortSrc
}

func (k FlowKey) String() string {
	return k.IPSrc.String() + ":" + itoa(uint64(k.PortSrc)) + "->" +
		k.IPDst.String() + ":" + itoa(uint64(k.PortDst)) + "/" + k.Proto.String()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}

	var buf [20]byte

	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}

	return string(buf[i:])
}
